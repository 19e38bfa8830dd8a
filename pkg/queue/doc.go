/*
Package queue provides a durable, transactional, PostgreSQL-backed message
queue: enqueue, consume-with-retry, dead-letter on exhaustion, and exactly
the guarantees a single Postgres row lock can give you.

# Queue

Create a queue bound to one table/channel pair, ensuring its schema exists:

	q, err := queue.New(ctx, pool, "emails",
		queue.WithVisibilityTimeout(time.Minute),
		queue.WithDefaultMaxRetries(5),
	)
	if err != nil {
		panic(err)
	}

# Producing

Enqueue inserts a PENDING message and wakes any listening consumer:

	id, err := q.Enqueue(ctx, "send-welcome", map[string]any{"to": "user@example.com"},
		queue.WithPriority(1),
	)

WithTransaction ties an enqueue to the caller's own transactional work, so
the message only becomes visible if that work commits:

	err = q.WithTransaction(ctx, func(ctx context.Context, tx *queue.TxContext) error {
		if err := tx.Query(ctx, "UPDATE accounts SET welcomed = true WHERE id = 42"); err != nil {
			return err
		}
		_, err := tx.Enqueue(ctx, "send-welcome", payload)
		return err
	})

# Consuming

Register one handler per message type, then start the consumption loop:

	q.RegisterHandler("send-welcome", func(ctx context.Context, msg *queue.Message) error {
		return sendWelcomeEmail(msg.Payload)
	})

	err = q.Start(ctx, queue.WithConcurrency(4))
	defer q.Stop(context.Background())

A handler's nil return acks the message; any other return nacks it, which
schedules a backoff retry or moves it to DEAD_LETTER once max_retries is
exhausted.

# Inspecting and maintaining

	stats, err := q.Stats(ctx)
	dead, _, err := q.FindByStatus(ctx, queue.DeadLetter)
	n, err := q.CleanupCompleted(ctx, 7*24*time.Hour)

# Observability

Subscribe to lifecycle events, or register the queue as a Prometheus
collector:

	unsubscribe := q.Observe(func(ev queue.Event) { log.Println(ev.Kind) })
	prometheus.MustRegister(q)
*/
package queue
