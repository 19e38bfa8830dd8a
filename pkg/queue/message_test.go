package queue

import (
	"errors"
	"testing"

	// Packages
	pg "github.com/systeric/pgqueue"
	uuid "github.com/google/uuid"
	assert "github.com/stretchr/testify/assert"
)

////////////////////////////////////////////////////////////////////////////////
// messageMeta.Insert VALIDATION

func Test_MessageMeta_Insert(t *testing.T) {
	assert := assert.New(t)

	t.Run("ValidMessage", func(t *testing.T) {
		bind := pg.NewBind()
		meta := messageMeta{Id: uuid.New(), Type: "send-email", Payload: map[string]any{"to": "a@b.com"}, Priority: 5, MaxRetries: 3}
		query, err := meta.Insert(bind)
		assert.NoError(err)
		assert.Contains(query, "INSERT INTO")
		assert.Equal("send-email", bind.Get("type"))
	})

	t.Run("EmptyType", func(t *testing.T) {
		bind := pg.NewBind()
		meta := messageMeta{Id: uuid.New(), Type: "", Priority: 5, MaxRetries: 3}
		_, err := meta.Insert(bind)
		assert.ErrorIs(err, ErrValidation)
	})

	t.Run("PriorityOutOfRange", func(t *testing.T) {
		bind := pg.NewBind()
		meta := messageMeta{Id: uuid.New(), Type: "t", Priority: 11, MaxRetries: 3}
		_, err := meta.Insert(bind)
		assert.ErrorIs(err, ErrValidation)
	})

	t.Run("ZeroMaxRetries", func(t *testing.T) {
		bind := pg.NewBind()
		meta := messageMeta{Id: uuid.New(), Type: "t", Priority: 5, MaxRetries: 0}
		_, err := meta.Insert(bind)
		assert.ErrorIs(err, ErrValidation)
	})

	t.Run("UnmarshalablePayload", func(t *testing.T) {
		bind := pg.NewBind()
		meta := messageMeta{Id: uuid.New(), Type: "t", Priority: 5, MaxRetries: 3, Payload: make(chan int)}
		_, err := meta.Insert(bind)
		assert.ErrorIs(err, ErrValidation)
	})
}

func Test_MessageMeta_Update_NotImplemented(t *testing.T) {
	assert := assert.New(t)
	var meta messageMeta
	assert.ErrorIs(meta.Update(pg.NewBind()), pg.ErrNotImplemented)
}

////////////////////////////////////////////////////////////////////////////////
// SELECTOR OPERATION GUARDS

func Test_MessageSelectors_RejectWrongOp(t *testing.T) {
	assert := assert.New(t)
	id := messageId(uuid.New())

	_, err := id.Select(pg.NewBind(), pg.Update)
	assert.True(errors.Is(err, pg.ErrNotImplemented))

	ack := messageAck(uuid.New())
	_, err = ack.Select(pg.NewBind(), pg.Get)
	assert.True(errors.Is(err, pg.ErrNotImplemented))

	retry := messageRetry(uuid.New())
	_, err = retry.Select(pg.NewBind(), pg.Delete)
	assert.True(errors.Is(err, pg.ErrNotImplemented))

	nack := messageNack{Id: uuid.New(), Cause: "boom"}
	_, err = nack.Select(pg.NewBind(), pg.Get)
	assert.True(errors.Is(err, pg.ErrNotImplemented))
}

func Test_MessageAck_Select(t *testing.T) {
	assert := assert.New(t)
	id := uuid.New()
	bind := pg.NewBind()
	query, err := messageAck(id).Select(bind, pg.Update)
	assert.NoError(err)
	assert.Contains(query, "UPDATE")
	assert.Equal(id, bind.Get("id"))
}

////////////////////////////////////////////////////////////////////////////////
// messageFind VALIDATION AND DEFAULTS

func Test_MessageFind_Select(t *testing.T) {
	assert := assert.New(t)

	t.Run("Defaults", func(t *testing.T) {
		bind := pg.NewBind()
		f := messageFind{Status: Pending}
		query, err := f.Select(bind, pg.List)
		assert.NoError(err)
		assert.Contains(query, "ORDER BY")
		assert.Equal("created_at", bind.Get("orderby"))
		assert.Equal("ASC", bind.Get("order"))
	})

	t.Run("InvalidStatus", func(t *testing.T) {
		bind := pg.NewBind()
		f := messageFind{Status: "BOGUS"}
		_, err := f.Select(bind, pg.List)
		assert.ErrorIs(err, ErrValidation)
	})

	t.Run("InvalidOrderBy", func(t *testing.T) {
		bind := pg.NewBind()
		f := messageFind{Status: Pending, OrderBy: "'; DROP TABLE x;--"}
		_, err := f.Select(bind, pg.List)
		assert.ErrorIs(err, ErrValidation)
	})

	t.Run("InvalidOrder", func(t *testing.T) {
		bind := pg.NewBind()
		f := messageFind{Status: Pending, Order: "SIDEWAYS"}
		_, err := f.Select(bind, pg.List)
		assert.ErrorIs(err, ErrValidation)
	})

	t.Run("CaseInsensitiveOrder", func(t *testing.T) {
		bind := pg.NewBind()
		f := messageFind{Status: Pending, Order: "desc"}
		_, err := f.Select(bind, pg.List)
		assert.NoError(err)
		assert.Equal("DESC", bind.Get("order"))
	})

	t.Run("WrongOp", func(t *testing.T) {
		bind := pg.NewBind()
		f := messageFind{Status: Pending}
		_, err := f.Select(bind, pg.Get)
		assert.ErrorIs(err, pg.ErrNotImplemented)
	})
}

////////////////////////////////////////////////////////////////////////////////
// Status

func Test_Status_Valid(t *testing.T) {
	assert := assert.New(t)
	assert.True(Pending.valid())
	assert.True(Processing.valid())
	assert.True(Completed.valid())
	assert.True(Failed.valid())
	assert.True(DeadLetter.valid())
	assert.False(Status("BOGUS").valid())
}
