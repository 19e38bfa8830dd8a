package pg

import "fmt"

////////////////////////////////////////////////////////////////////////////////
// TYPES

// OffsetLimit is embedded in list request types to provide pagination.
// Limit is a pointer so "not set" (use the caller's default) is
// distinguishable from "zero".
type OffsetLimit struct {
	Offset uint64  `json:"offset,omitempty"`
	Limit  *uint64 `json:"limit,omitempty"`
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Bind sets the "offsetlimit" bind variable to an "OFFSET n LIMIT m" clause,
// using defaultLimit when Limit is unset.
func (o OffsetLimit) Bind(bind *Bind, defaultLimit uint64) {
	limit := defaultLimit
	if o.Limit != nil {
		limit = *o.Limit
	}
	bind.Set("offsetlimit", fmt.Sprintf("OFFSET %d LIMIT %d", o.Offset, limit))
}
