package model

import "github.com/oklog/ulid/v2"

// NewID generates a ULID string for runs, batches and agents. ULIDs sort by
// creation time, which keeps batch ids roughly aligned with sequence order.
func NewID() string {
	return ulid.Make().String()
}
