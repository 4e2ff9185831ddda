package domain

import "time"

// Order selects the sort direction for history reads. Newest first is the
// default; ascending order is what temporal replay uses.
type Order int

const (
	OrderDescending Order = iota
	OrderAscending
)

// Transition narrows a history query to records where one field moved from
// an exact before value to an exact after value. Values are compared
// post-redaction, so hash-policy transitions match by digest equality.
type Transition struct {
	Field  string
	Before any
	After  any
}

// HistoryQuery describes one read against the version store. Zero-value
// criteria are ignored, so filters compose freely.
type HistoryQuery struct {
	Entity     *EntityRef
	EntityType string
	ActorID    string
	Field      string
	From       *time.Time
	To         *time.Time
	Transition *Transition
	Order      Order
	Limit      int
}
