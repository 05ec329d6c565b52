package core

import "time"

// ChangeRecord is one row read from a record-store collection.
// ChangedAt is assigned by the record store on every create or update and is
// the sole ordering key for sync: it never decreases across updates to the
// same identifier.
type ChangeRecord struct {
	// ID is unique within the record's source collection.
	ID string

	// ChangedAt is the record's change-timestamp.
	ChangedAt time.Time

	// Attrs holds the remaining domain attributes, keyed by column name.
	Attrs map[string]any
}

// ProjectedRow is an ordered sequence of scalar fields derived from a
// ChangeRecord for one sink schema. Column count and order are stable across
// all rows of a schema so sinks can rely on positional columns.
type ProjectedRow []string

// MessageField is one labelled value inside an event-sink message.
type MessageField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Message is the structured payload accepted by the event sink.
type Message struct {
	Title     string
	Fields    []MessageField
	Color     int
	Timestamp time.Time
}
