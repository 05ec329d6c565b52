package project

import (
	"fmt"
	"time"

	"github.com/brightpath-labs/mentorsync/pkg/core"
)

// Project maps one record to the schema's positional row. It is pure: no
// I/O, and the only failure mode is a malformed record. Missing optional
// attributes become explicit empty cells so the column count stays stable;
// a missing required attribute returns an error and the caller skips the
// record.
func Project(schema Schema, rec core.ChangeRecord) (core.ProjectedRow, error) {
	row := make(core.ProjectedRow, 0, len(schema.Columns))
	for _, col := range schema.Columns {
		v, ok := lookup(col.Name, rec)
		if !ok {
			if col.Required {
				return nil, fmt.Errorf("record %s: missing required attribute %q", rec.ID, col.Name)
			}
			v = ""
		}
		row = append(row, v)
	}
	return row, nil
}

// MessageFor builds the event-sink notification for one projected record.
// Identity columns and empty cells are left out of the field list.
func MessageFor(schema Schema, rec core.ChangeRecord, row core.ProjectedRow) core.Message {
	fields := make([]core.MessageField, 0, len(schema.Columns))
	for i, col := range schema.Columns {
		if col.Name == "id" || col.Name == "changed_at" {
			continue
		}
		if i >= len(row) || row[i] == "" {
			continue
		}
		fields = append(fields, core.MessageField{Name: col.Name, Value: row[i], Inline: true})
	}
	return core.Message{
		Title:     schema.Title,
		Fields:    fields,
		Color:     schema.Color,
		Timestamp: rec.ChangedAt,
	}
}

func lookup(name string, rec core.ChangeRecord) (string, bool) {
	switch name {
	case "id":
		return rec.ID, rec.ID != ""
	case "changed_at":
		if rec.ChangedAt.IsZero() {
			return "", false
		}
		return rec.ChangedAt.UTC().Format(time.RFC3339), true
	}

	v, ok := rec.Attrs[name]
	if !ok || v == nil {
		return "", false
	}
	s := stringify(v)
	return s, s != ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
