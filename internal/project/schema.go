// Package project maps change records onto sink-specific shapes: positional
// rows for the tabular sink and structured messages for the event sink.
package project

// Column declares one positional output column of a schema. Name is the
// record attribute to read; the pseudo-attributes "id" and "changed_at"
// read the record's identity fields.
type Column struct {
	Name string

	// Required marks attributes whose absence is a data defect rather than
	// an empty cell.
	Required bool
}

// Schema is the versioned projection contract for one source. Column order
// is the sink's positional column order and must never change within a
// version.
type Schema struct {
	Source  string
	Version int
	Columns []Column

	// Title and Color shape the event-sink message for records of this
	// source.
	Title string
	Color int
}

// Discord-style embed colors.
const (
	colorGreen = 0x2ecc71
	colorBlue  = 0x3498db
	colorGrey  = 0x95a5a6
)

var builtins = map[string]Schema{
	"goals": {
		Source:  "goals",
		Version: 1,
		Title:   "Goal updated",
		Color:   colorGreen,
		Columns: []Column{
			{Name: "id", Required: true},
			{Name: "changed_at", Required: true},
			{Name: "student_id", Required: true},
			{Name: "title", Required: true},
			{Name: "status"},
			{Name: "due_date"},
		},
	},
	"reflections": {
		Source:  "reflections",
		Version: 1,
		Title:   "Reflection submitted",
		Color:   colorBlue,
		Columns: []Column{
			{Name: "id", Required: true},
			{Name: "changed_at", Required: true},
			{Name: "student_id", Required: true},
			{Name: "week", Required: true},
			{Name: "mood"},
			{Name: "content"},
		},
	},
	"logins": {
		Source:  "logins",
		Version: 1,
		Title:   "Student login",
		Color:   colorGrey,
		Columns: []Column{
			{Name: "id", Required: true},
			{Name: "changed_at", Required: true},
			{Name: "student_id", Required: true},
			{Name: "platform"},
		},
	},
}

// Builtin returns the registered schema for a source key.
func Builtin(source string) (Schema, bool) {
	s, ok := builtins[source]
	return s, ok
}

// Sources returns the keys of all registered schemas.
func Sources() []string {
	keys := make([]string, 0, len(builtins))
	for k := range builtins {
		keys = append(keys, k)
	}
	return keys
}
