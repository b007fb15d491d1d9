package domain

type FieldType string

const (
	FieldString FieldType = "STRING"
	FieldFloat  FieldType = "FLOAT"
)

type Field struct {
	Name     string
	Type     FieldType
	Required bool
	// Key asks stores that can enforce uniqueness to do so.
	Key bool
}

// Schema is an ordered list of columns.
type Schema []Field

func (s Schema) Names() []string {
	out := make([]string, 0, len(s))
	for _, f := range s {
		out = append(out, f.Name)
	}
	return out
}

func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

const (
	ColumnID        = "Id"
	ColumnReview    = "Review"
	ColumnLabel     = "Label"
	ColumnScore     = "Score"
	ColumnMagnitude = "Magnitude"
)

var FeedbackSchema = Schema{
	{Name: ColumnID, Type: FieldString, Required: true},
	{Name: ColumnReview, Type: FieldString, Required: true},
	{Name: ColumnLabel, Type: FieldString, Required: false},
}

var SentimentSchema = Schema{
	{Name: ColumnID, Type: FieldString, Required: true, Key: true},
	{Name: ColumnScore, Type: FieldFloat, Required: true},
	{Name: ColumnMagnitude, Type: FieldFloat, Required: true},
}
