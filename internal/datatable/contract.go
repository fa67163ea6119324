package datatable

// FilterFieldType tells clients which widget renders a filter.
type FilterFieldType string

const (
	FieldText      FilterFieldType = "text"
	FieldSelect    FilterFieldType = "select"
	FieldDateRange FilterFieldType = "date_range"
	FieldNumber    FilterFieldType = "number"
	FieldBoolean   FilterFieldType = "boolean"
)

// FilterOption is one choice of a select filter.
type FilterOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// FilterField describes one filter control. Date ranges carry two keys:
// FilterKey for the lower bound and ToKey for the upper bound.
type FilterField struct {
	Field       string          `json:"field"`
	FilterKey   string          `json:"filter_key"`
	ToKey       string          `json:"filter_key_to,omitempty"`
	Type        FilterFieldType `json:"type"`
	Label       string          `json:"label"`
	Placeholder string          `json:"placeholder,omitempty"`
	Description string          `json:"description,omitempty"`
	Options     []FilterOption  `json:"options,omitempty"`
}

// Keys lists the parameter keys this field accepts.
func (f FilterField) Keys() []string {
	if f.ToKey != "" {
		return []string{f.FilterKey, f.ToKey}
	}
	return []string{f.FilterKey}
}

func (f FilterField) allows(value string) bool {
	if len(f.Options) == 0 {
		return true
	}
	for _, o := range f.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// ScopedContract is the typed request side of a record type: how its listing and
// email-export requests become a generic Input, and where email exports go.
type ScopedContract[Q, E any] interface {
	ScopeKey() string
	QueryToInput(req Q) Input
	EmailToInput(req E) Input
	EmailRecipients(req E) []string
	EmailSubject(req E) string
	ExportFileName(req E) string
	IncludeMeta(req Q) bool
	FilterRows() [][]FilterField
}
