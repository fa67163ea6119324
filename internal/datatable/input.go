package datatable

import (
	"strings"

	pstrings "backoffice/pkg/platform/strings"
)

// SortDirection orders a sort column.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// ParseSortDirection defaults to ascending for anything but "desc".
func ParseSortDirection(s string) SortDirection {
	if strings.EqualFold(strings.TrimSpace(s), string(SortDesc)) {
		return SortDesc
	}
	return SortAsc
}

// Pagination is a 1-based page request.
type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// Sort names a contract-declared sortable field.
type Sort struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// Params maps filter keys to values. Keys are unique; order is irrelevant.
type Params map[string]string

// Set stores the trimmed value, dropping it when nothing is left.
func (p Params) Set(key, value string) {
	if v, ok := pstrings.TrimmedNonEmpty(value); ok {
		p[key] = v
	}
}

// SetPtr is Set for optional values.
func (p Params) SetPtr(key string, value *string) {
	if value != nil {
		p.Set(key, *value)
	}
}

// Input is the generic query description every contract converts its typed request into.
type Input struct {
	Pagination     Pagination `json:"pagination"`
	Sort           *Sort      `json:"sort,omitempty"`
	Params         Params     `json:"params"`
	IncludeMeta    bool       `json:"include_meta"`
	ExportFileName string     `json:"export_file_name,omitempty"`
}

// QueryRequestBase carries the paging and sorting fields shared by every listing request.
type QueryRequestBase struct {
	Page        int    `json:"page"`
	PerPage     int    `json:"per_page"`
	SortBy      string `json:"sort_by"`
	SortDir     string `json:"sort_dir"`
	IncludeMeta *bool  `json:"include_meta"`
}

// ToInput builds an Input with an empty parameter set.
func (b QueryRequestBase) ToInput() Input {
	in := Input{
		Pagination:  Pagination{Page: b.Page, PerPage: b.PerPage},
		Params:      Params{},
		IncludeMeta: b.IncludeMeta == nil || *b.IncludeMeta,
	}
	if field, ok := pstrings.TrimmedNonEmpty(b.SortBy); ok {
		in.Sort = &Sort{Field: field, Direction: ParseSortDirection(b.SortDir)}
	}
	return in
}

// EmailExportRequestBase carries the delivery fields shared by every email export request.
type EmailExportRequestBase struct {
	Query          QueryRequestBase `json:"query"`
	Recipients     []string         `json:"recipients"`
	Subject        string           `json:"subject"`
	ExportFileName string           `json:"export_file_name"`
}

// ToInput builds the filter-free Input for the export, carrying the file name.
func (b EmailExportRequestBase) ToInput() Input {
	in := b.Query.ToInput()
	in.ExportFileName = strings.TrimSpace(b.ExportFileName)
	return in
}
