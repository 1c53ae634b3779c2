// Package validator checks ingestion requests against the index column
// layout and size limits, reporting every failing field at once.
package validator

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/ingestion"
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

// Validator knows the column names and the document size limit.
type Validator struct {
	columns  []string
	maxBytes int
}

func New(columns []string, maxBytes int) *Validator {
	return &Validator{columns: columns, maxBytes: maxBytes}
}

// Document validates req and returns its fields in column order. requireID
// is set for POST, where the docid comes from the body.
func (v *Validator) Document(req *ingestion.DocumentRequest, requireID bool) ([]string, error) {
	errs := make(map[string]string)
	if requireID && req.DocID == nil {
		errs["doc_id"] = "doc_id is required"
	}
	if len(req.Fields) == 0 {
		errs["fields"] = "at least one field is required"
	}

	columns := make([]string, len(v.columns))
	total, empty := 0, true
	for name, text := range req.Fields {
		i := slices.Index(v.columns, name)
		if i < 0 {
			errs["fields."+name] = fmt.Sprintf("unknown column, expected one of %s", strings.Join(v.columns, ", "))
			continue
		}
		columns[i] = text
		total += len(text)
		if strings.TrimSpace(text) != "" {
			empty = false
		}
	}
	if len(req.Fields) > 0 && empty && len(errs) == 0 {
		errs["fields"] = "all fields are blank"
	}
	if v.maxBytes > 0 && total > v.maxBytes {
		errs["fields"] = fmt.Sprintf("document is %d bytes, limit is %d", total, v.maxBytes)
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Fields: errs}
	}
	return columns, nil
}
