package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/ingestion"
)

func id(n int64) *int64 { return &n }

func TestDocumentOrdersColumns(t *testing.T) {
	v := New([]string{"title", "body"}, 1024)
	cols, err := v.Document(&ingestion.DocumentRequest{
		DocID:  id(1),
		Fields: map[string]string{"body": "the quick fox", "title": "Foxes"},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Foxes", "the quick fox"}, cols)

	cols, err = v.Document(&ingestion.DocumentRequest{Fields: map[string]string{"body": "x"}}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "x"}, cols)
}

func TestDocumentErrors(t *testing.T) {
	v := New([]string{"title", "body"}, 10)
	tests := []struct {
		name   string
		req    ingestion.DocumentRequest
		fields []string
	}{
		{"missing id and fields", ingestion.DocumentRequest{}, []string{"doc_id", "fields"}},
		{"unknown column", ingestion.DocumentRequest{DocID: id(1), Fields: map[string]string{"author": "x"}}, []string{"fields.author"}},
		{"blank", ingestion.DocumentRequest{DocID: id(1), Fields: map[string]string{"body": "  "}}, []string{"fields"}},
		{"too large", ingestion.DocumentRequest{DocID: id(1), Fields: map[string]string{"body": strings.Repeat("a", 11)}}, []string{"fields"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Document(&tt.req, true)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			for _, f := range tt.fields {
				assert.Contains(t, ve.Fields, f)
			}
			assert.Len(t, ve.Fields, len(tt.fields))
		})
	}
}

func TestValidationErrorIsSorted(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"b": "two", "a": "one"}}
	assert.Equal(t, "a: one; b: two", err.Error())
}
