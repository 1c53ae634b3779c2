// Package ingestion defines the HTTP request bodies accepted by the
// ingestion service and the document events it publishes for the indexer.
package ingestion

import "time"

// Op is the change a DocumentEvent applies.
type Op string

const (
	OpInsert Op = "insert"
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// DocumentRequest is the JSON body of POST /documents and PUT
// /documents/{id}. Fields maps column names to their text; columns left out
// are stored empty.
type DocumentRequest struct {
	DocID  *int64            `json:"doc_id,omitempty"`
	Fields map[string]string `json:"fields"`
}

// DocumentResponse acknowledges an accepted change.
type DocumentResponse struct {
	DocID  int64  `json:"doc_id"`
	Op     Op     `json:"op"`
	Status string `json:"status"`
}

// DocumentEvent is the Kafka payload consumed by the indexer. Columns are in
// the index's column order and empty for deletes.
type DocumentEvent struct {
	Op         Op        `json:"op"`
	DocID      int64     `json:"doc_id"`
	Columns    []string  `json:"columns,omitempty"`
	IngestedAt time.Time `json:"ingested_at"`
}
