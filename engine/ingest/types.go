package ingest

import "github.com/kbchat-ai/kbchat/engine/domain"

// Report summarises one ingestion batch. Added plus duplicates always equals
// the number of submitted records.
type Report struct {
	AddedCount     int `json:"addedCount"`
	DuplicateCount int `json:"duplicateCount"`
}

// partitioned is the dedup stage output: candidates not yet stored, plus the
// duplicate count.
type partitioned struct {
	fresh []domain.Document
	dupes int
}

// embedded pairs the fresh documents with their vectors.
type embedded struct {
	partitioned
	vectors [][]float32
}
