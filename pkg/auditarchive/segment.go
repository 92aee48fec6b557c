// Package auditarchive seals closed ranges of the audit chain and exports
// them to cold object storage for later compliance review. Sealing only
// copies entries out: sealed entries stay in the live KV-backed log.
package auditarchive

import (
	"time"

	"github.com/astrid-sh/astrid-guard/pkg/auditlog"
	"github.com/google/uuid"
)

// Segment is an immutable, contiguous slice of the audit chain, sealed once
// it reaches the configured size. FinalHash is the content hash of its last
// entry, letting a later reader confirm a downloaded segment matches what
// was exported without re-fetching the live chain.
type Segment struct {
	ID           uuid.UUID        `json:"id"`
	SealedAt     time.Time        `json:"sealed_at"`
	FirstEntryID uuid.UUID        `json:"first_entry_id"`
	LastEntryID  uuid.UUID        `json:"last_entry_id"`
	FinalHash    string           `json:"final_hash"`
	Entries      []auditlog.Entry `json:"entries"`
}

func buildSegment(batch []*auditlog.Entry, sealedAt time.Time) (*Segment, error) {
	entries := make([]auditlog.Entry, len(batch))
	for i, e := range batch {
		entries[i] = *e
	}
	last := batch[len(batch)-1]
	finalHash, err := last.ContentHash()
	if err != nil {
		return nil, err
	}
	return &Segment{
		ID:           uuid.New(),
		SealedAt:     sealedAt,
		FirstEntryID: batch[0].ID,
		LastEntryID:  last.ID,
		FinalHash:    finalHash.String(),
		Entries:      entries,
	}, nil
}

// ObjectKey is the storage key a Segment is exported under, stable across
// backends so S3 and GCS layouts match.
func (s Segment) ObjectKey() string {
	return "segments/" + s.SealedAt.UTC().Format("2006/01/02") + "/" + s.ID.String() + ".json"
}
