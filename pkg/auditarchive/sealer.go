package auditarchive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/astrid-sh/astrid-guard/pkg/auditlog"
)

// Querier is the narrow slice of *auditlog.Log the sealer needs, kept
// local so a fake log can exercise Sealer in tests without a KV store.
type Querier interface {
	Query(ctx context.Context, filter auditlog.Filter) ([]*auditlog.Entry, error)
}

// Exporter persists a sealed segment to cold storage.
type Exporter interface {
	Export(ctx context.Context, segment Segment) error
}

// Sealer watches the live audit chain and, once enough unsealed entries
// have accumulated, seals them into a Segment and hands it to an
// Exporter. It tracks how many entries have already been sealed rather
// than a timestamp watermark, since consecutive entries can share a
// timestamp and a Before-based cutoff would either skip or re-export
// a boundary entry.
type Sealer struct {
	mu          sync.Mutex
	log         Querier
	exporter    Exporter
	segmentSize int
	sealed      int
	clock       func() time.Time
}

// NewSealer builds a sealer that seals segmentSize entries at a time.
func NewSealer(log Querier, exporter Exporter, segmentSize int) *Sealer {
	return &Sealer{log: log, exporter: exporter, segmentSize: segmentSize, clock: time.Now}
}

// SealIfDue seals and exports the next segment if enough unsealed entries
// have accumulated. It returns (nil, nil) when there isn't yet a full
// segment's worth of new entries.
func (s *Sealer) SealIfDue(ctx context.Context) (*Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.log.Query(ctx, auditlog.Filter{})
	if err != nil {
		return nil, fmt.Errorf("auditarchive: query chain: %w", err)
	}
	pending := all[s.sealed:]
	if len(pending) < s.segmentSize {
		return nil, nil
	}
	batch := pending[:s.segmentSize]

	segment, err := buildSegment(batch, s.clock())
	if err != nil {
		return nil, fmt.Errorf("auditarchive: build segment: %w", err)
	}
	if err := s.exporter.Export(ctx, *segment); err != nil {
		return nil, fmt.Errorf("auditarchive: export segment: %w", err)
	}
	s.sealed += len(batch)
	return segment, nil
}

// Pending reports how many entries have accumulated since the last seal.
func (s *Sealer) Pending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.log.Query(ctx, auditlog.Filter{})
	if err != nil {
		return 0, err
	}
	return len(all) - s.sealed, nil
}
