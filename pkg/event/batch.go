package event

import (
	"fmt"

	"github.com/graphloom/backend/pkg/common"
)

// Stats tallies the events contained in a batch. It is recomputed on every
// Add, so it always equals a count of the contained events by kind.
type Stats struct {
	Nodes         int `json:"nodes"`
	Edges         int `json:"edges"`
	Assertions    int `json:"assertions"`
	EvidenceLinks int `json:"evidence_links"`
}

// Batch is the unit of atomicity for a single commit: an ordered sequence of
// graph events plus running stats. A batch is built in memory, consumed by the
// dual write, and discarded; the stores are the durable record.
//
// Add rejects events that reference a canonical ID the batch has not seen as
// an UpsertNodeEvent and that was not declared pre-existing via AllowExisting.
// Building that mapping is the caller's job (see the commit pipeline).
type Batch struct {
	ExtractionRunID string
	TenantID        string
	WorkspaceID     string
	SourceType      common.SourceType
	SourceID        string

	events   []Event
	stats    Stats
	known    map[string]struct{}
	existing map[string]struct{}
}

// NewBatch creates an empty batch for one commit operation.
func NewBatch(tenantID, workspaceID, extractionRunID string, sourceType common.SourceType, sourceID string) *Batch {
	return &Batch{
		ExtractionRunID: extractionRunID,
		TenantID:        tenantID,
		WorkspaceID:     workspaceID,
		SourceType:      sourceType,
		SourceID:        sourceID,
		known:           make(map[string]struct{}),
		existing:        make(map[string]struct{}),
	}
}

// AllowExisting declares canonical IDs already present in the store, so edge
// and assertion events may reference them without a node event in this batch.
func (b *Batch) AllowExisting(canonicalIDs ...string) {
	for _, id := range canonicalIDs {
		b.existing[id] = struct{}{}
	}
}

// Add appends an event and updates the stats. It returns an error for events
// referencing canonical IDs unknown to the batch.
func (b *Batch) Add(e Event) error {
	switch ev := e.(type) {
	case UpsertNodeEvent:
		if ev.CanonicalID == "" {
			return fmt.Errorf("node event has empty canonical ID")
		}
		b.known[ev.CanonicalID] = struct{}{}
		b.stats.Nodes++
	case UpsertEdgeEvent:
		if err := b.requireKnown(ev.FromCanonicalID); err != nil {
			return fmt.Errorf("edge %s: %w", ev.RelationshipType, err)
		}
		if err := b.requireKnown(ev.ToCanonicalID); err != nil {
			return fmt.Errorf("edge %s: %w", ev.RelationshipType, err)
		}
		b.stats.Edges++
	case UpsertAssertionEvent:
		if err := b.requireKnown(ev.Assertion.SubjectCanonicalID); err != nil {
			return fmt.Errorf("assertion %s: %w", ev.Assertion.AssertionID, err)
		}
		if err := b.requireKnown(ev.Assertion.ObjectCanonicalID); err != nil {
			return fmt.Errorf("assertion %s: %w", ev.Assertion.AssertionID, err)
		}
		b.known[ev.Assertion.AssertionID] = struct{}{}
		b.stats.Assertions++
	case EvidenceLinkEvent:
		if err := b.requireKnown(ev.Evidence.TargetID); err != nil {
			return fmt.Errorf("evidence link: %w", err)
		}
		b.stats.EvidenceLinks++
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind())
	}

	b.events = append(b.events, e)
	return nil
}

func (b *Batch) requireKnown(canonicalID string) error {
	if canonicalID == "" {
		return fmt.Errorf("empty canonical ID")
	}
	if _, ok := b.known[canonicalID]; ok {
		return nil
	}
	if _, ok := b.existing[canonicalID]; ok {
		return nil
	}
	return fmt.Errorf("canonical ID %s not produced by this batch and not declared existing", canonicalID)
}

// Events returns the ordered events of the batch.
func (b *Batch) Events() []Event {
	return b.events
}

// Stats returns the current event tally.
func (b *Batch) Stats() Stats {
	return b.stats
}

// Meta builds the shared event metadata for this batch.
func (b *Batch) Meta() Metadata {
	return Metadata{
		TenantID:        b.TenantID,
		WorkspaceID:     b.WorkspaceID,
		ExtractionRunID: b.ExtractionRunID,
		SourceType:      b.SourceType,
		SourceID:        b.SourceID,
	}
}
