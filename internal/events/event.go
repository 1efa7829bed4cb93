// Package events provides the scrape lifecycle event primitives and a
// non-blocking hub that batches events on a background goroutine and fans
// them out to pluggable sinks.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the lifecycle milestone an Event represents.
type Stage string

// Supported scrape stages.
const (
	StageScrapeStart    Stage = "SCRAPE_START"
	StageScrapeDone     Stage = "SCRAPE_DONE"
	StageScrapeError    Stage = "SCRAPE_ERROR"
	StageCacheHit       Stage = "CACHE_HIT"
	StageTierEscalated  Stage = "TIER_ESCALATED"
	StageCircuitReject  Stage = "CIRCUIT_REJECTED"
	StageSearchStart    Stage = "SEARCH_START"
	StageSearchComplete Stage = "SEARCH_COMPLETE"
)

// Event captures one scrape lifecycle milestone.
type Event struct {
	// SearchID ties every per-source event to its multi-state search
	// run, in the 16-byte UUID form.
	SearchID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Source scopes per-source events to a registry label; empty for
	// search-level events.
	Source string
	// Tier is the access tier the event was produced at.
	Tier string
	// Entities is the number of records produced, for done stages.
	Entities int
	// Dur captures execution latency for done and error stages.
	Dur time.Duration
	// Note carries low-volume context such as error or escalation text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SearchID == [16]byte{} {
		return errors.New("search id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSearchStart, StageSearchComplete:
	case StageScrapeStart, StageScrapeDone, StageScrapeError,
		StageCacheHit, StageTierEscalated, StageCircuitReject:
		if e.Source == "" {
			return fmt.Errorf("stage %s requires a source", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// SearchUUID converts the binary search ID back to uuid.UUID.
func (e Event) SearchUUID() uuid.UUID {
	return uuid.UUID(e.SearchID)
}

// IDFromUUID encodes a uuid.UUID into the Event form.
func IDFromUUID(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
