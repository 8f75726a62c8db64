// Package progress defines the event structures emitted while a harvest runs.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageYearStart      Stage = "YEAR_START"
	StageYearDone       Stage = "YEAR_DONE"
	StageYearError      Stage = "YEAR_ERROR"
	StageFetchDone      Stage = "FETCH_DONE"
	StageRecordAccepted Stage = "RECORD_ACCEPTED"
	StageRecordRejected Stage = "RECORD_REJECTED"
)

// Outcome reports whether s closes out a year or the whole run. The Hub
// delivers these without waiting for a batch to fill.
func (s Stage) Outcome() bool {
	switch s {
	case StageYearDone, StageYearError, StageRunDone:
		return true
	}
	return false
}

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusCache StatusClass = "cache"
	StatusOther StatusClass = "other"
)

// Event captures a single component of harvest progress.
type Event struct {
	// RunID uniquely identifies a harvest run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle, fetch or record milestone occurred.
	Stage Stage
	// Year scopes year, fetch and record events.
	Year int
	// Site optionally labels fetch events with the remote host.
	Site string
	// URL is the optional page URL.
	URL string
	// Bytes carries the response size for fetches.
	Bytes int64
	// Records carries accepted record totals on YEAR_DONE and RUN_DONE.
	Records int64
	// Errors carries failed fetch totals on YEAR_DONE.
	Errors int64
	// StatusClass groups HTTP response codes (2xx, 3xx, etc).
	StatusClass StatusClass
	// Dur captures latency for fetches and wall time for years and runs.
	Dur time.Duration
	// Outcome is the terminal status on YEAR_DONE, YEAR_ERROR and RUN_DONE.
	Outcome Outcome
	// Note lets emitters attach low-volume context (rejection reason, error text).
	Note string
}

// Outcome labels how a year or run ended.
type Outcome string

// Terminal outcomes.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageYearStart, StageYearDone, StageYearError, StageRecordAccepted, StageRecordRejected:
		if e.Year == 0 {
			return fmt.Errorf("%s requires year", e.Stage)
		}
	case StageFetchDone:
		if e.Year == 0 {
			return errors.New("fetch done requires year")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID converts a textual run ID into the Event form. Unparseable IDs
// yield the zero value, which Validate rejects.
func ParseRunID(id string) [16]byte {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return [16]byte{}
	}
	return UUIDToBytes(parsed)
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
