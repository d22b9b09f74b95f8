package status

import (
	"errors"
	"strings"
	"time"
)

// Kind selects which upstream feed of a service to read.
type Kind string

const (
	KindIncidents Kind = "incidents"
	KindScheduled Kind = "scheduled"
)

// Endpoint returns the feed path for the kind, relative to a service base URL.
func (k Kind) Endpoint() string {
	if k == KindScheduled {
		return "/scheduled-maintenances.json"
	}
	return "/incidents.json"
}

// Mode is the per-destination delivery semantics.
type Mode string

const (
	// ModeAll posts a brand-new message with the full update history
	// every time an incident gains a new update.
	ModeAll Mode = "all"
	// ModeLatest posts a brand-new message containing only the new updates.
	ModeLatest Mode = "latest"
	// ModeEdit keeps one evolving message per incident, edited in place.
	ModeEdit Mode = "edit"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAll:
		return ModeAll, nil
	case ModeLatest:
		return ModeLatest, nil
	case ModeEdit:
		return ModeEdit, nil
	}
	return "", errors.New("unknown mode (want all, latest or edit)")
}

// FieldLimit is the maximum rendered size of a single update field, in runes.
// Longer bodies are split into continuation fields by the normalizer.
const FieldLimit = 1024

// UpdateField is one status transition of an incident.
type UpdateField struct {
	Name  string // status keyword + timestamp label
	Value string // body text, at most FieldLimit runes
	// UpdateID is the upstream update identifier and the dedup key.
	// Continuation fields produced by splitting share the original ID.
	UpdateID string
}

// Incident is the canonical form of one upstream incident or scheduled
// maintenance. Fields are ordered chronologically ascending and are never
// empty for a well-formed incident.
type Incident struct {
	ID          string
	Title       string
	Link        string
	Description string
	Fields      []UpdateField
	UpdatedAt   time.Time
	// ActualUpdateTime is the timestamp of the most recent field; upstream
	// sometimes bumps UpdatedAt without adding updates ("ghost updates").
	ActualUpdateTime time.Time

	// Maintenance window; zero for plain incidents.
	ScheduledFor   time.Time
	ScheduledUntil time.Time
}

// Update pairs an incident with the subset of its fields not yet delivered.
// NewFields is a non-empty subsequence of Incident.Fields in the same
// relative order; the pipeline never constructs an Update with no new fields.
type Update struct {
	Incident  Incident
	NewFields []UpdateField
}

// Parser turns a raw feed payload into canonical incidents. Each Service
// carries its Parser, so adding a service with a different upstream schema
// is a compile-checked variant rather than a string-keyed lookup.
type Parser interface {
	Parse(payload []byte, kind Kind) ([]Incident, error)
}

// Service is the static description of one watched status page.
// The catalog is loaded at startup and never mutated.
type Service struct {
	ID      string
	Name    string
	BaseURL string
	IconURL string
	Parser  Parser
	// Modes supported by this service's renderings. All built-ins support
	// every mode; the set exists for future feed types that cannot be edited
	// in place meaningfully.
	Modes []Mode
}

func (s Service) SupportsMode(m Mode) bool {
	for _, have := range s.Modes {
		if have == m {
			return true
		}
	}
	return false
}
