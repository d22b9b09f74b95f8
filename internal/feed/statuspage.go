package feed

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"statuswatch/internal/status"
)

// StatuspageParser understands the JSON schema served by statuspage-hosted
// status pages (incidents.json / scheduled-maintenances.json).
type StatuspageParser struct{}

type spPage struct {
	Incidents    []spIncident `json:"incidents"`
	Maintenances []spIncident `json:"scheduled_maintenances"`
}

type spIncident struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	Impact         string     `json:"impact"`
	Shortlink      string     `json:"shortlink"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ScheduledFor   *time.Time `json:"scheduled_for"`
	ScheduledUntil *time.Time `json:"scheduled_until"`
	Updates        []spUpdate `json:"incident_updates"`
}

type spUpdate struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	Body      string     `json:"body"`
	CreatedAt time.Time  `json:"created_at"`
	DisplayAt *time.Time `json:"display_at"`
}

func (u spUpdate) when() time.Time {
	if u.DisplayAt != nil && !u.DisplayAt.IsZero() {
		return *u.DisplayAt
	}
	return u.CreatedAt
}

func (StatuspageParser) Parse(payload []byte, kind status.Kind) ([]status.Incident, error) {
	var page spPage
	if err := json.Unmarshal(payload, &page); err != nil {
		return nil, fmt.Errorf("statuspage payload: %w", err)
	}
	raw := page.Incidents
	if kind == status.KindScheduled {
		raw = page.Maintenances
	}

	out := make([]status.Incident, 0, len(raw))
	for _, in := range raw {
		inc, ok := normalize(in, kind)
		if !ok {
			continue
		}
		out = append(out, inc)
	}
	return out, nil
}

// normalize converts one upstream incident. Incidents with no updates are
// dropped: every canonical incident has at least one field.
func normalize(in spIncident, kind status.Kind) (status.Incident, bool) {
	if len(in.Updates) == 0 {
		return status.Incident{}, false
	}

	// Upstream lists updates newest-first and occasionally out of order.
	ups := append([]spUpdate(nil), in.Updates...)
	sort.SliceStable(ups, func(i, j int) bool { return ups[i].when().Before(ups[j].when()) })

	fields := make([]status.UpdateField, 0, len(ups))
	for _, u := range ups {
		name := fieldName(u.Status, u.when())
		fields = append(fields, splitField(name, u.Body, u.ID)...)
	}

	inc := status.Incident{
		ID:               in.ID,
		Title:            in.Name,
		Link:             in.Shortlink,
		Description:      description(in, kind),
		Fields:           fields,
		UpdatedAt:        in.UpdatedAt,
		ActualUpdateTime: ups[len(ups)-1].when(),
	}
	if in.ScheduledFor != nil {
		inc.ScheduledFor = *in.ScheduledFor
	}
	if in.ScheduledUntil != nil {
		inc.ScheduledUntil = *in.ScheduledUntil
	}
	return inc, true
}

func description(in spIncident, kind status.Kind) string {
	var parts []string
	if in.Impact != "" && in.Impact != "none" {
		parts = append(parts, "Impact: "+titleWord(in.Impact))
	}
	if kind == status.KindScheduled && in.ScheduledFor != nil {
		window := "Scheduled for: " + formatTime(*in.ScheduledFor)
		if in.ScheduledUntil != nil {
			window += " until " + formatTime(*in.ScheduledUntil)
		}
		parts = append(parts, window)
	}
	return strings.Join(parts, "\n")
}

func fieldName(statusWord string, at time.Time) string {
	return titleWord(statusWord) + " - " + formatTime(at)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("Jan 02, 2006 15:04 MST")
}

// titleWord uppercases the first rune and replaces underscores, turning
// upstream keywords like "in_progress" into "In progress".
func titleWord(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", " ")
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

// splitField breaks a body longer than status.FieldLimit runes into
// continuation fields. All pieces keep the original update ID so dedup
// still treats them as one logical update, and no text is lost.
func splitField(name, value, updateID string) []status.UpdateField {
	rs := []rune(value)
	if len(rs) <= status.FieldLimit {
		return []status.UpdateField{{Name: name, Value: value, UpdateID: updateID}}
	}

	out := make([]status.UpdateField, 0, (len(rs)+status.FieldLimit-1)/status.FieldLimit)
	for start := 0; start < len(rs); start += status.FieldLimit {
		end := start + status.FieldLimit
		if end > len(rs) {
			end = len(rs)
		}
		n := name
		if start > 0 {
			n = name + " (continued)"
		}
		out = append(out, status.UpdateField{Name: n, Value: string(rs[start:end]), UpdateID: updateID})
	}
	return out
}
