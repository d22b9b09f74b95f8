package feed

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statuswatch/internal/status"
)

func TestParseOrdersFieldsChronologically(t *testing.T) {
	t.Parallel()
	// Upstream delivers updates newest-first.
	payload := []byte(`{
		"incidents": [{
			"id": "inc-1",
			"name": "API errors",
			"status": "monitoring",
			"impact": "major",
			"shortlink": "https://stspg.io/abc",
			"created_at": "2024-05-01T10:00:00Z",
			"updated_at": "2024-05-01T12:00:00Z",
			"incident_updates": [
				{"id": "u3", "status": "monitoring", "body": "A fix is in place.", "created_at": "2024-05-01T12:00:00Z"},
				{"id": "u1", "status": "investigating", "body": "We are looking into it.", "created_at": "2024-05-01T10:00:00Z"},
				{"id": "u2", "status": "identified", "body": "Root cause found.", "created_at": "2024-05-01T11:00:00Z"}
			]
		}]
	}`)

	incidents, err := StatuspageParser{}.Parse(payload, status.KindIncidents)
	require.NoError(t, err)
	require.Len(t, incidents, 1)

	inc := incidents[0]
	assert.Equal(t, "inc-1", inc.ID)
	assert.Equal(t, "API errors", inc.Title)
	assert.Equal(t, "https://stspg.io/abc", inc.Link)
	assert.Contains(t, inc.Description, "Impact: Major")

	require.Len(t, inc.Fields, 3)
	assert.Equal(t, []string{"u1", "u2", "u3"}, fieldIDs(inc.Fields))
	assert.True(t, strings.HasPrefix(inc.Fields[0].Name, "Investigating - "))
	assert.True(t, strings.HasPrefix(inc.Fields[2].Name, "Monitoring - "))

	// ActualUpdateTime follows the newest field, not updated_at.
	assert.Equal(t, inc.Fields[2].UpdateID, "u3")
	assert.Equal(t, "2024-05-01 12:00:00 +0000 UTC", inc.ActualUpdateTime.UTC().String())
}

func TestParseDropsIncidentsWithoutUpdates(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"incidents": [
		{"id": "empty", "name": "No updates", "incident_updates": []},
		{"id": "ok", "name": "Has one", "incident_updates": [
			{"id": "u1", "status": "resolved", "body": "Done.", "created_at": "2024-05-01T10:00:00Z"}
		]}
	]}`)

	incidents, err := StatuspageParser{}.Parse(payload, status.KindIncidents)
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, "ok", incidents[0].ID)
	assert.NotEmpty(t, incidents[0].Fields)
}

func TestParseScheduledMaintenanceWindow(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"scheduled_maintenances": [{
		"id": "mt-1",
		"name": "Database upgrade",
		"status": "scheduled",
		"impact": "maintenance",
		"scheduled_for": "2024-06-01T02:00:00Z",
		"scheduled_until": "2024-06-01T04:00:00Z",
		"incident_updates": [
			{"id": "m1", "status": "scheduled", "body": "Planned downtime.", "created_at": "2024-05-20T10:00:00Z"}
		]
	}]}`)

	incidents, err := StatuspageParser{}.Parse(payload, status.KindScheduled)
	require.NoError(t, err)
	require.Len(t, incidents, 1)

	inc := incidents[0]
	assert.Contains(t, inc.Description, "Scheduled for: Jun 01, 2024 02:00 UTC")
	assert.Contains(t, inc.Description, "until Jun 01, 2024 04:00 UTC")
	assert.False(t, inc.ScheduledFor.IsZero())
	assert.False(t, inc.ScheduledUntil.IsZero())
}

func TestParseMalformedPayload(t *testing.T) {
	t.Parallel()
	_, err := StatuspageParser{}.Parse([]byte(`<html>not json</html>`), status.KindIncidents)
	require.Error(t, err)
}

func TestSplitField(t *testing.T) {
	t.Parallel()

	t.Run("at limit stays whole", func(t *testing.T) {
		v := strings.Repeat("x", status.FieldLimit)
		fields := splitField("Resolved - now", v, "u1")
		require.Len(t, fields, 1)
		assert.Equal(t, v, fields[0].Value)
	})

	t.Run("one over produces exactly two", func(t *testing.T) {
		v := strings.Repeat("x", status.FieldLimit+1)
		fields := splitField("Resolved - now", v, "u1")
		require.Len(t, fields, 2)
		assert.Equal(t, "Resolved - now", fields[0].Name)
		assert.Equal(t, "Resolved - now (continued)", fields[1].Name)
	})

	t.Run("no text lost and IDs shared", func(t *testing.T) {
		var b strings.Builder
		for i := 0; i < 3000; i++ {
			fmt.Fprintf(&b, "%d,", i)
		}
		v := b.String()
		fields := splitField("Update - now", v, "u9")

		var joined strings.Builder
		for _, f := range fields {
			assert.Equal(t, "u9", f.UpdateID)
			assert.LessOrEqual(t, len([]rune(f.Value)), status.FieldLimit)
			joined.WriteString(f.Value)
		}
		assert.Equal(t, v, joined.String())
	})

	t.Run("multibyte runes split without corruption", func(t *testing.T) {
		v := strings.Repeat("日", status.FieldLimit+10)
		fields := splitField("Update - now", v, "u2")
		require.Len(t, fields, 2)
		assert.Equal(t, v, fields[0].Value+fields[1].Value)
	})
}

func fieldIDs(fields []status.UpdateField) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.UpdateID
	}
	return out
}
