package hub

import (
	"testing"
	"time"
)

const sampleWeekHTML = `
<div id="data-browser">
<table>
<tbody>
<tr id="activity_100234"
    data-type="1002"
    data-start="2026-03-02T06:30:00Z"
    data-duration-ms="3600000"
    data-calories="650.4"
    data-distance-m="10500"
    data-avg-hr="155"><td>Morning Run</td></tr>
<tr id="activity_100235"
    data-type="11007"
    data-start="2026-03-03T17:00:00Z"
    data-duration-ms="5400000"
    data-calories="820"
    data-distance-m="32000"
    data-avg-hr="142"><td>Evening Ride</td></tr>
<tr id="summary_week"><td>Totals</td></tr>
</tbody>
</table>
</div>`

func TestParseActivities(t *testing.T) {
	activities, err := parseActivities([]byte(sampleWeekHTML))
	if err != nil {
		t.Fatalf("parseActivities() error = %v", err)
	}
	if len(activities) != 2 {
		t.Fatalf("got %d activities, want 2", len(activities))
	}

	run := activities[0]
	if run.UUID != uuidForHubID("100234") {
		t.Errorf("UUID = %q, want deterministic UUID for hub ID 100234", run.UUID)
	}
	if run.TypeCode != 1002 {
		t.Errorf("TypeCode = %d, want 1002", run.TypeCode)
	}
	wantStart := time.Date(2026, 3, 2, 6, 30, 0, 0, time.UTC)
	if !run.StartTime.Equal(wantStart) {
		t.Errorf("StartTime = %v, want %v", run.StartTime, wantStart)
	}
	if run.DurationMillis != 3600000 {
		t.Errorf("DurationMillis = %d, want 3600000", run.DurationMillis)
	}
	if run.Calories != 650.4 {
		t.Errorf("Calories = %v, want 650.4", run.Calories)
	}
	if run.DistanceMeters != 10500 {
		t.Errorf("DistanceMeters = %v, want 10500", run.DistanceMeters)
	}
	if run.AvgHeartRate != 155 {
		t.Errorf("AvgHeartRate = %d, want 155", run.AvgHeartRate)
	}

	if activities[1].TypeCode != 11007 {
		t.Errorf("second row TypeCode = %d, want 11007", activities[1].TypeCode)
	}
}

func TestParseActivities_OptionalFieldsMissing(t *testing.T) {
	html := `<tr id="activity_7"
	    data-type="1001"
	    data-start="2026-03-02T08:00:00Z"
	    data-duration-ms="1800000"></tr>`

	activities, err := parseActivities([]byte(html))
	if err != nil {
		t.Fatalf("parseActivities() error = %v", err)
	}
	if len(activities) != 1 {
		t.Fatalf("got %d activities, want 1", len(activities))
	}
	a := activities[0]
	if a.Calories != 0 || a.DistanceMeters != 0 || a.AvgHeartRate != 0 {
		t.Errorf("optional fields should default to zero, got %+v", a)
	}
}

func TestParseActivities_MalformedRow(t *testing.T) {
	tests := []struct {
		name string
		html string
	}{
		{
			"missing start",
			`<tr id="activity_8" data-type="1002" data-duration-ms="60000"></tr>`,
		},
		{
			"bad duration",
			`<tr id="activity_9" data-start="2026-03-02T08:00:00Z" data-duration-ms="soon"></tr>`,
		},
		{
			"bad start",
			`<tr id="activity_10" data-start="yesterday" data-duration-ms="60000"></tr>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseActivities([]byte(tt.html)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParseActivities_EmptyWeek(t *testing.T) {
	activities, err := parseActivities([]byte(`<div id="data-browser"><table></table></div>`))
	if err != nil {
		t.Fatalf("empty week should not be an error, got %v", err)
	}
	if len(activities) != 0 {
		t.Errorf("got %d activities, want 0", len(activities))
	}
}

func TestFindActivityIDs(t *testing.T) {
	html := `<tr id="activity_111"></tr><tr id="activity_222"></tr><tr id="activity_111"></tr>`
	ids := findActivityIDs([]byte(html))
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2 (deduplicated)", len(ids))
	}
	if ids[0] != "111" || ids[1] != "222" {
		t.Errorf("ids = %v, want [111 222]", ids)
	}
}

func TestActivitiesFromIDs(t *testing.T) {
	activities := activitiesFromIDs([]string{"111", "222"})
	if len(activities) != 2 {
		t.Fatalf("got %d activities, want 2", len(activities))
	}
	for i, a := range activities {
		if a.UUID == "" {
			t.Errorf("activity %d has no UUID", i)
		}
		// No duration survives the bare-ID fallback; downstream counts these
		// as dropped rather than storing empty workouts.
		if a.DurationMillis != 0 {
			t.Errorf("activity %d DurationMillis = %d, want 0", i, a.DurationMillis)
		}
	}
	if activities[0].UUID != uuidForHubID("111") {
		t.Errorf("UUID = %q, want deterministic UUID for hub ID 111", activities[0].UUID)
	}
}

func TestUUIDForHubID_Deterministic(t *testing.T) {
	a := uuidForHubID("100234")
	b := uuidForHubID("100234")
	if a != b {
		t.Errorf("same hub ID must map to same UUID, got %q and %q", a, b)
	}
	if uuidForHubID("100235") == a {
		t.Error("different hub IDs must map to different UUIDs")
	}
}

func TestActivityIDFromRowID(t *testing.T) {
	tests := []struct {
		rowID string
		want  string
	}{
		{"activity_123", "123"},
		{"activity_", ""},
		{"activity_abc", ""},
		{"summary_week", ""},
	}
	for _, tt := range tests {
		if got := activityIDFromRowID(tt.rowID); got != tt.want {
			t.Errorf("activityIDFromRowID(%q) = %q, want %q", tt.rowID, got, tt.want)
		}
	}
}
