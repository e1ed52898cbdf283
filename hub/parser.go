package hub

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/eikrem/healthsync/hs"
)

var activityIDRe = regexp.MustCompile(`id="activity_(\d+)"`)

// hubIDNamespace derives stable UUIDs from the hub's numeric activity IDs,
// so the same row always maps to the same workout across syncs.
var hubIDNamespace = uuid.MustParse("7f0f6c3a-2b68-4a43-9f1d-8f4bb6a3e021")

// parseActivities extracts activity rows from a data browser page.
//
// Each activity is a <tr id="activity_<id>"> carrying its fields as data
// attributes:
//
//	<tr id="activity_12345"
//	    data-type="1002"
//	    data-start="2026-03-02T06:30:00Z"
//	    data-duration-ms="3600000"
//	    data-calories="650.4"
//	    data-distance-m="10500"
//	    data-avg-hr="155">
func parseActivities(data []byte) ([]hs.Activity, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse data browser html: %w", err)
	}

	var activities []hs.Activity
	var parseErr error

	doc.Find(`tr[id^="activity_"]`).Each(func(i int, row *goquery.Selection) {
		if parseErr != nil {
			return
		}

		id, _ := row.Attr("id")
		a, err := parseActivityRow(id, row)
		if err != nil {
			parseErr = fmt.Errorf("row %s: %w", id, err)
			return
		}
		activities = append(activities, a)
	})

	if parseErr != nil {
		return nil, parseErr
	}
	if len(activities) == 0 {
		// Distinguish "empty week" from "markup we don't understand".
		if activityIDRe.Match(data) {
			return nil, fmt.Errorf("activity rows present but none parsed")
		}
	}
	return activities, nil
}

func parseActivityRow(rowID string, row *goquery.Selection) (hs.Activity, error) {
	var a hs.Activity

	numericID := activityIDFromRowID(rowID)
	if numericID == "" {
		return a, fmt.Errorf("malformed row id %q", rowID)
	}
	a.UUID = uuidForHubID(numericID)

	if v, ok := row.Attr("data-type"); ok {
		code, err := strconv.Atoi(v)
		if err != nil {
			return a, fmt.Errorf("bad data-type %q: %w", v, err)
		}
		a.TypeCode = code
	}

	startStr, ok := row.Attr("data-start")
	if !ok {
		return a, fmt.Errorf("missing data-start")
	}
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return a, fmt.Errorf("bad data-start %q: %w", startStr, err)
	}
	a.StartTime = start

	durStr, ok := row.Attr("data-duration-ms")
	if !ok {
		return a, fmt.Errorf("missing data-duration-ms")
	}
	dur, err := strconv.ParseInt(durStr, 10, 64)
	if err != nil {
		return a, fmt.Errorf("bad data-duration-ms %q: %w", durStr, err)
	}
	a.DurationMillis = dur

	if v, ok := row.Attr("data-calories"); ok && v != "" {
		cal, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return a, fmt.Errorf("bad data-calories %q: %w", v, err)
		}
		a.Calories = cal
	}

	if v, ok := row.Attr("data-distance-m"); ok && v != "" {
		dist, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return a, fmt.Errorf("bad data-distance-m %q: %w", v, err)
		}
		a.DistanceMeters = dist
	}

	if v, ok := row.Attr("data-avg-hr"); ok && v != "" {
		hr, err := strconv.Atoi(v)
		if err != nil {
			return a, fmt.Errorf("bad data-avg-hr %q: %w", v, err)
		}
		a.AvgHeartRate = hr
	}

	return a, nil
}

// activityIDFromRowID strips the "activity_" prefix and validates the rest is
// numeric.
func activityIDFromRowID(rowID string) string {
	const prefix = "activity_"
	if len(rowID) <= len(prefix) || rowID[:len(prefix)] != prefix {
		return ""
	}
	id := rowID[len(prefix):]
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return ""
	}
	return id
}

// uuidForHubID maps the hub's numeric activity ID to a stable UUID.
func uuidForHubID(id string) string {
	return uuid.NewSHA1(hubIDNamespace, []byte(id)).String()
}

// findActivityIDs scans raw page bytes for activity row IDs. Used as a
// fallback when the structured parse fails.
func findActivityIDs(data []byte) []string {
	matches := activityIDRe.FindAllSubmatch(data, -1)
	seen := make(map[string]struct{}, len(matches))
	var ids []string
	for _, m := range matches {
		id := string(m[1])
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// activitiesFromIDs builds minimal activity records from bare hub IDs. These
// carry no timestamp or duration so they are dropped by the transform, but
// they keep the fallback path exercised and logged rather than silent.
func activitiesFromIDs(ids []string) []hs.Activity {
	activities := make([]hs.Activity, 0, len(ids))
	for _, id := range ids {
		activities = append(activities, hs.Activity{UUID: uuidForHubID(id)})
	}
	return activities
}
