// Package tracking turns SPX tracking payloads into events and decides when a
// shipment has something new to report.
package tracking

import (
	"sort"
	"strconv"
	"strings"

	"github.com/BearBump/TrackBot/internal/models"
	"github.com/goccy/go-json"
)

const (
	DefaultRecent = 8
	MaxRecent     = 20
)

type rawRecord map[string]json.RawMessage

type rawPayload struct {
	Data *struct {
		Info *struct {
			ShipmentID json.RawMessage `json:"sls_tn"`
			Records    json.RawMessage `json:"records"`
		} `json:"sls_tracking_info"`
	} `json:"data"`
}

// Parse extracts the shipment id and the deduplicated events from a raw payload.
func Parse(payload []byte) (string, []models.TrackingEvent, error) {
	var p rawPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", nil, models.Malformed("decode payload", err)
	}
	if p.Data == nil || p.Data.Info == nil {
		return "", nil, models.Malformed("missing data.sls_tracking_info", nil)
	}

	var records []rawRecord
	if len(p.Data.Info.Records) > 0 && string(p.Data.Info.Records) != "null" {
		if err := json.Unmarshal(p.Data.Info.Records, &records); err != nil {
			return "", nil, models.Malformed("records is not a list", err)
		}
	}
	if len(records) == 0 {
		return "", nil, models.Malformed("no records in response", nil)
	}

	events := make([]models.TrackingEvent, 0, len(records))
	for i, r := range records {
		ev, err := toEvent(r)
		if err != nil {
			return "", nil, models.Malformed("record "+strconv.Itoa(i), err)
		}
		events = append(events, ev)
	}

	return textOf(p.Data.Info.ShipmentID), Dedupe(events), nil
}

func toEvent(r rawRecord) (models.TrackingEvent, error) {
	ts, err := epochOf(r["actual_time"])
	if err != nil {
		return models.TrackingEvent{}, err
	}
	return models.TrackingEvent{
		EventCode:        r.str("tracking_code"),
		Timestamp:        ts,
		MilestoneCode:    optIntOf(r["milestone_code"]),
		MilestoneName:    r.str("milestone_name"),
		TrackingName:     r.str("tracking_name"),
		Description:      r.str("description"),
		BuyerDescription: r.str("buyer_description"),
		CurrentLocation:  r.str("current_location", "full_address"),
		NextLocation:     r.str("next_location", "full_address"),
	}, nil
}

// str walks nested objects; anything missing or of the wrong shape yields "".
func (r rawRecord) str(path ...string) string {
	cur := r
	for i, k := range path {
		v, ok := cur[k]
		if !ok {
			return ""
		}
		if i == len(path)-1 {
			return textOf(v)
		}
		var next rawRecord
		if json.Unmarshal(v, &next) != nil {
			return ""
		}
		cur = next
	}
	return ""
}

func textOf(v json.RawMessage) string {
	s := strings.TrimSpace(string(v))
	if s == "" || s == "null" {
		return ""
	}
	if s[0] == '"' {
		var out string
		if json.Unmarshal(v, &out) != nil {
			return ""
		}
		return strings.TrimSpace(out)
	}
	return s
}

func epochOf(v json.RawMessage) (int64, error) {
	s := textOf(v)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || (len(v) > 0 && v[0] == '"') {
			return 0, models.Malformed("actual_time is not an integer", err)
		}
		n = int64(f)
	}
	if n < 0 {
		return 0, models.Malformed("actual_time is negative", nil)
	}
	return n, nil
}

func optIntOf(v json.RawMessage) *int {
	s := textOf(v)
	if s == "" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return &n
	}
	if len(v) > 0 && v[0] != '"' {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			n := int(f)
			return &n
		}
	}
	return nil
}

// Richness counts the populated descriptive fields of an event.
func Richness(ev models.TrackingEvent) int {
	n := 0
	for _, s := range []string{ev.Description, ev.BuyerDescription, ev.CurrentLocation, ev.NextLocation} {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}

type eventKey struct {
	code string
	ts   int64
}

// Dedupe keeps one event per (event code, timestamp). The richest record wins,
// ties go to the record seen last. Output keeps first-appearance order of keys.
func Dedupe(events []models.TrackingEvent) []models.TrackingEvent {
	idx := make(map[eventKey]int, len(events))
	out := make([]models.TrackingEvent, 0, len(events))
	for _, ev := range events {
		k := eventKey{code: ev.EventCode, ts: ev.Timestamp}
		i, ok := idx[k]
		if !ok {
			idx[k] = len(out)
			out = append(out, ev)
			continue
		}
		if Richness(ev) >= Richness(out[i]) {
			out[i] = ev
		}
	}
	return out
}

// PickLatest returns the event with the greatest timestamp. Which of several
// events sharing that timestamp is returned is not defined.
func PickLatest(events []models.TrackingEvent) (models.TrackingEvent, bool) {
	if len(events) == 0 {
		return models.TrackingEvent{}, false
	}
	best := events[0]
	for _, ev := range events[1:] {
		if ev.Timestamp > best.Timestamp {
			best = ev
		}
	}
	return best, true
}

// PickRecent returns up to n events, newest first. n is clamped to [1, MaxRecent].
func PickRecent(events []models.TrackingEvent, n int) []models.TrackingEvent {
	n = ClampRecent(n)
	out := append([]models.TrackingEvent(nil), events...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func ClampRecent(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxRecent {
		return MaxRecent
	}
	return n
}
