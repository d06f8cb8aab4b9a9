package features

import (
	"fmt"
	"time"

	"security-risk-lab/internal/domain"
)

// Temporal column names, in vector order.
var temporalColumns = []string{
	"hour",
	"day_of_week",
	"day_of_month",
	"month",
	"quarter",
	"year",
	"minute_norm",
	"second_norm",
	"is_business_hours",
	"is_weekend",
}

// Behavioral column names, in vector order.
var (
	userColumns = []string{"user_event_count", "user_distinct_event_types", "user_distinct_ips"}
	ipColumns   = []string{"ip_event_count", "ip_distinct_ports", "ip_mean_port"}
)

const (
	temporalMissingColumn   = "temporal_missing"
	behavioralMissingColumn = "behavioral_missing"
)

// temporalValues derives the raw temporal columns of t in its own zone.
// Day of week counts from Monday = 0.
func temporalValues(t time.Time) []float64 {
	hour := t.Hour()
	dow := (int(t.Weekday()) + 6) % 7
	month := int(t.Month())

	out := []float64{
		float64(hour),
		float64(dow),
		float64(t.Day()),
		float64(month),
		float64((month-1)/3 + 1),
		float64(t.Year()),
		float64(t.Minute()) / 60,
		float64(t.Second()) / 3600,
		0,
		0,
	}
	if hour >= 9 && hour < 17 {
		out[8] = 1
	}
	if dow >= 5 {
		out[9] = 1
	}
	return out
}

// prepared caches per-record parsing shared by fit and transform.
type prepared struct {
	records []domain.RawEvent
	times   []time.Time
	hasTime []bool
}

func prepare(records []domain.RawEvent, stage string) (*prepared, error) {
	if len(records) == 0 {
		return nil, domain.NewEmptyBatchError(stage)
	}
	p := &prepared{
		records: records,
		times:   make([]time.Time, len(records)),
		hasTime: make([]bool, len(records)),
	}
	for i := range records {
		ts := records[i].Timestamp
		if ts == "" {
			continue
		}
		t, err := domain.ParseTimestamp(ts)
		if err != nil {
			e := domain.NewValidationError(domain.FieldTimestamp, "%v", err)
			e.Stage = fmt.Sprintf("%s record %d", stage, i)
			return nil, e
		}
		p.times[i] = t
		p.hasTime[i] = true
	}
	return p, nil
}

// behaviorStats holds batch-local aggregates per grouping key.
type behaviorStats struct {
	users map[string]*userAgg
	ips   map[string]*ipAgg
}

type userAgg struct {
	count      int
	eventTypes map[string]struct{}
	ips        map[string]struct{}
}

type ipAgg struct {
	count   int
	ports   map[int]struct{}
	portSum float64
	portN   int
}

// userIP is the address attributed to a user event: ip_address, else source_ip.
func userIP(e *domain.RawEvent) string {
	if e.IPAddress != "" {
		return e.IPAddress
	}
	return e.SourceIP
}

func computeBehavior(records []domain.RawEvent) *behaviorStats {
	b := &behaviorStats{
		users: make(map[string]*userAgg),
		ips:   make(map[string]*ipAgg),
	}
	for i := range records {
		e := &records[i]
		if e.UserID != "" {
			u, ok := b.users[e.UserID]
			if !ok {
				u = &userAgg{eventTypes: make(map[string]struct{}), ips: make(map[string]struct{})}
				b.users[e.UserID] = u
			}
			u.count++
			if e.EventType != "" {
				u.eventTypes[e.EventType] = struct{}{}
			}
			if ip := userIP(e); ip != "" {
				u.ips[ip] = struct{}{}
			}
		}
		if e.IPAddress != "" {
			a, ok := b.ips[e.IPAddress]
			if !ok {
				a = &ipAgg{ports: make(map[int]struct{})}
				b.ips[e.IPAddress] = a
			}
			a.count++
			if e.Port != nil {
				a.ports[*e.Port] = struct{}{}
				a.portSum += float64(*e.Port)
				a.portN++
			}
		}
	}
	return b
}

func (b *behaviorStats) userValues(e *domain.RawEvent) []float64 {
	u, ok := b.users[e.UserID]
	if e.UserID == "" || !ok {
		return []float64{0, 0, 0}
	}
	return []float64{float64(u.count), float64(len(u.eventTypes)), float64(len(u.ips))}
}

func (b *behaviorStats) ipValues(e *domain.RawEvent) []float64 {
	a, ok := b.ips[e.IPAddress]
	if e.IPAddress == "" || !ok {
		return []float64{0, 0, 0}
	}
	mean := 0.0
	if a.portN > 0 {
		mean = a.portSum / float64(a.portN)
	}
	return []float64{float64(a.count), float64(len(a.ports)), mean}
}
