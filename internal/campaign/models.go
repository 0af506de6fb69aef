package campaign

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusPaused  Status = "PAUSED"
	StatusUnknown Status = "UNKNOWN"
)

// ParseStatus maps an upstream status string. Anything other than
// ACTIVE or PAUSED (ARCHIVED, DELETED, ...) is UNKNOWN.
func ParseStatus(s string) Status {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive
	case StatusPaused:
		return StatusPaused
	default:
		return StatusUnknown
	}
}

type RevenueSource string

const (
	RevenueAttribution RevenueSource = "attribution"
	RevenuePlatform    RevenueSource = "platform"
	RevenueNone        RevenueSource = "none"
)

// Match records how the attribution figure was tied to the campaign.
type Match string

const (
	MatchID   Match = "id"
	MatchName Match = "name"
	MatchNone Match = "none"
)

// SpendRecord is one campaign as reported by the ad platform.
type SpendRecord struct {
	ID        string
	Name      string
	Status    Status
	Objective string
	Spend     float64
}

// AttributionRecords is revenue from the attribution tracker, keyed both
// by campaign id and by campaign name.
type AttributionRecords struct {
	ByID   map[string]float64
	ByName map[string]float64
}

// PlatformRecords is the ad platform's own conversion tracking.
type PlatformRecords struct {
	Conversions map[string]int
	Revenue     map[string]float64
}

// Snapshot is one refresh cycle's reconciled metrics for a campaign.
type Snapshot struct {
	ID            string
	Name          string
	Status        Status
	Objective     string
	Spend         float64
	Revenue       float64
	RevenueSource RevenueSource
	Match         Match
	Conversions   int
	// Degraded is non-empty when the revenue figure cannot be trusted
	// because an upstream fetch failed.
	Degraded string
}

// CPA is spend per platform-reported conversion, +Inf without conversions.
func (s Snapshot) CPA() float64 {
	if s.Conversions <= 0 {
		return math.Inf(1)
	}
	return s.Spend / float64(s.Conversions)
}

func (s Snapshot) ROAS() float64 {
	if s.Spend <= 0 {
		return 0
	}
	return s.Revenue / s.Spend
}

func (s Snapshot) Profit() float64 { return s.Revenue - s.Spend }

func (s Snapshot) Matched() bool { return s.RevenueSource == RevenueAttribution }

func (s Snapshot) MarshalJSON() ([]byte, error) {
	var cpa *float64
	if c := s.CPA(); !math.IsInf(c, 1) {
		c = round2(c)
		cpa = &c
	}
	return json.Marshal(struct {
		ID            string        `json:"id"`
		Name          string        `json:"name"`
		Status        Status        `json:"status"`
		Objective     string        `json:"objective"`
		Spend         float64       `json:"spend"`
		Revenue       float64       `json:"revenue"`
		RevenueSource RevenueSource `json:"revenue_source"`
		Match         Match         `json:"match_type"`
		Conversions   int           `json:"conversions"`
		CPA           *float64      `json:"cpa"`
		ROAS          float64       `json:"roas"`
		Profit        float64       `json:"profit"`
		Degraded      string        `json:"degraded,omitempty"`
	}{
		ID:            s.ID,
		Name:          s.Name,
		Status:        s.Status,
		Objective:     s.Objective,
		Spend:         s.Spend,
		Revenue:       s.Revenue,
		RevenueSource: s.RevenueSource,
		Match:         s.Match,
		Conversions:   s.Conversions,
		CPA:           cpa,
		ROAS:          round2(s.ROAS()),
		Profit:        round2(s.Profit()),
		Degraded:      s.Degraded,
	})
}

// Batch is the result of one refresh: every campaign of the account plus
// the error state of the revenue fetches.
type Batch struct {
	Snapshots      []Snapshot
	Window         Window
	FetchedAt      time.Time
	AttributionErr error
	PlatformErr    error
}

// Degraded reports whether any revenue-dimension fetch failed.
func (b Batch) Degraded() bool { return b.AttributionErr != nil || b.PlatformErr != nil }

// Find returns the snapshot for id.
func (b Batch) Find(id string) (Snapshot, bool) {
	for _, s := range b.Snapshots {
		if s.ID == id {
			return s, true
		}
	}
	return Snapshot{}, false
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
