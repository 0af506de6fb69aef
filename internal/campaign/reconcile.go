package campaign

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Inputs collects the three upstream record sets for one refresh. The
// spend set is mandatory; the revenue sets carry their fetch error so the
// reconciler can flag affected snapshots instead of reading zeros.
type Inputs struct {
	Spend          []SpendRecord
	Attribution    AttributionRecords
	AttributionErr error
	Platform       PlatformRecords
	PlatformErr    error
	Window         Window
	FetchedAt      time.Time
}

// Reconcile builds one snapshot per campaign in the spend set. It is a
// pure function of its inputs.
func Reconcile(in Inputs) Batch {
	out := make([]Snapshot, 0, len(in.Spend))
	for _, rec := range in.Spend {
		s := Snapshot{
			ID:          rec.ID,
			Name:        rec.Name,
			Status:      rec.Status,
			Objective:   rec.Objective,
			Spend:       nonNegative(rec.Spend),
			Conversions: max(0, in.Platform.Conversions[rec.ID]),
		}
		if s.Status == "" {
			s.Status = StatusUnknown
		}
		s.Revenue, s.RevenueSource, s.Match = pickRevenue(rec, in.Attribution, in.Platform)
		s.Degraded = degradedReason(s, in.AttributionErr, in.PlatformErr)
		out = append(out, s)
	}
	SortForDisplay(out)

	return Batch{
		Snapshots:      out,
		Window:         in.Window,
		FetchedAt:      in.FetchedAt,
		AttributionErr: in.AttributionErr,
		PlatformErr:    in.PlatformErr,
	}
}

// pickRevenue applies the fixed priority: attribution by id, attribution
// by name, platform revenue, none. Only positive figures count.
func pickRevenue(rec SpendRecord, attr AttributionRecords, plat PlatformRecords) (float64, RevenueSource, Match) {
	if v := attr.ByID[rec.ID]; v > 0 {
		return v, RevenueAttribution, MatchID
	}
	if v := attr.ByName[rec.Name]; v > 0 {
		return v, RevenueAttribution, MatchName
	}
	if v := plat.Revenue[rec.ID]; v > 0 {
		return v, RevenuePlatform, MatchNone
	}
	return 0, RevenueNone, MatchNone
}

// degradedReason decides whether a failed fetch could have changed this
// snapshot's revenue. A positive attribution figure outranks the platform
// figure, so a platform failure alone does not taint it.
func degradedReason(s Snapshot, attrErr, platErr error) string {
	if attrErr != nil {
		return fmt.Sprintf("attribution revenue unavailable: %v", attrErr)
	}
	if platErr != nil && s.RevenueSource != RevenueAttribution {
		return fmt.Sprintf("platform revenue unavailable: %v", platErr)
	}
	return ""
}

// SortForDisplay orders active before paused, matched before unmatched,
// then by name ignoring case. Ties fall back to id so the order is total.
func SortForDisplay(ss []Snapshot) {
	slices.SortStableFunc(ss, func(a, b Snapshot) int {
		if d := rank(a.Status == StatusActive) - rank(b.Status == StatusActive); d != 0 {
			return d
		}
		if d := rank(a.Matched()) - rank(b.Matched()); d != 0 {
			return d
		}
		if d := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); d != 0 {
			return d
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func rank(first bool) int {
	if first {
		return 0
	}
	return 1
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
