package campaign

import "math"

// Summary is the dashboard roll-up of a batch.
type Summary struct {
	Campaigns int     `json:"campaigns"`
	Active    int     `json:"active"`
	Matched   int     `json:"matched"`
	Spend     float64 `json:"spend"`
	Revenue   float64 `json:"revenue"`
	// ROAS is a percentage here, unlike Snapshot.ROAS.
	ROAS     float64 `json:"roas"`
	Degraded bool    `json:"degraded"`
}

func Summarize(b Batch) Summary {
	var s Summary
	for _, c := range b.Snapshots {
		s.Campaigns++
		if c.Status == StatusActive {
			s.Active++
		}
		if c.Matched() {
			s.Matched++
		}
		s.Spend += c.Spend
		s.Revenue += c.Revenue
	}
	if s.Spend > 0 {
		s.ROAS = round1(s.Revenue / s.Spend * 100)
	}
	s.Spend = round2(s.Spend)
	s.Revenue = round2(s.Revenue)
	s.Degraded = b.Degraded()
	return s
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
