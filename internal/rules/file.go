package rules

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"campaign-autopilot/internal/campaign"
)

// File is a rule set plus sample snapshots, used for offline dry runs.
type File struct {
	Rules     []Rule         `yaml:"rules"`
	Campaigns []SnapshotSpec `yaml:"campaigns"`
}

// SnapshotSpec is the hand-written form of a campaign snapshot.
type SnapshotSpec struct {
	ID       string  `yaml:"id"`
	Name     string  `yaml:"name"`
	Status   string  `yaml:"status"`
	Spend    float64 `yaml:"spend"`
	Revenue  float64 `yaml:"revenue"`
	Degraded string  `yaml:"degraded"`
}

func (s SnapshotSpec) Snapshot() campaign.Snapshot {
	src, match := campaign.RevenueNone, campaign.MatchNone
	if s.Revenue > 0 {
		src, match = campaign.RevenueAttribution, campaign.MatchID
	}
	return campaign.Snapshot{
		ID:            s.ID,
		Name:          s.Name,
		Status:        campaign.ParseStatus(s.Status),
		Spend:         s.Spend,
		Revenue:       s.Revenue,
		RevenueSource: src,
		Match:         match,
		Degraded:      s.Degraded,
	}
}

// LoadFile reads a YAML rule file from path.
func LoadFile(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open rule file %s: %w", path, err)
	}
	defer f.Close()
	return DecodeFile(f)
}

// DecodeFile parses and validates a YAML rule file. Rules without an id
// get one derived from their position.
func DecodeFile(r io.Reader) (File, error) {
	var out File
	if err := yaml.NewDecoder(r).Decode(&out); err != nil {
		return File{}, fmt.Errorf("decode rule file: %w", err)
	}
	for i := range out.Rules {
		rule := &out.Rules[i]
		if rule.ID == "" {
			rule.ID = fmt.Sprintf("rule_%d", i+1)
		}
		rule.Normalize()
		if err := rule.Validate(); err != nil {
			return File{}, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
	}
	return out, nil
}
