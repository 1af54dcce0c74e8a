// Package rules implements the signature detection engine: a hot-reloadable
// ordered rule set evaluated against windowed packet counts per flow.
package rules

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSeverity   = "medium"
	DefaultTimeWindow = 60 // seconds
)

// Conditions is the threshold condition of a single rule.
type Conditions struct {
	// Protocol filters the rule to one protocol ("TCP", "UDP", ...);
	// empty matches every protocol.
	Protocol        string `yaml:"protocol"`
	PacketThreshold uint64 `yaml:"packet_threshold"`
	TimeWindow      int    `yaml:"time_window"` // seconds, trailing
}

// Rule is one signature rule as loaded from the rule file. Rules are
// immutable once active; the whole set is replaced on reload.
type Rule struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Severity    string     `yaml:"severity"`
	Conditions  Conditions `yaml:"conditions"`
}

// Window returns the rule's trailing evaluation window.
func (r *Rule) Window() time.Duration {
	return time.Duration(r.Conditions.TimeWindow) * time.Second
}

// Load reads the ordered rule list from a YAML file and applies documented
// defaults to absent fields. A rule without a packet threshold cannot
// trigger and is rejected, so a typo never yields an always-firing rule.
func Load(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}

	var loaded []Rule
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule YAML: %w", err)
	}

	for i := range loaded {
		r := &loaded[i]
		if r.Name == "" {
			return nil, fmt.Errorf("rule %d: name is required", i)
		}
		if r.Conditions.PacketThreshold == 0 {
			return nil, fmt.Errorf("rule %q: conditions.packet_threshold is required", r.Name)
		}
		if r.ID == "" {
			r.ID = r.Name
		}
		if r.Severity == "" {
			r.Severity = DefaultSeverity
		}
		if r.Conditions.TimeWindow == 0 {
			r.Conditions.TimeWindow = DefaultTimeWindow
		}
	}
	return loaded, nil
}
