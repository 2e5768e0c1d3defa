package normalize

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules configures the structured normalizer: which field labels make a line
// worth keeping, which label carries the pair token, and which query
// parameters mark a bare link as a referral link.
type Rules struct {
	Labels         []string `yaml:"labels"`
	PairLabel      string   `yaml:"pairLabel"`
	ReferralParams []string `yaml:"referralParams"`
}

func DefaultRules() Rules {
	return Rules{
		Labels:    []string{"Token", "Exchange", "Trading Pair"},
		PairLabel: "Trading Pair",
		ReferralParams: []string{
			"ref", "referral", "refcode", "ref_code", "aff", "affiliate",
			"invite", "invitecode", "invite_code", "promo", "code",
			"utm_source", "utm_medium", "utm_campaign",
		},
	}
}

// LoadRules reads a YAML rules file. Missing fields fall back to DefaultRules.
// An empty path returns the defaults.
func LoadRules(path string) (Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return r.withDefaults(), nil
}

func (r Rules) withDefaults() Rules {
	def := DefaultRules()
	if len(r.Labels) == 0 {
		r.Labels = def.Labels
	}
	if strings.TrimSpace(r.PairLabel) == "" {
		r.PairLabel = def.PairLabel
	}
	if len(r.ReferralParams) == 0 {
		r.ReferralParams = def.ReferralParams
	}
	for _, l := range r.Labels {
		if strings.EqualFold(l, r.PairLabel) {
			return r
		}
	}
	r.Labels = append(r.Labels, r.PairLabel)
	return r
}
