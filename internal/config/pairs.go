package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/transform"
)

// PairSpec declares one sync pair in the pairs file.
type PairSpec struct {
	TenantID   string `yaml:"tenantId"`
	ProviderID string `yaml:"providerId"`

	// Template selects the connector factory ("http.scim", "memory").
	Template string `yaml:"template"`

	// Config is passed to the connector factory as-is.
	Config map[string]any `yaml:"config,omitempty"`

	// Interval overrides the engine default; clamped to the bounds.
	Interval time.Duration `yaml:"interval,omitempty"`

	// Strategy overrides the default reconciliation strategy.
	Strategy core.Strategy `yaml:"strategy,omitempty"`
}

// PairsFile is the parsed pairs declaration.
type PairsFile struct {
	Pairs []PairSpec                 `yaml:"pairs"`
	Rules []*core.TransformationRule `yaml:"rules,omitempty"`
}

// LoadPairsFile reads and validates the YAML pairs declaration. Every
// inline rule is compiled so a malformed pattern is rejected at startup
// instead of at first transformation.
func LoadPairsFile(path string) (*PairsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pairs file: %w", err)
	}
	var pf PairsFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse pairs file: %w", err)
	}

	seen := make(map[string]bool)
	for i, p := range pf.Pairs {
		if p.TenantID == "" || p.ProviderID == "" {
			return nil, fmt.Errorf("pair %d: tenantId and providerId are required", i)
		}
		if p.Template == "" {
			return nil, fmt.Errorf("pair %s: template is required", core.PairKey(p.TenantID, p.ProviderID))
		}
		key := core.PairKey(p.TenantID, p.ProviderID)
		if seen[key] {
			return nil, fmt.Errorf("pair %s declared twice", key)
		}
		seen[key] = true
	}

	for _, rule := range pf.Rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule %q: id is required", rule.Name)
		}
		if _, err := transform.CompileRule(rule); err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
	}
	return &pf, nil
}
