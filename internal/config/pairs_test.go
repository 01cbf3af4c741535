package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Insight-DevSecOps/SCIMGateway-sub001/internal/core"
)

func writePairsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pairs.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPairsFile(t *testing.T) {
	path := writePairsFile(t, `
pairs:
  - tenantId: acme
    providerId: okta
    template: http.scim
    interval: 5m
    strategy: auto_apply
    config:
      baseUrl: https://scim.example.com/v2
      token: secret
  - tenantId: acme
    providerId: lab
    template: memory
rules:
  - id: r1
    tenantId: acme
    providerId: okta
    patternType: regex
    sourcePattern: "^Sales-(.*)$"
    targetMapping: "Sales_${1}_Rep"
    reverseEnabled: true
    enabled: true
`)

	pf, err := LoadPairsFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(pf.Pairs) != 2 {
		t.Fatalf("pairs = %d", len(pf.Pairs))
	}

	okta := pf.Pairs[0]
	if okta.Template != "http.scim" || okta.Interval != 5*time.Minute {
		t.Errorf("pair = %+v", okta)
	}
	if okta.Strategy != core.StrategyAutoApply {
		t.Errorf("strategy = %q", okta.Strategy)
	}
	if url, _ := okta.Config["baseUrl"].(string); url != "https://scim.example.com/v2" {
		t.Errorf("config baseUrl = %v", okta.Config["baseUrl"])
	}

	if len(pf.Rules) != 1 || pf.Rules[0].ID != "r1" || !pf.Rules[0].ReverseEnabled {
		t.Errorf("rules = %+v", pf.Rules)
	}
}

func TestLoadPairsFileRejectsDuplicatePair(t *testing.T) {
	path := writePairsFile(t, `
pairs:
  - tenantId: acme
    providerId: okta
    template: memory
  - tenantId: acme
    providerId: okta
    template: http.scim
`)

	_, err := LoadPairsFile(path)
	if err == nil || !strings.Contains(err.Error(), "declared twice") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadPairsFileRequiresTemplate(t *testing.T) {
	path := writePairsFile(t, `
pairs:
  - tenantId: acme
    providerId: okta
`)

	_, err := LoadPairsFile(path)
	if err == nil || !strings.Contains(err.Error(), "template is required") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadPairsFileRejectsMalformedRule(t *testing.T) {
	path := writePairsFile(t, `
pairs:
  - tenantId: acme
    providerId: okta
    template: memory
rules:
  - id: r-bad
    tenantId: acme
    providerId: okta
    patternType: regex
    sourcePattern: "^Sales-(.*$"
    targetMapping: "Sales_${1}"
    enabled: true
`)

	if _, err := LoadPairsFile(path); err == nil {
		t.Fatal("malformed rule pattern accepted at load time")
	}
}

func TestLoadPairsFileMissing(t *testing.T) {
	if _, err := LoadPairsFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestFromEnvDefaultsValidate(t *testing.T) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.DefaultInterval != 5*time.Minute {
		t.Errorf("default interval = %s", cfg.DefaultInterval)
	}
	if cfg.MinInterval > cfg.DefaultInterval || cfg.DefaultInterval > cfg.MaxInterval {
		t.Errorf("interval bounds: min=%s default=%s max=%s", cfg.MinInterval, cfg.DefaultInterval, cfg.MaxInterval)
	}
}

func TestValidateRejectsInvertedBounds(t *testing.T) {
	cfg := FromEnv()
	cfg.MinInterval = 2 * cfg.MaxInterval
	if err := cfg.Validate(); err == nil {
		t.Fatal("inverted interval bounds accepted")
	}
}
