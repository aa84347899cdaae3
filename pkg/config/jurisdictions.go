package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Jurisdiction maps a jurisdiction label to the agent that serves it.
type Jurisdiction struct {
	Code        string   `yaml:"code" json:"code"`
	Name        string   `yaml:"name" json:"name"`
	Agent       string   `yaml:"agent" json:"agent"`
	LegalSystem string   `yaml:"legal_system,omitempty" json:"legal_system,omitempty"`
	Domains     []string `yaml:"domains,omitempty" json:"domains,omitempty"`
}

// Registry is the set of known jurisdictions, keyed by upper-case code.
type Registry struct {
	byCode map[string]Jurisdiction
}

type registryFile struct {
	Jurisdictions []Jurisdiction `yaml:"jurisdictions"`
}

// DefaultRegistry returns the built-in jurisdictions.
func DefaultRegistry() *Registry {
	r, _ := newRegistry([]Jurisdiction{
		{Code: "IN", Name: "India", Agent: "india_legal_agent", LegalSystem: "common_law"},
		{Code: "UK", Name: "United Kingdom", Agent: "uk_legal_agent", LegalSystem: "common_law"},
		{Code: "UAE", Name: "United Arab Emirates", Agent: "uae_legal_agent", LegalSystem: "mixed"},
	})
	return r
}

// LoadRegistry parses a YAML jurisdiction file. An empty path yields the defaults.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load jurisdictions: %w", err)
	}

	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse jurisdictions %s: %w", path, err)
	}
	return newRegistry(f.Jurisdictions)
}

func newRegistry(js []Jurisdiction) (*Registry, error) {
	if len(js) == 0 {
		return nil, fmt.Errorf("jurisdiction registry is empty")
	}
	r := &Registry{byCode: make(map[string]Jurisdiction, len(js))}
	for _, j := range js {
		j.Code = strings.ToUpper(strings.TrimSpace(j.Code))
		if j.Code == "" || j.Agent == "" {
			return nil, fmt.Errorf("jurisdiction %q: code and agent are required", j.Name)
		}
		if _, dup := r.byCode[j.Code]; dup {
			return nil, fmt.Errorf("jurisdiction %q declared twice", j.Code)
		}
		r.byCode[j.Code] = j
	}
	return r, nil
}

// Lookup returns the jurisdiction for code, case-insensitively.
func (r *Registry) Lookup(code string) (Jurisdiction, bool) {
	j, ok := r.byCode[strings.ToUpper(code)]
	return j, ok
}

// KnowsAgent reports whether agent serves any registered jurisdiction.
func (r *Registry) KnowsAgent(agent string) bool {
	for _, j := range r.byCode {
		if j.Agent == agent {
			return true
		}
	}
	return false
}

// Codes returns the registered codes in sorted order.
func (r *Registry) Codes() []string {
	out := make([]string, 0, len(r.byCode))
	for c := range r.byCode {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
