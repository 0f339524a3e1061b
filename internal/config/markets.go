package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Authority is a regulatory authority served by the regulatory search backend.
type Authority struct {
	Code      string   `yaml:"code"`
	Name      string   `yaml:"name"`
	Countries []string `yaml:"countries"`
}

// MarketsFile is the on-disk layout of markets.yaml.
type MarketsFile struct {
	Authorities []Authority `yaml:"authorities"`
}

var defaultAuthorities = []Authority{
	{Code: "cdsco", Name: "Central Drugs Standard Control Organisation", Countries: []string{"india", "bharat", "in"}},
	{Code: "fda", Name: "U.S. Food and Drug Administration", Countries: []string{"united states", "united states of america", "usa", "us", "america"}},
	{Code: "ema", Name: "European Medicines Agency", Countries: []string{
		"european union", "eu", "europe", "austria", "belgium", "bulgaria", "croatia", "cyprus", "czechia",
		"czech republic", "denmark", "estonia", "finland", "france", "germany", "greece", "hungary", "ireland",
		"italy", "latvia", "lithuania", "luxembourg", "malta", "netherlands", "poland", "portugal", "romania",
		"slovakia", "slovenia", "spain", "sweden",
	}},
	{Code: "mhra", Name: "Medicines and Healthcare products Regulatory Agency", Countries: []string{"united kingdom", "uk", "great britain", "britain", "england", "scotland", "wales"}},
}

// Markets resolves free-text country names to authority codes. Safe for
// concurrent use; Replace swaps the table atomically on reload.
type Markets struct {
	mu        sync.RWMutex
	byCountry map[string]Authority
	byCode    map[string]Authority
}

// DefaultMarkets returns the built-in table.
func DefaultMarkets() *Markets {
	m, _ := NewMarkets(defaultAuthorities)
	return m
}

// NewMarkets indexes authorities. Duplicate codes or countries are rejected.
func NewMarkets(authorities []Authority) (*Markets, error) {
	m := &Markets{byCountry: map[string]Authority{}, byCode: map[string]Authority{}}
	for _, a := range authorities {
		code := strings.ToLower(strings.TrimSpace(a.Code))
		if code == "" {
			return nil, fmt.Errorf("markets: authority %q has no code", a.Name)
		}
		if _, dup := m.byCode[code]; dup {
			return nil, fmt.Errorf("markets: duplicate authority code %q", code)
		}
		a.Code = code
		m.byCode[code] = a
		for _, c := range a.Countries {
			key := normalizeCountry(c)
			if key == "" {
				continue
			}
			if prev, dup := m.byCountry[key]; dup {
				return nil, fmt.Errorf("markets: country %q mapped to both %s and %s", c, prev.Code, code)
			}
			m.byCountry[key] = a
		}
	}
	return m, nil
}

// ParseMarkets decodes a markets.yaml document.
func ParseMarkets(data []byte) (*Markets, error) {
	var f MarketsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("markets: parse: %w", err)
	}
	if len(f.Authorities) == 0 {
		return nil, fmt.Errorf("markets: no authorities defined")
	}
	return NewMarkets(f.Authorities)
}

// LoadMarkets reads path, falling back to the built-in table when the file does not exist.
func LoadMarkets(path string) (*Markets, error) {
	if path == "" {
		return DefaultMarkets(), nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultMarkets(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("markets: read %s: %w", path, err)
	}
	return ParseMarkets(data)
}

// AuthorityFor returns the authority code serving country.
func (m *Markets) AuthorityFor(country string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byCountry[normalizeCountry(country)]
	if !ok {
		return "", false
	}
	return a.Code, true
}

// IsAuthority reports whether code is a configured authority code.
func (m *Markets) IsAuthority(code string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byCode[strings.ToLower(strings.TrimSpace(code))]
	return ok
}

// Codes lists the configured authority codes in sorted order.
func (m *Markets) Codes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byCode))
	for c := range m.byCode {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Replace swaps in the table of other.
func (m *Markets) Replace(other *Markets) {
	other.mu.RLock()
	byCountry, byCode := other.byCountry, other.byCode
	other.mu.RUnlock()

	m.mu.Lock()
	m.byCountry, m.byCode = byCountry, byCode
	m.mu.Unlock()
}

func normalizeCountry(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, ".", "")
	s = strings.TrimPrefix(s, "the ")
	return strings.Join(strings.Fields(s), " ")
}
