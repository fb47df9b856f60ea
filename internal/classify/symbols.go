package classify

import (
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// SymbolEntry maps a listed company to its trading symbol and sector.
type SymbolEntry struct {
	Symbol  string `yaml:"symbol"`
	Company string `yaml:"company"`
	Sector  string `yaml:"sector"`
}

// SymbolTable resolves company identifiers against the known-symbol
// universe. Resolution is exact on symbol and normalized-prefix on
// company name; anything unresolved rejects the announcement.
type SymbolTable struct {
	bySymbol map[string]SymbolEntry
	byName   map[string]SymbolEntry
}

var legalSuffixes = regexp.MustCompile(`(?i)\b(limited|ltd\.?|pvt\.?|private|company|corp\.?|corporation|india)\b`)

func NewSymbolTable(entries []SymbolEntry) *SymbolTable {
	t := &SymbolTable{
		bySymbol: make(map[string]SymbolEntry, len(entries)),
		byName:   make(map[string]SymbolEntry, len(entries)),
	}
	for _, e := range entries {
		e.Symbol = strings.ToUpper(strings.TrimSpace(e.Symbol))
		t.bySymbol[e.Symbol] = e
		t.byName[normalizeCompany(e.Company)] = e
	}
	return t
}

// LoadSymbolTable reads the symbol universe from a yaml file with a
// top-level `symbols:` list.
func LoadSymbolTable(path string) (*SymbolTable, error) {
	var f struct {
		Symbols []SymbolEntry `yaml:"symbols"`
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return NewSymbolTable(f.Symbols), nil
}

// Resolve tries the symbol hint first, then the company name.
func (t *SymbolTable) Resolve(symbolHint, companyName string) (SymbolEntry, bool) {
	if hint := strings.ToUpper(strings.TrimSpace(symbolHint)); hint != "" {
		if e, ok := t.bySymbol[hint]; ok {
			return e, true
		}
	}
	if name := normalizeCompany(companyName); name != "" {
		if e, ok := t.byName[name]; ok {
			return e, true
		}
	}
	return SymbolEntry{}, false
}

func normalizeCompany(name string) string {
	name = legalSuffixes.ReplaceAllString(name, "")
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
