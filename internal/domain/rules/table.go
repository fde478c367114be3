package rules

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ConfigurationError reports a malformed rule table. Reports built on a
// broken table cannot be trusted, so callers treat it as fatal.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid rule table: " + strings.Join(e.Problems, "; ")
}

// Validate checks a single rule against the table invariants.
func Validate(r Rule) error {
	var problems []string
	if r.code == "" {
		problems = append(problems, "rule with empty jurisdiction code")
	}
	s, hasSales := r.SalesThreshold()
	n, hasTxns := r.TransactionThreshold()
	switch {
	case r.noRegistration && (hasSales || hasTxns):
		problems = append(problems, fmt.Sprintf("%s: no-registration rule must not carry thresholds", r.code))
	case !r.noRegistration && !hasSales && !hasTxns:
		problems = append(problems, fmt.Sprintf("%s: rule has no threshold and is not marked no-registration", r.code))
	}
	if hasSales && !s.IsPositive() {
		problems = append(problems, fmt.Sprintf("%s: sales threshold must be positive, got %s", r.code, s))
	}
	if hasTxns && n <= 0 {
		problems = append(problems, fmt.Sprintf("%s: transaction threshold must be positive, got %d", r.code, n))
	}
	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// Table is an immutable jurisdiction code -> Rule lookup. Safe for
// concurrent readers.
type Table struct {
	rules map[string]Rule
	codes []string
}

// NewTable validates every rule and rejects duplicate codes.
func NewTable(rs ...Rule) (*Table, error) {
	t := &Table{rules: make(map[string]Rule, len(rs))}
	var problems []string
	for _, r := range rs {
		if err := Validate(r); err != nil {
			problems = append(problems, err.(*ConfigurationError).Problems...)
			continue
		}
		if _, dup := t.rules[r.code]; dup {
			problems = append(problems, fmt.Sprintf("%s: duplicate jurisdiction code", r.code))
			continue
		}
		t.rules[r.code] = r
		t.codes = append(t.codes, r.code)
	}
	if len(problems) > 0 {
		return nil, &ConfigurationError{Problems: problems}
	}
	sort.Strings(t.codes)
	return t, nil
}

// Lookup returns a copy of the rule for code. Unknown or empty codes are not
// an error.
func (t *Table) Lookup(code string) (Rule, bool) {
	if t == nil {
		return Rule{}, false
	}
	r, ok := t.rules[normalizeCode(code)]
	return r, ok
}

// Codes returns the jurisdiction codes in ascending order.
func (t *Table) Codes() []string {
	out := make([]string, len(t.codes))
	copy(out, t.codes)
	return out
}

// All returns every rule ordered by code.
func (t *Table) All() []Rule {
	out := make([]Rule, 0, len(t.codes))
	for _, c := range t.codes {
		out = append(out, t.rules[c])
	}
	return out
}

func (t *Table) Len() int { return len(t.rules) }

type fileRule struct {
	Code                 string   `yaml:"code"`
	SalesThreshold       *decimal.Decimal `yaml:"salesThreshold"`
	TransactionThreshold *int             `yaml:"transactionThreshold"`
	NoStateSalesTax      bool             `yaml:"noStateSalesTax"`
	Notes                string           `yaml:"notes"`
}

type fileTable struct {
	Rules []fileRule `yaml:"rules"`
}

// Parse builds a table from a YAML document of the form
//
//	rules:
//	  - code: AZ
//	    salesThreshold: 100000
//	    transactionThreshold: 200
func Parse(data []byte) (*Table, error) {
	var ft fileTable
	if err := yaml.Unmarshal(data, &ft); err != nil {
		return nil, &ConfigurationError{Problems: []string{fmt.Sprintf("parse rule file: %v", err)}}
	}
	if len(ft.Rules) == 0 {
		return nil, &ConfigurationError{Problems: []string{"rule file contains no rules"}}
	}
	rs := make([]Rule, 0, len(ft.Rules))
	for _, fr := range ft.Rules {
		opts := []Option{Notes(fr.Notes)}
		if fr.SalesThreshold != nil {
			opts = append(opts, SalesAmount(*fr.SalesThreshold))
		}
		if fr.TransactionThreshold != nil {
			opts = append(opts, Transactions(*fr.TransactionThreshold))
		}
		if fr.NoStateSalesTax {
			opts = append(opts, NoStateSalesTax())
		}
		rs = append(rs, NewRule(fr.Code, opts...))
	}
	return NewTable(rs...)
}

// LoadFile reads a YAML rule table from disk.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	return Parse(data)
}
