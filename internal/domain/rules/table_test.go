package rules

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	table := Default()

	t.Run("covers the states, DC and PR", func(t *testing.T) {
		assert.Equal(t, 52, table.Len())
		for _, code := range []string{"DC", "PR", "CA", "WY"} {
			_, ok := table.Lookup(code)
			assert.True(t, ok, code)
		}
	})

	t.Run("every rule satisfies the invariants", func(t *testing.T) {
		for _, r := range table.All() {
			assert.NoError(t, Validate(r), r.Code())
		}
	})

	t.Run("is built once", func(t *testing.T) {
		assert.Same(t, table, Default())
	})

	t.Run("codes are sorted", func(t *testing.T) {
		codes := table.Codes()
		require.NotEmpty(t, codes)
		assert.IsIncreasing(t, codes)
	})
}

func TestLookup(t *testing.T) {
	table := Default()

	t.Run("known code", func(t *testing.T) {
		r, ok := table.Lookup("AZ")
		require.True(t, ok)
		s, hasSales := r.SalesThreshold()
		n, hasTxns := r.TransactionThreshold()
		assert.True(t, hasSales)
		assert.True(t, s.Equal(decimal.NewFromInt(100000)))
		assert.True(t, hasTxns)
		assert.Equal(t, 200, n)
		assert.False(t, r.NoRegistrationRequired())
	})

	t.Run("case and whitespace insensitive", func(t *testing.T) {
		r, ok := table.Lookup(" co ")
		require.True(t, ok)
		assert.Equal(t, "CO", r.Code())
	})

	t.Run("unknown and empty codes are not errors", func(t *testing.T) {
		_, ok := table.Lookup("ZZ")
		assert.False(t, ok)
		_, ok = table.Lookup("")
		assert.False(t, ok)
	})

	t.Run("nil table finds nothing", func(t *testing.T) {
		var nilTable *Table
		_, ok := nilTable.Lookup("CO")
		assert.False(t, ok)
	})

	t.Run("returned codes slice is a copy", func(t *testing.T) {
		codes := table.Codes()
		codes[0] = "XX"
		assert.NotEqual(t, "XX", table.Codes()[0])
	})
}

func TestDescribeThreshold(t *testing.T) {
	tests := []struct {
		name string
		rule *Rule
		want string
	}{
		{name: "nil rule", rule: nil, want: "n/a"},
		{name: "no state tax", rule: ptr(NewRule("OR", NoStateSalesTax())), want: "No state sales tax"},
		{name: "sales and orders", rule: ptr(NewRule("AZ", Sales(100000), Transactions(200))), want: "$100,000 or 200 orders"},
		{name: "sales only", rule: ptr(NewRule("TX", Sales(500000))), want: "$500,000"},
		{name: "orders only", rule: ptr(NewRule("XX", Transactions(150))), want: "150 orders"},
		{name: "fraction rounds", rule: ptr(NewRule("XX", SalesAmount(decimal.RequireFromString("99999.6")))), want: "$100,000"},
		{name: "no thresholds", rule: ptr(NewRule("XX")), want: "n/a"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DescribeThreshold(tc.rule))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr string
	}{
		{name: "sales only", rule: NewRule("CO", Sales(100000))},
		{name: "no registration", rule: NewRule("OR", NoStateSalesTax())},
		{name: "empty code", rule: NewRule(" ", Sales(1)), wantErr: "empty jurisdiction code"},
		{name: "no-registration with threshold", rule: NewRule("OR", NoStateSalesTax(), Sales(1)), wantErr: "must not carry thresholds"},
		{name: "all null", rule: NewRule("XX"), wantErr: "no threshold"},
		{name: "zero sales", rule: NewRule("XX", Sales(0)), wantErr: "sales threshold must be positive"},
		{name: "negative count", rule: NewRule("XX", Transactions(-1)), wantErr: "transaction threshold must be positive"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.rule)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNewTable(t *testing.T) {
	t.Run("rejects duplicates", func(t *testing.T) {
		_, err := NewTable(NewRule("CO", Sales(1)), NewRule("co", Sales(2)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("collects every problem", func(t *testing.T) {
		_, err := NewTable(NewRule("A"), NewRule("B", NoStateSalesTax(), Transactions(3)))
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Len(t, cfgErr.Problems, 2)
	})
}

func TestParse(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		doc := []byte(`
rules:
  - code: AZ
    salesThreshold: 100000
    transactionThreshold: 200
  - code: OR
    noStateSalesTax: true
    notes: No sales tax at the state level.
`)
		table, err := Parse(doc)
		require.NoError(t, err)
		assert.Equal(t, 2, table.Len())
		r, ok := table.Lookup("OR")
		require.True(t, ok)
		assert.True(t, r.NoRegistrationRequired())
		assert.Equal(t, "No sales tax at the state level.", r.Notes())
	})

	t.Run("sales thresholds are decoded exactly", func(t *testing.T) {
		table, err := Parse([]byte("rules:\n  - code: TX\n    salesThreshold: 12345678901234567.89\n  - code: CA\n    salesThreshold: \"500000.10\"\n"))
		require.NoError(t, err)
		tx, _ := table.Lookup("TX")
		s, ok := tx.SalesThreshold()
		require.True(t, ok)
		assert.Equal(t, "12345678901234567.89", s.String())
		ca, _ := table.Lookup("CA")
		s, _ = ca.SalesThreshold()
		assert.Equal(t, "500000.1", s.String())
	})

	t.Run("malformed sales threshold", func(t *testing.T) {
		_, err := Parse([]byte("rules:\n  - code: TX\n    salesThreshold: lots\n"))
		var cfgErr *ConfigurationError
		assert.ErrorAs(t, err, &cfgErr)
	})

	t.Run("invariant violation is a configuration error", func(t *testing.T) {
		_, err := Parse([]byte("rules:\n  - code: XX\n"))
		var cfgErr *ConfigurationError
		assert.ErrorAs(t, err, &cfgErr)
	})

	t.Run("empty document", func(t *testing.T) {
		_, err := Parse([]byte("rules: []\n"))
		assert.Error(t, err)
	})

	t.Run("load from disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte("rules:\n  - code: CO\n    salesThreshold: 100000\n"), 0o600))
		table, err := LoadFile(path)
		require.NoError(t, err)
		r, ok := table.Lookup("CO")
		require.True(t, ok)
		assert.Equal(t, "$100,000", DescribeThreshold(&r))
	})
}

func TestRuleJSON(t *testing.T) {
	r := NewRule("NY", Sales(500000), Transactions(100))
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"code": "NY",
		"salesThreshold": "500000",
		"transactionThreshold": 100,
		"noRegistrationRequired": false,
		"description": "$500,000 or 100 orders"
	}`, string(b))
}

func ptr(r Rule) *Rule { return &r }
