// Package rules holds the jurisdiction threshold table used to classify
// economic-nexus exposure. Rules are immutable values; the table is built
// once and only read afterwards.
package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Rule is the registration threshold of one jurisdiction.
type Rule struct {
	code                 string
	salesThreshold       decimal.NullDecimal
	transactionThreshold int
	hasTransactions      bool
	noRegistration       bool
	notes                string
}

// Option configures a Rule in NewRule.
type Option func(*Rule)

// Sales sets a whole-dollar sales threshold.
func Sales(amount int64) Option {
	return SalesAmount(decimal.NewFromInt(amount))
}

// SalesAmount sets a sales threshold.
func SalesAmount(amount decimal.Decimal) Option {
	return func(r *Rule) { r.salesThreshold = decimal.NewNullDecimal(amount) }
}

// Transactions sets an order count threshold.
func Transactions(n int) Option {
	return func(r *Rule) {
		r.transactionThreshold = n
		r.hasTransactions = true
	}
}

// NoStateSalesTax marks a jurisdiction without a registration obligation.
func NoStateSalesTax() Option {
	return func(r *Rule) { r.noRegistration = true }
}

// Notes attaches display-only text.
func Notes(s string) Option {
	return func(r *Rule) { r.notes = s }
}

// NewRule builds a rule. It does not validate; tables do that in NewTable.
func NewRule(code string, opts ...Option) Rule {
	r := Rule{code: normalizeCode(code)}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func (r Rule) Code() string { return r.code }

// SalesThreshold returns the sales threshold and whether one applies.
func (r Rule) SalesThreshold() (decimal.Decimal, bool) {
	return r.salesThreshold.Decimal, r.salesThreshold.Valid
}

// TransactionThreshold returns the order count threshold and whether one applies.
func (r Rule) TransactionThreshold() (int, bool) {
	return r.transactionThreshold, r.hasTransactions
}

func (r Rule) NoRegistrationRequired() bool { return r.noRegistration }

func (r Rule) Notes() string { return r.notes }

type ruleJSON struct {
	Code                   string           `json:"code"`
	SalesThreshold         *decimal.Decimal `json:"salesThreshold"`
	TransactionThreshold   *int             `json:"transactionThreshold"`
	NoRegistrationRequired bool             `json:"noRegistrationRequired"`
	Notes                  string           `json:"notes,omitempty"`
	Description            string           `json:"description"`
}

func (r Rule) MarshalJSON() ([]byte, error) {
	out := ruleJSON{
		Code:                   r.code,
		NoRegistrationRequired: r.noRegistration,
		Notes:                  r.notes,
		Description:            DescribeThreshold(&r),
	}
	if s, ok := r.SalesThreshold(); ok {
		out.SalesThreshold = &s
	}
	if n, ok := r.TransactionThreshold(); ok {
		out.TransactionThreshold = &n
	}
	return json.Marshal(out)
}

// DescribeThreshold renders a rule for tooltips and notes, e.g.
// "$100,000 or 200 orders", "$500,000", "No state sales tax" or "n/a".
func DescribeThreshold(rule *Rule) string {
	if rule == nil {
		return "n/a"
	}
	if rule.noRegistration {
		return "No state sales tax"
	}

	var parts []string
	if s, ok := rule.SalesThreshold(); ok {
		p := message.NewPrinter(language.AmericanEnglish)
		parts = append(parts, p.Sprintf("$%d", s.Round(0).IntPart()))
	}
	if n, ok := rule.TransactionThreshold(); ok {
		parts = append(parts, fmt.Sprintf("%d orders", n))
	}
	if len(parts) == 0 {
		return "n/a"
	}
	return strings.Join(parts, " or ")
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
