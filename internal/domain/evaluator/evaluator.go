// Package evaluator joins jurisdiction summaries with the rule table and
// classifies each jurisdiction's registration risk.
package evaluator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"nexusradar/internal/domain"
	"nexusradar/internal/domain/rules"
)

// ApproachingProximity is the ratio of a threshold at which a jurisdiction is
// flagged Medium before crossing it.
var ApproachingProximity = decimal.RequireFromString("0.8")

// RuleLookup is satisfied by *rules.Table.
type RuleLookup interface {
	Lookup(code string) (rules.Rule, bool)
}

// Evaluate classifies every summary and derives the report totals from the
// resulting rows. Row order follows the input.
func Evaluate(summaries []domain.JurisdictionSummary, table RuleLookup) domain.RiskReport {
	report := domain.RiskReport{
		Rows:       make([]domain.RiskAssessment, 0, len(summaries)),
		TotalSales: decimal.Zero,
	}
	for _, s := range summaries {
		row := assess(s, table)
		report.Rows = append(report.Rows, row)
		report.TotalSales = report.TotalSales.Add(row.TotalSales)
		report.TotalOrders += row.OrderCount
		if row.OverAnyThreshold() {
			report.JurisdictionsOverAnyThreshold++
		}
		if row.OverSalesThreshold {
			report.JurisdictionsOverSalesThreshold++
		}
	}
	return report
}

func assess(s domain.JurisdictionSummary, table RuleLookup) domain.RiskAssessment {
	rule, ok := table.Lookup(s.Jurisdiction)
	if !ok {
		return missing(s)
	}
	row, err := Classify(s, rule)
	if err != nil {
		// a single bad rule must not sink the report
		return missing(s)
	}
	return row
}

func missing(s domain.JurisdictionSummary) domain.RiskAssessment {
	return domain.RiskAssessment{
		JurisdictionSummary:  s,
		Severity:             domain.SeverityRuleMissing,
		Proximity:            decimal.Zero,
		ThresholdDescription: rules.DescribeThreshold(nil),
	}
}

// Classify compares one summary against its rule. It fails only when the rule
// carries a non-positive threshold, which a validated table never does.
func Classify(s domain.JurisdictionSummary, rule rules.Rule) (domain.RiskAssessment, error) {
	matched := rule
	row := domain.RiskAssessment{
		JurisdictionSummary:  s,
		MatchedRule:          &matched,
		Proximity:            decimal.Zero,
		ThresholdDescription: rules.DescribeThreshold(&matched),
	}

	if rule.NoRegistrationRequired() {
		row.Severity = domain.SeverityNoTaxObligation
		return row, nil
	}

	salesRatio, countRatio := decimal.Zero, decimal.Zero
	if threshold, ok := rule.SalesThreshold(); ok {
		if !threshold.IsPositive() {
			return row, fmt.Errorf("%s: non-positive sales threshold %s", rule.Code(), threshold)
		}
		row.OverSalesThreshold = s.TotalSales.GreaterThanOrEqual(threshold)
		salesRatio = s.TotalSales.Div(threshold)
	}
	if threshold, ok := rule.TransactionThreshold(); ok {
		if threshold <= 0 {
			return row, fmt.Errorf("%s: non-positive transaction threshold %d", rule.Code(), threshold)
		}
		row.OverTransactionThreshold = s.OrderCount >= threshold
		countRatio = decimal.NewFromInt(int64(s.OrderCount)).Div(decimal.NewFromInt(int64(threshold)))
	}
	row.Proximity = decimal.Max(salesRatio, countRatio)

	switch {
	case row.OverAnyThreshold():
		row.Severity = domain.SeverityHigh
	case row.Proximity.GreaterThanOrEqual(ApproachingProximity):
		row.Severity = domain.SeverityMedium
	default:
		row.Severity = domain.SeverityLow
	}
	return row, nil
}
