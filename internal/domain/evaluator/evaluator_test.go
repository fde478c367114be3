package evaluator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"nexusradar/internal/domain"
	"nexusradar/internal/domain/aggregator"
	"nexusradar/internal/domain/rules"
)

type EvaluatorSuite struct {
	suite.Suite
	table *rules.Table
}

func TestEvaluatorSuite(t *testing.T) {
	suite.Run(t, new(EvaluatorSuite))
}

func (s *EvaluatorSuite) SetupTest() {
	table, err := rules.NewTable(
		rules.NewRule("CO", rules.Sales(100000)),
		rules.NewRule("AZ", rules.Sales(100000), rules.Transactions(200)),
		rules.NewRule("OR", rules.NoStateSalesTax()),
		rules.NewRule("CT", rules.Transactions(200)),
	)
	s.Require().NoError(err)
	s.table = table
}

func summary(code string, orders int, sales string) domain.JurisdictionSummary {
	total := decimal.RequireFromString(sales)
	return domain.JurisdictionSummary{
		Jurisdiction: code,
		OrderCount:   orders,
		TotalSales:   total,
		AverageOrder: aggregator.Average(total, orders),
	}
}

func (s *EvaluatorSuite) one(sum domain.JurisdictionSummary) domain.RiskAssessment {
	report := Evaluate([]domain.JurisdictionSummary{sum}, s.table)
	s.Require().Len(report.Rows, 1)
	return report.Rows[0]
}

func (s *EvaluatorSuite) TestClassification() {
	s.Run("meeting the sales threshold exactly is high", func() {
		row := s.one(summary("CO", 1, "100000"))
		s.True(row.OverSalesThreshold)
		s.False(row.OverTransactionThreshold)
		s.Equal(domain.SeverityHigh, row.Severity)
		s.Require().NotNil(row.MatchedRule)
		s.Equal("CO", row.MatchedRule.Code())
		s.Equal("$100,000", row.ThresholdDescription)
	})

	s.Run("half way is low", func() {
		row := s.one(summary("AZ", 1, "50000"))
		s.Equal(domain.SeverityLow, row.Severity)
		s.Equal("0.5", row.Proximity.String())
	})

	s.Run("85 percent is medium", func() {
		row := s.one(summary("AZ", 1, "85000"))
		s.Equal(domain.SeverityMedium, row.Severity)
		s.Equal("0.85", row.Proximity.String())
		s.False(row.OverAnyThreshold())
	})

	s.Run("exactly 80 percent is medium", func() {
		row := s.one(summary("AZ", 160, "10"))
		s.Equal(domain.SeverityMedium, row.Severity)
	})

	s.Run("count threshold alone triggers high", func() {
		row := s.one(summary("AZ", 200, "10"))
		s.True(row.OverTransactionThreshold)
		s.False(row.OverSalesThreshold)
		s.Equal(domain.SeverityHigh, row.Severity)
	})

	s.Run("count-only rule ignores sales", func() {
		row := s.one(summary("CT", 10, "9999999"))
		s.False(row.OverSalesThreshold)
		s.Equal(domain.SeverityLow, row.Severity)
	})

	s.Run("no tax obligation is terminal", func() {
		row := s.one(summary("OR", 100000, "999999999999"))
		s.Equal(domain.SeverityNoTaxObligation, row.Severity)
		s.False(row.OverSalesThreshold)
		s.False(row.OverTransactionThreshold)
		s.Equal("No state sales tax", row.ThresholdDescription)
	})

	s.Run("unknown jurisdiction is rule missing", func() {
		row := s.one(summary("ZZ", 500, "1000000"))
		s.Equal(domain.SeverityRuleMissing, row.Severity)
		s.Nil(row.MatchedRule)
		s.False(row.OverAnyThreshold())
		s.Equal("n/a", row.ThresholdDescription)
	})

	s.Run("unresolved sentinel has no rule", func() {
		row := s.one(summary(domain.UnresolvedJurisdiction, 1, "500"))
		s.Equal(domain.SeverityRuleMissing, row.Severity)
	})
}

type staticLookup map[string]rules.Rule

func (l staticLookup) Lookup(code string) (rules.Rule, bool) {
	r, ok := l[code]
	return r, ok
}

func (s *EvaluatorSuite) TestBadRuleDegradesOnlyItsRow() {
	lookup := staticLookup{
		"XX": rules.NewRule("XX", rules.Sales(0)),
		"CO": rules.NewRule("CO", rules.Sales(100000)),
	}
	report := Evaluate([]domain.JurisdictionSummary{
		summary("CO", 1, "200000"),
		summary("XX", 1, "10"),
	}, lookup)
	s.Require().Len(report.Rows, 2)
	s.Equal(domain.SeverityHigh, report.Rows[0].Severity)
	s.Equal(domain.SeverityRuleMissing, report.Rows[1].Severity)
}

func (s *EvaluatorSuite) TestReportCounters() {
	report := Evaluate([]domain.JurisdictionSummary{
		summary("CO", 1, "150000"),
		summary("AZ", 250, "1000"),
		summary("OR", 999, "999999"),
		summary("ZZ", 1, "5"),
	}, s.table)

	s.Equal(2, report.JurisdictionsOverAnyThreshold)
	s.Equal(1, report.JurisdictionsOverSalesThreshold)
	s.Equal(1251, report.TotalOrders)
	s.Equal("1151004", report.TotalSales.String())
}

func (s *EvaluatorSuite) TestEmpty() {
	report := Evaluate(nil, s.table)
	s.NotNil(report.Rows)
	s.Empty(report.Rows)
	s.True(report.TotalSales.IsZero())
	s.Zero(report.TotalOrders)
}

func TestPipelineProperties(t *testing.T) {
	table := rules.Default()
	unpaid := domain.Transaction{
		DocumentID:         "inv-1",
		TotalAmount:        decimal.NewFromInt(90000),
		OutstandingBalance: decimal.NewFromInt(200),
		ShipJurisdiction:   "CO",
		SourceKind:         domain.SourceInvoice,
	}
	txns := []domain.Transaction{
		unpaid,
		{DocumentID: "inv-2", TotalAmount: decimal.NewFromInt(20000), ShipJurisdiction: "CO", SourceKind: domain.SourceInvoice},
		{DocumentID: "rc-1", TotalAmount: decimal.RequireFromString("12.34"), BillJurisdiction: "TX", SourceKind: domain.SourceCashReceipt},
		{DocumentID: "rc-2", TotalAmount: decimal.NewFromInt(700), SourceKind: domain.SourceCashReceipt},
		{DocumentID: "void", TotalAmount: decimal.Zero, ShipJurisdiction: "NY", SourceKind: domain.SourceInvoice},
	}

	run := func(basis domain.Basis) domain.RiskReport {
		return Evaluate(aggregator.Aggregate(txns, basis).Summaries, table)
	}

	t.Run("idempotent", func(t *testing.T) {
		assert.Equal(t, run(domain.BasisAccrual), run(domain.BasisAccrual))
		assert.Equal(t, run(domain.BasisCash), run(domain.BasisCash))
	})

	t.Run("conservation", func(t *testing.T) {
		res := aggregator.Aggregate(txns, domain.BasisAccrual)
		report := Evaluate(res.Summaries, table)
		sum, orders := decimal.Zero, 0
		for _, s := range res.Summaries {
			sum = sum.Add(s.TotalSales)
			orders += s.OrderCount
		}
		assert.True(t, sum.Equal(report.TotalSales))
		assert.Equal(t, orders, report.TotalOrders)
		assert.Equal(t, len(res.Counted), report.TotalOrders)
	})

	t.Run("cash basis never exceeds accrual", func(t *testing.T) {
		assert.LessOrEqual(t, run(domain.BasisCash).TotalOrders, run(domain.BasisAccrual).TotalOrders)
	})

	t.Run("accrual crosses CO, cash does not", func(t *testing.T) {
		accrual := run(domain.BasisAccrual)
		require.NotEmpty(t, accrual.Rows)
		assert.Equal(t, "CO", accrual.Rows[0].Jurisdiction)
		assert.Equal(t, domain.SeverityHigh, accrual.Rows[0].Severity)

		cash := run(domain.BasisCash)
		for _, row := range cash.Rows {
			if row.Jurisdiction == "CO" {
				assert.Equal(t, domain.SeverityLow, row.Severity)
			}
		}
	})
}
