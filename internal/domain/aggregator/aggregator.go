// Package aggregator reduces raw transactions to one summary per destination
// jurisdiction. This is pure domain logic: no I/O, no shared state.
package aggregator

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"nexusradar/internal/domain"
)

// Result holds the per-jurisdiction summaries and the transactions that
// contributed to them, in input order.
type Result struct {
	Summaries []domain.JurisdictionSummary
	Counted   []domain.Transaction
}

// Aggregate filters txns by basis, drops non-positive documents, buckets the
// rest by resolved jurisdiction and orders the buckets by total sales
// descending, then by jurisdiction code.
func Aggregate(txns []domain.Transaction, basis domain.Basis) Result {
	type bucket struct {
		orders int
		sales  decimal.Decimal
	}
	buckets := make(map[string]*bucket)
	counted := make([]domain.Transaction, 0, len(txns))

	for _, t := range txns {
		if !Includes(t, basis) {
			continue
		}
		if !t.TotalAmount.IsPositive() {
			continue
		}
		code := ResolveJurisdiction(t)
		b, ok := buckets[code]
		if !ok {
			b = &bucket{sales: decimal.Zero}
			buckets[code] = b
		}
		b.orders++
		b.sales = b.sales.Add(t.TotalAmount)
		counted = append(counted, t)
	}

	summaries := make([]domain.JurisdictionSummary, 0, len(buckets))
	for code, b := range buckets {
		summaries = append(summaries, domain.JurisdictionSummary{
			Jurisdiction: code,
			OrderCount:   b.orders,
			TotalSales:   b.sales,
			AverageOrder: Average(b.sales, b.orders),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if c := summaries[i].TotalSales.Cmp(summaries[j].TotalSales); c != 0 {
			return c > 0
		}
		return summaries[i].Jurisdiction < summaries[j].Jurisdiction
	})

	return Result{Summaries: summaries, Counted: counted}
}

// Includes applies the accounting basis. Cash basis keeps receipts and only
// fully paid invoices; any other basis keeps everything.
func Includes(t domain.Transaction, basis domain.Basis) bool {
	if basis != domain.BasisCash {
		return true
	}
	if t.SourceKind == domain.SourceCashReceipt {
		return true
	}
	return t.OutstandingBalance.IsZero()
}

// ResolveJurisdiction picks the shipping jurisdiction, then the billing one,
// then the unresolved sentinel.
func ResolveJurisdiction(t domain.Transaction) string {
	if code := normalize(t.ShipJurisdiction); code != "" {
		return code
	}
	if code := normalize(t.BillJurisdiction); code != "" {
		return code
	}
	return domain.UnresolvedJurisdiction
}

// Average is total/count, or zero for an empty bucket.
func Average(total decimal.Decimal, count int) decimal.Decimal {
	if count <= 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(int64(count)))
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
