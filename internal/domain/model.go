package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"nexusradar/internal/domain/rules"
)

// Core domain models shared by the engine, the services and the adapters.
// API request shapes live next to the HTTP adapter; keep these decoupled.

// Basis is the accounting method used to decide which documents count as sales.
type Basis string

const (
	BasisAccrual Basis = "accrual"
	BasisCash    Basis = "cash"
)

// ParseBasis accepts "accrual" or "cash" in any case. Empty input means accrual.
func ParseBasis(s string) (Basis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(BasisAccrual):
		return BasisAccrual, nil
	case string(BasisCash):
		return BasisCash, nil
	default:
		return "", fmt.Errorf("unknown accounting basis %q", s)
	}
}

// SourceKind identifies the upstream document type a transaction came from.
type SourceKind string

const (
	SourceInvoice     SourceKind = "invoice"
	SourceCashReceipt SourceKind = "cash_receipt"
)

// ParseSourceKind accepts the wire names and the upstream spellings
// ("Invoice", "CashReceipt"). Anything else is rejected.
func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "")) {
	case "invoice":
		return SourceInvoice, nil
	case "cashreceipt":
		return SourceCashReceipt, nil
	default:
		return "", fmt.Errorf("unknown source kind %q", s)
	}
}

func (k *SourceKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseSourceKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// UnresolvedJurisdiction buckets transactions with neither a shipping nor a
// billing jurisdiction.
const UnresolvedJurisdiction = "N/A"

// Transaction is one invoice or cash receipt, already normalized by the
// source adapter. It is read-only input to a report run.
type Transaction struct {
	DocumentID         string          `json:"documentId"`
	Date               Date            `json:"date"`
	TotalAmount        decimal.Decimal `json:"totalAmount"`
	OutstandingBalance decimal.Decimal `json:"outstandingBalance"`
	ShipJurisdiction   string          `json:"shipJurisdiction,omitempty"`
	BillJurisdiction   string          `json:"billJurisdiction,omitempty"`
	SourceKind         SourceKind      `json:"sourceKind" validate:"required,oneof=invoice cash_receipt"`
}

// JurisdictionSummary is the aggregate of the counted transactions resolved to
// one jurisdiction.
type JurisdictionSummary struct {
	Jurisdiction string          `json:"jurisdiction"`
	OrderCount   int             `json:"orderCount"`
	TotalSales   decimal.Decimal `json:"totalSales"`
	AverageOrder decimal.Decimal `json:"averageOrder"`
}

// Severity is the risk classification of one jurisdiction.
type Severity string

const (
	SeverityHigh            Severity = "high"
	SeverityMedium          Severity = "medium"
	SeverityLow             Severity = "low"
	SeverityNoTaxObligation Severity = "no_tax_obligation"
	SeverityRuleMissing     Severity = "rule_missing"
)

// RiskAssessment is a JurisdictionSummary joined with its threshold rule.
type RiskAssessment struct {
	JurisdictionSummary
	MatchedRule              *rules.Rule     `json:"matchedRule,omitempty"`
	Severity                 Severity        `json:"severity"`
	OverSalesThreshold       bool            `json:"overSalesThreshold"`
	OverTransactionThreshold bool            `json:"overTransactionThreshold"`
	Proximity                decimal.Decimal `json:"proximity"`
	ThresholdDescription     string          `json:"thresholdDescription"`
}

// OverAnyThreshold reports whether either threshold was met.
func (a RiskAssessment) OverAnyThreshold() bool {
	return a.OverSalesThreshold || a.OverTransactionThreshold
}

// RiskReport is the evaluator output. Totals are always derived from Rows.
type RiskReport struct {
	Rows                            []RiskAssessment `json:"rows"`
	TotalSales                      decimal.Decimal  `json:"totalSales"`
	TotalOrders                     int              `json:"totalOrders"`
	JurisdictionsOverAnyThreshold   int              `json:"jurisdictionsOverAnyThreshold"`
	JurisdictionsOverSalesThreshold int              `json:"jurisdictionsOverSalesThreshold"`
}

// RunStatus tracks a report run through the job queue.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ReportRun is one persisted report request for a merchant realm.
type ReportRun struct {
	ID         string      `json:"id"`
	RealmID    string      `json:"realmId"`
	Basis      Basis       `json:"basis"`
	Period     Period      `json:"period"`
	Status     RunStatus   `json:"status"`
	Error      string      `json:"error,omitempty"`
	Report     *RiskReport `json:"report,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
}
