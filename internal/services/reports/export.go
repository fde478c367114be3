package reports

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"nexusradar/internal/domain"
	"nexusradar/internal/domain/aggregator"
)

var exportHeader = []string{
	"document_id",
	"date",
	"source_kind",
	"jurisdiction",
	"total_amount",
	"outstanding_balance",
	"ship_jurisdiction",
	"bill_jurisdiction",
}

// Export writes the transactions counted by a completed run as CSV.
func (s *Service) Export(ctx context.Context, runID string, w io.Writer) error {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != domain.RunCompleted {
		return fmt.Errorf("%w: status is %s", ErrNotReady, run.Status)
	}
	txns, err := s.repo.CountedTransactions(ctx, runID)
	if err != nil {
		return fmt.Errorf("load counted transactions: %w", err)
	}
	return WriteCSV(w, txns)
}

// WriteCSV renders transactions with the jurisdiction each one was counted
// under.
func WriteCSV(w io.Writer, txns []domain.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, t := range txns {
		record := []string{
			t.DocumentID,
			t.Date.String(),
			string(t.SourceKind),
			aggregator.ResolveJurisdiction(t),
			t.TotalAmount.StringFixed(2),
			t.OutstandingBalance.StringFixed(2),
			t.ShipJurisdiction,
			t.BillJurisdiction,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
