package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"nexusradar/internal/domain"
	"nexusradar/internal/ports"
)

var _ ports.ReportRepository = (*DB)(nil)

// CreateRun inserts a queued run and its job row in one transaction.
func (db *DB) CreateRun(ctx context.Context, run domain.ReportRun) (err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		INSERT INTO report_runs (id, realm_id, basis, period_from, period_to, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'queued', $6)
	`, run.ID, run.RealmID, string(run.Basis), run.Period.From.Time, run.Period.To.Time, run.CreatedAt); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO report_jobs (run_id) VALUES ($1)`, run.ID)
	return err
}

func (db *DB) GetRun(ctx context.Context, runID string) (domain.ReportRun, error) {
	var (
		run                        domain.ReportRun
		basis, status              string
		errText, totalSales        *string
		from, to                   time.Time
		totalOrders, overAny, over *int
		finished                   *time.Time
	)
	err := db.Pool.QueryRow(ctx, `
		SELECT id::text, realm_id, basis, period_from, period_to, status, error,
		       total_sales::text, total_orders, over_any_threshold, over_sales_threshold,
		       created_at, finished_at
		FROM report_runs WHERE id = $1
	`, runID).Scan(&run.ID, &run.RealmID, &basis, &from, &to, &status, &errText,
		&totalSales, &totalOrders, &overAny, &over, &run.CreatedAt, &finished)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReportRun{}, ports.ErrNotFound
	}
	if err != nil {
		return domain.ReportRun{}, err
	}
	run.Basis = domain.Basis(basis)
	run.Status = domain.RunStatus(status)
	run.Period = domain.Period{From: domain.DateOf(from), To: domain.DateOf(to)}
	run.FinishedAt = finished
	if errText != nil {
		run.Error = *errText
	}
	if totalSales == nil {
		return run, nil
	}

	report := &domain.RiskReport{}
	if report.TotalSales, err = decimal.NewFromString(*totalSales); err != nil {
		return domain.ReportRun{}, fmt.Errorf("postgres: total_sales: %w", err)
	}
	report.TotalOrders = deref(totalOrders)
	report.JurisdictionsOverAnyThreshold = deref(overAny)
	report.JurisdictionsOverSalesThreshold = deref(over)
	if report.Rows, err = db.rows(ctx, runID); err != nil {
		return domain.ReportRun{}, err
	}
	run.Report = report
	return run, nil
}

func (db *DB) rows(ctx context.Context, runID string) ([]domain.RiskAssessment, error) {
	rs, err := db.Pool.Query(ctx, `
		SELECT jurisdiction, order_count, total_sales::text, average_order::text, severity,
		       over_sales_threshold, over_transaction_threshold, proximity::text, threshold_description
		FROM report_rows WHERE run_id = $1 ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	out := []domain.RiskAssessment{}
	for rs.Next() {
		var (
			row                        domain.RiskAssessment
			sales, avg, prox, severity string
		)
		if err := rs.Scan(&row.Jurisdiction, &row.OrderCount, &sales, &avg, &severity,
			&row.OverSalesThreshold, &row.OverTransactionThreshold, &prox, &row.ThresholdDescription); err != nil {
			return nil, err
		}
		row.Severity = domain.Severity(severity)
		if row.TotalSales, err = decimal.NewFromString(sales); err != nil {
			return nil, err
		}
		if row.AverageOrder, err = decimal.NewFromString(avg); err != nil {
			return nil, err
		}
		if row.Proximity, err = decimal.NewFromString(prox); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

// SaveResult replaces the rows and counted transactions of a run and stores
// the report totals.
func (db *DB) SaveResult(ctx context.Context, runID string, report domain.RiskReport, counted []domain.Transaction) (err error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE report_runs
		SET total_sales = $2::numeric, total_orders = $3, over_any_threshold = $4, over_sales_threshold = $5
		WHERE id = $1
	`, runID, report.TotalSales.String(), report.TotalOrders,
		report.JurisdictionsOverAnyThreshold, report.JurisdictionsOverSalesThreshold)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	if _, err = tx.Exec(ctx, `DELETE FROM report_rows WHERE run_id = $1`, runID); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM report_transactions WHERE run_id = $1`, runID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, row := range report.Rows {
		batch.Queue(`
			INSERT INTO report_rows (run_id, position, jurisdiction, order_count, total_sales, average_order,
			                         severity, over_sales_threshold, over_transaction_threshold, proximity, threshold_description)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10::numeric, $11)
		`, runID, i, row.Jurisdiction, row.OrderCount, row.TotalSales.String(), row.AverageOrder.Round(4).String(),
			string(row.Severity), row.OverSalesThreshold, row.OverTransactionThreshold,
			row.Proximity.Round(6).String(), row.ThresholdDescription)
	}
	for i, t := range counted {
		var date *time.Time
		if !t.Date.IsZero() {
			d := t.Date.Time
			date = &d
		}
		batch.Queue(`
			INSERT INTO report_transactions (run_id, position, document_id, txn_date, total_amount,
			                                 outstanding_balance, ship_jurisdiction, bill_jurisdiction, source_kind)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9)
		`, runID, i, t.DocumentID, date, t.TotalAmount.String(), t.OutstandingBalance.String(),
			t.ShipJurisdiction, t.BillJurisdiction, string(t.SourceKind))
	}
	if batch.Len() == 0 {
		return nil
	}
	err = tx.SendBatch(ctx, batch).Close()
	return err
}

func (db *DB) CountedTransactions(ctx context.Context, runID string) ([]domain.Transaction, error) {
	rs, err := db.Pool.Query(ctx, `
		SELECT document_id, txn_date, total_amount::text, outstanding_balance::text,
		       ship_jurisdiction, bill_jurisdiction, source_kind
		FROM report_transactions WHERE run_id = $1 ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []domain.Transaction
	for rs.Next() {
		var (
			t                   domain.Transaction
			date                *time.Time
			amount, balance, sk string
		)
		if err := rs.Scan(&t.DocumentID, &date, &amount, &balance, &t.ShipJurisdiction, &t.BillJurisdiction, &sk); err != nil {
			return nil, err
		}
		if date != nil {
			t.Date = domain.DateOf(*date)
		}
		if t.TotalAmount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if t.OutstandingBalance, err = decimal.NewFromString(balance); err != nil {
			return nil, err
		}
		t.SourceKind = domain.SourceKind(sk)
		out = append(out, t)
	}
	return out, rs.Err()
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
