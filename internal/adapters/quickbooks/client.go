// Package quickbooks fetches sales documents from the QuickBooks Online
// query API and normalizes them into domain transactions.
package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"

	"nexusradar/internal/domain"
	"nexusradar/internal/ports"
)

const (
	maxPageSize = 1000

	// intuitDomain is the registrable domain of every QuickBooks Online API host.
	intuitDomain = "intuit.com"
)

type Config struct {
	BaseURL      string
	AccessToken  string
	MinorVersion int
	PageSize     int
	Timeout      time.Duration
}

// APIError is returned for non-2xx responses and query faults.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quickbooks: status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	base     *url.URL
	token    string
	minor    int
	pageSize int
	http     *http.Client
	log      *zap.Logger
}

var _ ports.TransactionSource = (*Client)(nil)

func New(cfg Config, log *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("quickbooks: invalid base url %q", cfg.BaseURL)
	}
	if err := checkHost(base.Hostname()); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:     base,
		token:    cfg.AccessToken,
		minor:    cfg.MinorVersion,
		pageSize: pageSize,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}, nil
}

// checkHost keeps the bearer token on Intuit hosts. Loopback hosts are allowed
// for local stubs.
func checkHost(host string) error {
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() {
			return nil
		}
		return fmt.Errorf("quickbooks: base url host %s is not an Intuit host", host)
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return fmt.Errorf("quickbooks: base url host %s: %w", host, err)
	}
	if registrable != intuitDomain {
		return fmt.Errorf("quickbooks: base url host %s is not an Intuit host", host)
	}
	return nil
}

// Fetch returns every invoice and sales receipt of realmID dated inside period.
func (c *Client) Fetch(ctx context.Context, realmID string, period domain.Period) ([]domain.Transaction, error) {
	var invoices, receipts []domain.Transaction
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		invoices, err = c.fetchAll(gctx, realmID, "Invoice", domain.SourceInvoice, period)
		return err
	})
	g.Go(func() error {
		var err error
		receipts, err = c.fetchAll(gctx, realmID, "SalesReceipt", domain.SourceCashReceipt, period)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	c.log.Debug("quickbooks fetch complete",
		zap.String("realm_id", realmID),
		zap.Int("invoices", len(invoices)),
		zap.Int("sales_receipts", len(receipts)),
	)
	return append(invoices, receipts...), nil
}

func (c *Client) fetchAll(ctx context.Context, realmID, entity string, kind domain.SourceKind, period domain.Period) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for start := 1; ; start += c.pageSize {
		q := fmt.Sprintf("select * from %s where TxnDate >= '%s' and TxnDate <= '%s' STARTPOSITION %d MAXRESULTS %d",
			entity, period.From, period.To, start, c.pageSize)
		docs, err := c.query(ctx, realmID, entity, q)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", entity, err)
		}
		for _, d := range docs {
			out = append(out, d.transaction(kind))
		}
		if len(docs) < c.pageSize {
			return out, nil
		}
	}
}

type address struct {
	CountrySubDivisionCode string `json:"CountrySubDivisionCode"`
}

type document struct {
	ID       string          `json:"Id"`
	TxnDate  domain.Date     `json:"TxnDate"`
	TotalAmt decimal.Decimal `json:"TotalAmt"`
	Balance  decimal.Decimal `json:"Balance"`
	ShipAddr *address        `json:"ShipAddr"`
	BillAddr *address        `json:"BillAddr"`
}

func (d document) transaction(kind domain.SourceKind) domain.Transaction {
	t := domain.Transaction{
		DocumentID:         d.ID,
		Date:               d.TxnDate,
		TotalAmount:        d.TotalAmt,
		OutstandingBalance: d.Balance,
		SourceKind:         kind,
	}
	if d.ShipAddr != nil {
		t.ShipJurisdiction = d.ShipAddr.CountrySubDivisionCode
	}
	if d.BillAddr != nil {
		t.BillJurisdiction = d.BillAddr.CountrySubDivisionCode
	}
	return t
}

type fault struct {
	Error []struct {
		Message string `json:"Message"`
		Detail  string `json:"Detail"`
	} `json:"Error"`
}

func (f *fault) message() string {
	if f == nil || len(f.Error) == 0 {
		return ""
	}
	e := f.Error[0]
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}
	return e.Message
}

func (c *Client) query(ctx context.Context, realmID, entity, q string) ([]document, error) {
	endpoint := c.base.JoinPath("v3", "company", realmID, "query")
	params := url.Values{}
	if c.minor > 0 {
		params.Set("minorversion", fmt.Sprint(c.minor))
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewBufferString(q))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/text")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, err
	}

	var payload struct {
		QueryResponse map[string]json.RawMessage `json:"QueryResponse"`
		Fault         *fault                     `json:"Fault"`
	}
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode/100 != 2 {
		msg := payload.Fault.message()
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	if msg := payload.Fault.message(); msg != "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	raw, ok := payload.QueryResponse[entity]
	if !ok {
		return nil, nil
	}
	var docs []document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", entity, err)
	}
	return docs, nil
}
