package quickbooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexusradar/internal/domain"
)

var period = domain.Period{From: domain.NewDate(2025, 1, 1), To: domain.NewDate(2025, 3, 31)}

type fakeQBO struct {
	mu      sync.Mutex
	queries []string
	pages   map[string][]string
}

func (f *fakeQBO) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	q := string(body)
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer tok" {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"Fault":{"Error":[{"Message":"AuthenticationFailed","Detail":"token expired"}],"type":"AUTHENTICATION"}}`)
		return
	}
	if r.URL.Path != "/v3/company/realm-1/query" || r.URL.Query().Get("minorversion") != "65" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	entity := "Invoice"
	if strings.Contains(q, "from SalesReceipt") {
		entity = "SalesReceipt"
	}
	for marker, docs := range f.pages {
		if strings.HasPrefix(marker, entity+"@") && strings.Contains(q, "STARTPOSITION "+strings.TrimPrefix(marker, entity+"@")+" ") {
			fmt.Fprintf(w, `{"QueryResponse":{%q:[%s]}}`, entity, strings.Join(docs, ","))
			return
		}
	}
	fmt.Fprint(w, `{"QueryResponse":{}}`)
}

func newClient(t *testing.T, h http.Handler, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/", AccessToken: token, MinorVersion: 65, PageSize: 2}, nil)
	require.NoError(t, err)
	return c
}

func TestFetchPaginatesBothEntities(t *testing.T) {
	fake := &fakeQBO{pages: map[string][]string{
		"Invoice@1": {
			`{"Id":"101","TxnDate":"2025-01-05","TotalAmt":1200.50,"Balance":0,"ShipAddr":{"CountrySubDivisionCode":"CA"}}`,
			`{"Id":"102","TxnDate":"2025-01-06","TotalAmt":99.99,"Balance":10,"BillAddr":{"CountrySubDivisionCode":"ny"}}`,
		},
		"Invoice@3": {
			`{"Id":"103","TxnDate":"2025-02-01","TotalAmt":"300.00","Balance":0}`,
		},
		"SalesReceipt@1": {
			`{"Id":"201","TxnDate":"2025-03-01","TotalAmt":50,"ShipAddr":{"CountrySubDivisionCode":"TX"},"BillAddr":{"CountrySubDivisionCode":"OK"}}`,
		},
	}}
	c := newClient(t, fake, "tok")

	txns, err := c.Fetch(context.Background(), "realm-1", period)
	require.NoError(t, err)
	require.Len(t, txns, 4)

	assert.Equal(t, "101", txns[0].DocumentID)
	assert.Equal(t, domain.SourceInvoice, txns[0].SourceKind)
	assert.True(t, decimal.RequireFromString("1200.50").Equal(txns[0].TotalAmount))
	assert.Equal(t, "CA", txns[0].ShipJurisdiction)
	assert.Equal(t, "2025-01-05", txns[0].Date.String())

	assert.Equal(t, "ny", txns[1].BillJurisdiction)
	assert.True(t, decimal.NewFromInt(10).Equal(txns[1].OutstandingBalance))
	assert.True(t, decimal.NewFromInt(300).Equal(txns[2].TotalAmount))

	assert.Equal(t, domain.SourceCashReceipt, txns[3].SourceKind)
	assert.Equal(t, "TX", txns[3].ShipJurisdiction)
	assert.Equal(t, "OK", txns[3].BillJurisdiction)

	assert.Len(t, fake.queries, 3)
	assert.Contains(t, fake.queries, "select * from Invoice where TxnDate >= '2025-01-01' and TxnDate <= '2025-03-31' STARTPOSITION 1 MAXRESULTS 2")
	assert.Contains(t, fake.queries, "select * from Invoice where TxnDate >= '2025-01-01' and TxnDate <= '2025-03-31' STARTPOSITION 3 MAXRESULTS 2")
}

func TestFetchReportsFaults(t *testing.T) {
	c := newClient(t, &fakeQBO{}, "stale")

	_, err := c.Fetch(context.Background(), "realm-1", period)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "token expired")
}

func TestFetchReportsFaultWithOKStatus(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"Fault":{"Error":[{"Message":"QueryParserError"}]}}`)
	})
	c := newClient(t, h, "tok")

	_, err := c.Fetch(context.Background(), "realm-1", period)
	assert.ErrorContains(t, err, "QueryParserError")
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"}, nil)
	assert.Error(t, err)
}

func TestNewChecksHost(t *testing.T) {
	for _, base := range []string{
		"https://quickbooks.api.intuit.com",
		"https://sandbox-quickbooks.api.intuit.com/",
		"http://localhost:8089",
		"http://127.0.0.1:9000",
	} {
		_, err := New(Config{BaseURL: base, AccessToken: "tok"}, nil)
		assert.NoError(t, err, base)
	}
	for _, base := range []string{
		"https://quickbooks.example.com",
		"https://intuit.com.attacker.net",
		"http://10.0.0.8",
	} {
		_, err := New(Config{BaseURL: base, AccessToken: "tok"}, nil)
		assert.ErrorContains(t, err, "not an Intuit host", base)
	}
}
