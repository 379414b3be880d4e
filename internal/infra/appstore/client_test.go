package appstore_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/varghand/varghand-admin-go/internal/domain"
	"github.com/varghand/varghand-admin-go/internal/infra/appstore"
	"github.com/varghand/varghand-admin-go/internal/infra/observability"
	"github.com/varghand/varghand-admin-go/internal/infra/resilience"
)

func testKeyPEM(t *testing.T) (string, *ecdsa.PublicKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}); err != nil {
		t.Fatal(err)
	}
	return buf.String(), &key.PublicKey
}

func newTestClient(t *testing.T, handler http.Handler, pemKey string) *appstore.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return appstore.NewClient(
		srv.Client(),
		srv.URL,
		appstore.Credentials{
			IssuerID:   "issuer-1",
			KeyID:      "KEY123",
			PrivateKey: pemKey,
			VendorID:   "88888888",
		},
		resilience.NewCircuitBreaker("appstore-test"),
		resilience.Config{MaxRetries: 0, InitialBackoff: time.Millisecond},
		observability.NewMetrics(),
		zap.NewNop(),
	)
}

func gzipTSV(t *testing.T, rows ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(strings.Join(rows, "\n"))); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const reportHeader = "Title\tSKU\tUnits\tDeveloper Proceeds\tCustomer Price\tCurrency of Proceeds\tCountry Code"

func TestFetchSales_ParsesGzipReport(t *testing.T) {
	pemKey, pub := testKeyPEM(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/salesReports", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("filter[frequency]") != "MONTHLY" || q.Get("filter[reportType]") != "SALES" {
			t.Errorf("unexpected report filters: %v", q)
		}
		if q.Get("filter[reportDate]") != "2024-03" {
			t.Errorf("expected reportDate 2024-03, got %q", q.Get("filter[reportDate]"))
		}
		if q.Get("filter[vendorNumber]") != "88888888" {
			t.Errorf("unexpected vendor number %q", q.Get("filter[vendorNumber]"))
		}

		// The bearer token must be a valid ES256 JWT for the Connect API.
		auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		token, err := jwt.Parse(auth, func(tok *jwt.Token) (any, error) { return pub, nil })
		if err != nil || !token.Valid {
			t.Errorf("invalid bearer token: %v", err)
		}
		if kid, _ := token.Header["kid"].(string); kid != "KEY123" {
			t.Errorf("expected kid header, got %q", kid)
		}
		if aud, _ := token.Claims.GetAudience(); len(aud) == 0 || aud[0] != "appstoreconnect-v1" {
			t.Errorf("unexpected audience %v", aud)
		}

		w.Header().Set("Content-Type", "application/a-gzip")
		w.Write(gzipTSV(t,
			reportHeader,
			"F.I.S.T. Companion\tfist-ios\t3\t7.00\t9.99\tUSD\tUS",
			"F.I.S.T. Companion\tfist-ios\t1\t5.60\t7.99\tEUR\tDE",
		))
	})

	client := newTestClient(t, mux, pemKey)

	records, err := client.FetchSales(context.Background(), 2024, time.March)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	first := records[0]
	if first.ID != "fist-ios:US:2024-03" {
		t.Errorf("unexpected id %q", first.ID)
	}
	if first.PaymentSource != "Apple IAP" {
		t.Errorf("unexpected payment source %q", first.PaymentSource)
	}
	if first.Quantity != 3 || first.TotalPrice != "9.99" {
		t.Errorf("unexpected quantities: %+v", first)
	}
	// Fee is the spread between customer price and developer proceeds.
	if first.Fee != "2.99" {
		t.Errorf("expected fee 2.99, got %s", first.Fee)
	}
	if first.Currency != "USD" || records[1].Currency != "EUR" {
		t.Errorf("unexpected currencies: %s, %s", first.Currency, records[1].Currency)
	}
}

func TestFetchSales_NoReportYields404AndEmptyResult(t *testing.T) {
	pemKey, _ := testKeyPEM(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/salesReports", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"status":"404"}]}`, http.StatusNotFound)
	})

	client := newTestClient(t, mux, pemKey)

	records, err := client.FetchSales(context.Background(), 2024, time.March)
	if err != nil {
		t.Fatalf("expected 404 to be an empty month, got %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", records)
	}
}

func TestFetchSales_SKUFallsBackToTitle(t *testing.T) {
	pemKey, _ := testKeyPEM(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/salesReports", func(w http.ResponseWriter, r *http.Request) {
		w.Write(gzipTSV(t,
			reportHeader,
			"F.I.S.T. Companion\t\t1\t5.00\t6.00\tUSD\t",
		))
	})

	client := newTestClient(t, mux, pemKey)

	records, err := client.FetchSales(context.Background(), 2024, time.March)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if records[0].ProductID != "F.I.S.T. Companion" {
		t.Errorf("expected title fallback, got %q", records[0].ProductID)
	}
	if records[0].ID != "F.I.S.T. Companion:2024-03" {
		t.Errorf("expected id without country, got %q", records[0].ID)
	}
}

func TestFetchSales_UnitPriceRoundTrip(t *testing.T) {
	pemKey, _ := testKeyPEM(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/salesReports", func(w http.ResponseWriter, r *http.Request) {
		w.Write(gzipTSV(t,
			reportHeader,
			"F.I.S.T. Companion\tfist-ios\t3\t7.00\t9.99\tUSD\tUS",
			"F.I.S.T. Companion\tfist-ios\t4\t14.00\t20.00\tUSD\tDE",
			"F.I.S.T. Companion\tfist-ios\t3\t7.00\t10.00\tUSD\tGB",
		))
	})

	client := newTestClient(t, mux, pemKey)

	records, err := client.FetchSales(context.Background(), 2024, time.March)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	// The unit price is the truncated per-unit share of the row total, so
	// quantity times unit price reconstructs the total within one cent.
	for _, rec := range records {
		if rec.Quantity <= 0 {
			t.Fatalf("expected positive quantity, got %d on %s", rec.Quantity, rec.ID)
		}
		unit, err := domain.ParseAmount(rec.UnitPrice)
		if err != nil {
			t.Fatalf("unparseable unit price %q on %s", rec.UnitPrice, rec.ID)
		}
		total, err := domain.ParseAmount(rec.TotalPrice)
		if err != nil {
			t.Fatalf("unparseable total price %q on %s", rec.TotalPrice, rec.ID)
		}
		diff := total - unit*int64(rec.Quantity)
		if diff < -1 || diff > 1 {
			t.Errorf("%s: quantity %d x unit %s differs from total %s by %d cents",
				rec.ID, rec.Quantity, rec.UnitPrice, rec.TotalPrice, diff)
		}
	}
}

func TestFetchSales_ServerErrorWrapped(t *testing.T) {
	pemKey, _ := testKeyPEM(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/salesReports", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusInternalServerError)
	})

	client := newTestClient(t, mux, pemKey)

	var extErr *domain.ErrExternalService
	_, err := client.FetchSales(context.Background(), 2024, time.March)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ErrExternalService, got %T: %v", err, err)
	}
}

func TestFetchSales_BadKeyFails(t *testing.T) {
	mux := http.NewServeMux()
	client := newTestClient(t, mux, "not-a-pem-key")

	_, err := client.FetchSales(context.Background(), 2024, time.March)
	if err == nil {
		t.Fatal("expected key parse failure")
	}
}
