// Package appstore downloads monthly sales reports from the App Store
// Connect API and maps each report row into the common SaleRecord shape.
package appstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/varghand/varghand-admin-go/internal/domain"
	"github.com/varghand/varghand-admin-go/internal/infra/observability"
	"github.com/varghand/varghand-admin-go/internal/infra/resilience"
)

var tracer = otel.Tracer("appstore")

const (
	defaultBaseURL = "https://api.appstoreconnect.apple.com"

	tokenAudience = "appstoreconnect-v1"
	tokenTTL      = 20 * time.Minute

	sourceLabel = "Apple IAP"
)

// Credentials hold the App Store Connect API key material.
type Credentials struct {
	IssuerID   string
	KeyID      string
	PrivateKey string // PEM-encoded EC private key, \n-escaped in env
	VendorID   string
}

// Client wraps HTTP calls to the App Store Connect API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	creds      Credentials
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewClient creates an App Store Connect client. baseURL is normally empty
// and defaults to the public API; tests point it at a stub server.
func NewClient(httpClient *http.Client, baseURL string, creds Credentials, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		creds:      creds,
		cb:         cb,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
	}
}

// Name implements port.SalesSource.
func (c *Client) Name() string { return domain.ChannelAppStore }

// signedToken mints a short-lived ES256 token for the Connect API.
func (c *Client) signedToken(now time.Time) (string, error) {
	pem := strings.ReplaceAll(c.creds.PrivateKey, `\n`, "\n")
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(pem))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": c.creds.IssuerID,
		"exp": now.Add(tokenTTL).Unix(),
		"aud": tokenAudience,
	})
	token.Header["kid"] = c.creds.KeyID

	return token.SignedString(key)
}

// FetchSales implements port.SalesSource. It downloads the month's summary
// sales report (gzip-compressed TSV) and maps each row to one SaleRecord.
// A 404 means no report exists yet for the period and yields an empty
// result, not an error.
func (c *Client) FetchSales(ctx context.Context, year int, month time.Month) ([]domain.SaleRecord, error) {
	ctx, span := tracer.Start(ctx, "AppStore.FetchSales")
	defer span.End()
	span.SetAttributes(attribute.String("period", domain.YearMonthKey(year, month)))

	var records []domain.SaleRecord

	_, err := c.cb.Execute(func() (any, error) {
		raw, found, err := c.downloadReport(ctx, year, month)
		if err != nil {
			return nil, err
		}
		if !found {
			c.logger.Debug("appstore: no report for period",
				zap.String("period", domain.YearMonthKey(year, month)),
			)
			return nil, nil
		}
		r, err := c.parseReport(raw, year, month)
		if err != nil {
			return nil, err
		}
		records = r
		return nil, nil
	})
	if err != nil {
		c.metrics.IncrExternalError(domain.ChannelAppStore)
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, &domain.ErrCircuitOpen{Service: "appstore"}
		case errors.Is(err, context.DeadlineExceeded):
			return nil, &domain.ErrTimeout{Operation: "appstore: fetch sales"}
		}
		return nil, &domain.ErrExternalService{Service: "appstore", Err: err}
	}

	if records == nil {
		records = []domain.SaleRecord{}
	}
	c.metrics.AddSaleRecords(domain.ChannelAppStore, len(records))
	return records, nil
}

// downloadReport fetches the compressed report. found is false on 404.
func (c *Client) downloadReport(ctx context.Context, year int, month time.Month) ([]byte, bool, error) {
	token, err := c.signedToken(time.Now())
	if err != nil {
		return nil, false, err
	}

	q := url.Values{}
	q.Set("filter[frequency]", "MONTHLY")
	q.Set("filter[reportType]", "SALES")
	q.Set("filter[reportSubType]", "SUMMARY")
	q.Set("filter[vendorNumber]", c.creds.VendorID)
	q.Set("filter[reportDate]", domain.YearMonthKey(year, month))

	var (
		raw   []byte
		found bool
	)
	err = resilience.RetryWithBackoff(ctx, c.cfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/v1/salesReports?"+q.Encode(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusNotFound {
			found = false
			return nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("appstore returned status %d: %s", resp.StatusCode, string(body))
		}

		raw = body
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	c.metrics.IncrPagesFetched(domain.ChannelAppStore)
	return raw, found, nil
}

// parseReport decompresses and parses the tab-delimited report. The month
// bucket comes from the requested period: summary rows carry no timestamps.
func (c *Client) parseReport(raw []byte, year int, month time.Month) ([]domain.SaleRecord, error) {
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decompress report: %w", err)
	}
	defer gz.Close()

	r := csv.NewReader(gz)
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	if len(rows) == 0 {
		return []domain.SaleRecord{}, nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[strings.TrimSpace(name)] = i
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	ym := domain.YearMonthKey(year, month)
	records := make([]domain.SaleRecord, 0, len(rows)-1)

	for _, row := range rows[1:] {
		title := field(row, "Title")
		sku := field(row, "SKU")
		units, _ := strconv.Atoi(field(row, "Units"))

		total, err := domain.ParseAmount(field(row, "Customer Price"))
		if err != nil {
			total = 0
		}
		proceeds, err := domain.ParseAmount(field(row, "Developer Proceeds"))
		if err != nil {
			proceeds = 0
		}

		unit := int64(0)
		if units > 0 {
			unit = total / int64(units)
		}

		// No transaction ids in summary reports: the SKU plus the report
		// period (and country, which distinguishes price tiers) is the key.
		productID := sku
		if productID == "" {
			productID = title
		}
		country := field(row, "Country Code")
		idParts := []string{productID, ym}
		if country != "" {
			idParts = []string{productID, country, ym}
		}

		records = append(records, domain.SaleRecord{
			ID:            strings.Join(idParts, ":"),
			CreatedDate:   "",
			PaymentSource: sourceLabel,
			ProductID:     productID,
			ProductTitle:  title,
			Quantity:      units,
			UnitPrice:     domain.FormatCents(unit),
			TotalPrice:    domain.FormatCents(total),
			Currency:      domain.NormalizeCurrency(field(row, "Currency of Proceeds")),
			Country:       country,
			CustomerName:  "",
			Fee:           domain.FormatCents(total - proceeds),
			ShippingCost:  "0.00",
		})
	}

	return records, nil
}
