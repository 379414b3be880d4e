// Package stripe fetches settled card charges from the Stripe API and maps
// them into the common SaleRecord shape.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/varghand/varghand-admin-go/internal/domain"
	"github.com/varghand/varghand-admin-go/internal/infra/observability"
	"github.com/varghand/varghand-admin-go/internal/infra/resilience"
)

var tracer = otel.Tracer("stripe")

const (
	defaultBaseURL = "https://api.stripe.com"

	pageSize = 100
	// Balance transactions are retrieved in chunks to respect API rate limits.
	balanceChunkSize = 50

	// Substituted when invoice/session line items cannot be resolved for a
	// charge. Product resolution is best-effort and never fails a fetch.
	unknownProduct = "Unknown product"
)

// paymentMethodLabels maps Stripe payment-method sub-types to the labels the
// royalty report folds at aggregation time. Unlisted types pass through.
var paymentMethodLabels = map[string]string{
	"card":   "Stripe",
	"link":   "Stripe (fast checkout)",
	"paypal": "PayPal (through Stripe)",
}

// Client wraps HTTP calls to the Stripe API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	bh         *resilience.Bulkhead
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewClient creates a Stripe client. baseURL is normally empty and defaults
// to the public API; tests point it at a stub server.
func NewClient(httpClient *http.Client, baseURL, secretKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = balanceChunkSize
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		secretKey:  secretKey,
		cb:         cb,
		cfg:        cfg,
		bh:         resilience.NewBulkhead(maxConcurrency),
		metrics:    metrics,
		logger:     logger,
	}
}

// Name implements port.SalesSource.
func (c *Client) Name() string { return domain.ChannelStripe }

// --- Stripe API payloads ---

type charge struct {
	ID                 string `json:"id"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	Created            int64  `json:"created"`
	Paid               bool   `json:"paid"`
	Refunded           bool   `json:"refunded"`
	BalanceTransaction string `json:"balance_transaction"`
	Invoice            string `json:"invoice"`
	PaymentIntent      string `json:"payment_intent"`
	BillingDetails     struct {
		Name string `json:"name"`
	} `json:"billing_details"`
	PaymentMethodDetails struct {
		Type string `json:"type"`
		Card struct {
			Country string `json:"country"`
		} `json:"card"`
	} `json:"payment_method_details"`
}

type chargeList struct {
	Data    []charge `json:"data"`
	HasMore bool     `json:"has_more"`
}

type balanceTransaction struct {
	ID  string `json:"id"`
	Fee int64  `json:"fee"`
}

// lineItem is the shared shape of invoice lines and checkout-session line
// items after mapping.
type lineItem struct {
	id       string
	product  string
	title    string
	quantity int64
	amount   int64 // total in minor units
}

type invoiceLineList struct {
	Data []struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		Quantity    int64  `json:"quantity"`
		Amount      int64  `json:"amount"`
		Price       struct {
			Product string `json:"product"`
		} `json:"price"`
	} `json:"data"`
}

type sessionList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

type sessionLineItemList struct {
	Data []struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		Quantity    int64  `json:"quantity"`
		AmountTotal int64  `json:"amount_total"`
		Price       struct {
			Product string `json:"product"`
		} `json:"price"`
	} `json:"data"`
}

// FetchSales implements port.SalesSource. It lists the month's settled,
// non-refunded charges (cursor pagination), resolves per-charge fees from
// balance transactions in chunks, and resolves product names from invoice or
// checkout-session line items best-effort.
func (c *Client) FetchSales(ctx context.Context, year int, month time.Month) ([]domain.SaleRecord, error) {
	ctx, span := tracer.Start(ctx, "Stripe.FetchSales")
	defer span.End()
	span.SetAttributes(attribute.String("period", domain.YearMonthKey(year, month)))

	var records []domain.SaleRecord

	_, err := c.cb.Execute(func() (any, error) {
		r, err := c.fetchMonth(ctx, year, month)
		if err != nil {
			return nil, err
		}
		records = r
		return nil, nil
	})
	if err != nil {
		c.metrics.IncrExternalError(domain.ChannelStripe)
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, &domain.ErrCircuitOpen{Service: "stripe"}
		case errors.Is(err, context.DeadlineExceeded):
			return nil, &domain.ErrTimeout{Operation: "stripe: fetch sales"}
		}
		return nil, &domain.ErrExternalService{Service: "stripe", Err: err}
	}

	c.metrics.AddSaleRecords(domain.ChannelStripe, len(records))
	return records, nil
}

func (c *Client) fetchMonth(ctx context.Context, year int, month time.Month) ([]domain.SaleRecord, error) {
	from, to := domain.MonthBounds(year, month)

	charges, err := c.listCharges(ctx, from, to)
	if err != nil {
		return nil, err
	}

	fees, err := c.fetchFees(ctx, charges)
	if err != nil {
		return nil, err
	}

	records := make([]domain.SaleRecord, 0, len(charges))
	for _, ch := range charges {
		if !ch.Paid || ch.Refunded {
			continue
		}
		records = append(records, c.mapCharge(ctx, ch, fees[ch.BalanceTransaction])...)
	}
	return records, nil
}

// listCharges pages through /v1/charges with a starting_after cursor. Pages
// must be fetched sequentially: each cursor comes from the previous response.
func (c *Client) listCharges(ctx context.Context, from, to time.Time) ([]charge, error) {
	var all []charge
	startingAfter := ""

	for {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(pageSize))
		q.Set("paid", "true")
		q.Set("created[gte]", strconv.FormatInt(from.Unix(), 10))
		q.Set("created[lte]", strconv.FormatInt(to.Unix(), 10))
		if startingAfter != "" {
			q.Set("starting_after", startingAfter)
		}

		var page chargeList
		if err := c.doGet(ctx, "/v1/charges", q, &page); err != nil {
			return nil, fmt.Errorf("list charges: %w", err)
		}
		c.metrics.IncrPagesFetched(domain.ChannelStripe)

		all = append(all, page.Data...)
		if !page.HasMore || len(page.Data) == 0 {
			break
		}
		startingAfter = page.Data[len(page.Data)-1].ID
	}

	return all, nil
}

// fetchFees retrieves the balance transaction for every charge, in chunks of
// balanceChunkSize with the chunk's lookups issued concurrently. The bulkhead
// caps how many lookups are in flight at once. Returns a map of
// balance-transaction id to fee in cents.
func (c *Client) fetchFees(ctx context.Context, charges []charge) (map[string]int64, error) {
	var ids []string
	for _, ch := range charges {
		if ch.BalanceTransaction != "" {
			ids = append(ids, ch.BalanceTransaction)
		}
	}

	fees := make(map[string]int64, len(ids))
	var mu sync.Mutex

	for start := 0; start < len(ids); start += balanceChunkSize {
		end := start + balanceChunkSize
		if end > len(ids) {
			end = len(ids)
		}

		g, gCtx := errgroup.WithContext(ctx)
		for _, id := range ids[start:end] {
			id := id
			g.Go(func() error {
				if err := c.bh.Acquire(gCtx); err != nil {
					return err
				}
				defer c.bh.Release()

				var tx balanceTransaction
				if err := c.doGet(gCtx, "/v1/balance_transactions/"+id, nil, &tx); err != nil {
					return fmt.Errorf("balance transaction %s: %w", id, err)
				}
				mu.Lock()
				fees[tx.ID] = tx.Fee
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return fees, nil
}

// mapCharge turns one charge into SaleRecords, one per resolved line item.
// The charge-level fee is prorated across line items by amount share, with
// the rounding remainder on the last line so the sum stays exact.
func (c *Client) mapCharge(ctx context.Context, ch charge, feeCents int64) []domain.SaleRecord {
	lines := c.resolveLineItems(ctx, ch)

	source := paymentMethodLabels[ch.PaymentMethodDetails.Type]
	if source == "" {
		source = ch.PaymentMethodDetails.Type
		if source == "" {
			source = "unknown"
		}
	}

	created := time.Unix(ch.Created, 0).UTC().Format(time.RFC3339)
	currency := domain.NormalizeCurrency(ch.Currency)

	records := make([]domain.SaleRecord, 0, len(lines))
	var feeUsed int64
	for i, line := range lines {
		fee := feeCents
		if ch.Amount > 0 && len(lines) > 1 {
			if i == len(lines)-1 {
				fee = feeCents - feeUsed
			} else {
				fee = feeCents * line.amount / ch.Amount
				feeUsed += fee
			}
		}

		unit := int64(0)
		if line.quantity > 0 {
			unit = line.amount / line.quantity
		}

		id := ch.ID
		if len(lines) > 1 && line.id != "" {
			id = ch.ID + ":" + line.id
		}

		productID := line.product
		if productID == "" {
			productID = line.title
		}

		records = append(records, domain.SaleRecord{
			ID:            id,
			CreatedDate:   created,
			PaymentSource: source,
			ProductID:     productID,
			ProductTitle:  line.title,
			Quantity:      int(line.quantity),
			UnitPrice:     domain.FormatCents(unit),
			TotalPrice:    domain.FormatCents(line.amount),
			Currency:      currency,
			Country:       ch.PaymentMethodDetails.Card.Country,
			CustomerName:  ch.BillingDetails.Name,
			Fee:           domain.FormatCents(fee),
			ShippingCost:  "0.00",
		})
	}
	return records
}

// resolveLineItems follows either the charge's invoice lines or its checkout
// session's line items. On any failure it falls back to a single placeholder
// line covering the whole charge amount rather than failing the fetch.
func (c *Client) resolveLineItems(ctx context.Context, ch charge) []lineItem {
	fallback := []lineItem{{title: unknownProduct, quantity: 1, amount: ch.Amount}}

	switch {
	case ch.Invoice != "":
		var lines invoiceLineList
		if err := c.doGet(ctx, "/v1/invoices/"+ch.Invoice+"/lines", url.Values{"limit": {"100"}}, &lines); err != nil {
			c.logger.Warn("stripe: could not resolve invoice lines",
				zap.String("charge_id", ch.ID),
				zap.String("invoice_id", ch.Invoice),
				zap.Error(err),
			)
			return fallback
		}
		items := make([]lineItem, 0, len(lines.Data))
		for _, l := range lines.Data {
			items = append(items, lineItem{
				id:       l.ID,
				product:  l.Price.Product,
				title:    l.Description,
				quantity: l.Quantity,
				amount:   l.Amount,
			})
		}
		if len(items) == 0 {
			return fallback
		}
		return items

	case ch.PaymentIntent != "":
		var sessions sessionList
		q := url.Values{"payment_intent": {ch.PaymentIntent}, "limit": {"1"}}
		if err := c.doGet(ctx, "/v1/checkout/sessions", q, &sessions); err != nil || len(sessions.Data) == 0 {
			c.logger.Warn("stripe: could not resolve checkout session",
				zap.String("charge_id", ch.ID),
				zap.Error(err),
			)
			return fallback
		}

		var lines sessionLineItemList
		path := "/v1/checkout/sessions/" + sessions.Data[0].ID + "/line_items"
		if err := c.doGet(ctx, path, url.Values{"limit": {"100"}}, &lines); err != nil {
			c.logger.Warn("stripe: could not resolve session line items",
				zap.String("charge_id", ch.ID),
				zap.String("session_id", sessions.Data[0].ID),
				zap.Error(err),
			)
			return fallback
		}
		items := make([]lineItem, 0, len(lines.Data))
		for _, l := range lines.Data {
			items = append(items, lineItem{
				id:       l.ID,
				product:  l.Price.Product,
				title:    l.Description,
				quantity: l.Quantity,
				amount:   l.AmountTotal,
			})
		}
		if len(items) == 0 {
			return fallback
		}
		return items
	}

	return fallback
}

// doGet executes an authenticated GET with retry. The retry wraps a single
// request, never a pagination sequence.
func (c *Client) doGet(ctx context.Context, path string, query url.Values, out any) error {
	return resilience.RetryWithBackoff(ctx, c.cfg, func() error {
		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.secretKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("stripe returned status %d: %s", resp.StatusCode, string(body))
		}

		return json.Unmarshal(body, out)
	})
}
