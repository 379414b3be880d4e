// Package shopify fetches paid orders from the Shopify Admin API and maps
// each order line item into the common SaleRecord shape.
package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/varghand/varghand-admin-go/internal/domain"
	"github.com/varghand/varghand-admin-go/internal/infra/observability"
	"github.com/varghand/varghand-admin-go/internal/infra/resilience"
)

var tracer = otel.Tracer("shopify")

const (
	apiVersion = "2024-07"
	pageSize   = 250

	// Shopify does not expose per-order transaction fees on the orders API,
	// so the fee is estimated: 1.5% of the order total plus a fixed 1.85 in
	// the order currency, prorated across line items by revenue share.
	feePermille  = 15
	feeFixedCent = 185
)

// nextPageInfo extracts the opaque page token from a Link response header.
var nextPageInfo = regexp.MustCompile(`page_info=([^&>]+)`)

// Client wraps HTTP calls to the Shopify Admin API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewClient creates a Shopify client for one store. baseURL is normally
// empty and is derived from the store name; tests point it at a stub server.
func NewClient(httpClient *http.Client, baseURL, store, token string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.myshopify.com", store)
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
		cb:         cb,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
	}
}

// Name implements port.SalesSource.
func (c *Client) Name() string { return domain.ChannelShopify }

// --- Shopify API payloads ---

type order struct {
	ID        int64  `json:"id"`
	CreatedAt string `json:"created_at"`
	Currency  string `json:"currency"`
	Gateway   string `json:"gateway"`
	Customer  struct {
		FirstName      string `json:"first_name"`
		LastName       string `json:"last_name"`
		DefaultAddress struct {
			Country string `json:"country"`
		} `json:"default_address"`
	} `json:"customer"`
	TotalPrice            string `json:"total_price"`
	TotalShippingPriceSet struct {
		ShopMoney struct {
			Amount string `json:"amount"`
		} `json:"shop_money"`
	} `json:"total_shipping_price_set"`
	LineItems []orderLineItem `json:"line_items"`
}

type orderLineItem struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

type orderList struct {
	Orders []order `json:"orders"`
}

// FetchSales implements port.SalesSource. It lists the month's paid orders
// (page-token pagination from the Link header) and flattens each order into
// one SaleRecord per line item, prorating shipping and the estimated
// transaction fee by revenue share.
func (c *Client) FetchSales(ctx context.Context, year int, month time.Month) ([]domain.SaleRecord, error) {
	ctx, span := tracer.Start(ctx, "Shopify.FetchSales")
	defer span.End()
	span.SetAttributes(attribute.String("period", domain.YearMonthKey(year, month)))

	var records []domain.SaleRecord

	_, err := c.cb.Execute(func() (any, error) {
		orders, err := c.listOrders(ctx, year, month)
		if err != nil {
			return nil, err
		}
		records = c.mapOrders(orders)
		return nil, nil
	})
	if err != nil {
		c.metrics.IncrExternalError(domain.ChannelShopify)
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, &domain.ErrCircuitOpen{Service: "shopify"}
		case errors.Is(err, context.DeadlineExceeded):
			return nil, &domain.ErrTimeout{Operation: "shopify: fetch sales"}
		}
		return nil, &domain.ErrExternalService{Service: "shopify", Err: err}
	}

	c.metrics.AddSaleRecords(domain.ChannelShopify, len(records))
	return records, nil
}

// listOrders pages through orders.json. The first request carries the month
// filters; follow-up requests may only carry limit and page_info (Shopify
// rejects filter params alongside a page token).
func (c *Client) listOrders(ctx context.Context, year int, month time.Month) ([]order, error) {
	from, to := domain.MonthBounds(year, month)

	var all []order
	pageInfo := ""

	for {
		q := url.Values{}
		q.Set("limit", fmt.Sprint(pageSize))
		if pageInfo == "" {
			q.Set("status", "any")
			q.Set("financial_status", "paid")
			q.Set("created_at_min", from.Format(time.RFC3339))
			q.Set("created_at_max", to.Format(time.RFC3339))
		} else {
			q.Set("page_info", pageInfo)
		}

		var page orderList
		link, err := c.doGet(ctx, "/admin/api/"+apiVersion+"/orders.json", q, &page)
		if err != nil {
			return nil, fmt.Errorf("list orders: %w", err)
		}
		c.metrics.IncrPagesFetched(domain.ChannelShopify)

		all = append(all, page.Orders...)

		pageInfo = nextToken(link)
		if pageInfo == "" {
			break
		}
	}

	return all, nil
}

// nextToken returns the page_info value of the rel="next" link, or "".
func nextToken(linkHeader string) string {
	for _, part := range strings.Split(linkHeader, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		if m := nextPageInfo.FindStringSubmatch(part); m != nil {
			return m[1]
		}
	}
	return ""
}

func (c *Client) mapOrders(orders []order) []domain.SaleRecord {
	var records []domain.SaleRecord
	for _, o := range orders {
		records = append(records, c.mapOrder(o)...)
	}
	return records
}

// parsedLine is a line item whose price survived parsing, with the line
// total precomputed in cents.
type parsedLine struct {
	item  orderLineItem
	unit  int64
	total int64
}

// mapOrder flattens one order into per-line-item records. Order-level
// shipping and the estimated fee are prorated by each line's share of the
// order total, with the rounding remainder on the last emitted line.
// Unparseable lines are dropped before proration so they never carry the
// remainder.
func (c *Client) mapOrder(o order) []domain.SaleRecord {
	orderTotal, err := domain.ParseAmount(o.TotalPrice)
	if err != nil {
		c.logger.Warn("shopify: unparseable order total",
			zap.Int64("order_id", o.ID),
			zap.String("total_price", o.TotalPrice),
		)
		return nil
	}

	shipping := int64(0)
	if amt := o.TotalShippingPriceSet.ShopMoney.Amount; amt != "" {
		shipping, _ = domain.ParseAmount(amt)
	}
	estFee := orderTotal*feePermille/1000 + feeFixedCent

	source := o.Gateway
	if source == "" {
		source = "Shopify"
	}
	customer := strings.TrimSpace(o.Customer.FirstName + " " + o.Customer.LastName)
	currency := domain.NormalizeCurrency(o.Currency)

	lines := make([]parsedLine, 0, len(o.LineItems))
	for _, item := range o.LineItems {
		unit, err := domain.ParseAmount(item.Price)
		if err != nil {
			c.logger.Warn("shopify: unparseable line price",
				zap.Int64("order_id", o.ID),
				zap.Int64("line_item_id", item.ID),
				zap.String("price", item.Price),
			)
			continue
		}
		lines = append(lines, parsedLine{item: item, unit: unit, total: unit * int64(item.Quantity)})
	}

	records := make([]domain.SaleRecord, 0, len(lines))
	var feeUsed, shippingUsed int64
	for i, line := range lines {
		var fee, lineShipping int64
		if orderTotal > 0 {
			if i == len(lines)-1 {
				fee = estFee - feeUsed
				lineShipping = shipping - shippingUsed
			} else {
				fee = estFee * line.total / orderTotal
				lineShipping = shipping * line.total / orderTotal
				feeUsed += fee
				shippingUsed += lineShipping
			}
		}

		productID := line.item.SKU
		if productID == "" {
			productID = line.item.Title
		}

		records = append(records, domain.SaleRecord{
			ID:            fmt.Sprintf("%d:%d", o.ID, line.item.ID),
			CreatedDate:   o.CreatedAt,
			PaymentSource: source,
			ProductID:     productID,
			ProductTitle:  line.item.Title,
			Quantity:      line.item.Quantity,
			UnitPrice:     domain.FormatCents(line.unit),
			TotalPrice:    domain.FormatCents(line.total),
			Currency:      currency,
			Country:       o.Customer.DefaultAddress.Country,
			CustomerName:  customer,
			Fee:           domain.FormatCents(fee),
			ShippingCost:  domain.FormatCents(lineShipping),
		})
	}
	return records
}

// doGet executes an authenticated GET with retry and returns the Link header
// alongside decoding the body. The retry wraps a single request, never a
// pagination sequence.
func (c *Client) doGet(ctx context.Context, path string, query url.Values, out any) (string, error) {
	var link string
	err := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-Shopify-Access-Token", c.token)

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
			return fmt.Errorf("shopify returned status %d: %s", resp.StatusCode, string(body))
		}

		link = resp.Header.Get("Link")
		return json.Unmarshal(body, out)
	})
	return link, err
}
