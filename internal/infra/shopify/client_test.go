package shopify_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/varghand/varghand-admin-go/internal/domain"
	"github.com/varghand/varghand-admin-go/internal/infra/observability"
	"github.com/varghand/varghand-admin-go/internal/infra/resilience"
	"github.com/varghand/varghand-admin-go/internal/infra/shopify"
)

func newTestClient(t *testing.T, handler http.Handler) *shopify.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return shopify.NewClient(
		srv.Client(),
		srv.URL,
		"varghand",
		"shpat_test",
		resilience.NewCircuitBreaker("shopify-test"),
		resilience.Config{MaxRetries: 0, InitialBackoff: time.Millisecond},
		observability.NewMetrics(),
		zap.NewNop(),
	)
}

func orderJSON(id int64, total, shipping, gateway string, items ...map[string]any) map[string]any {
	return map[string]any{
		"id":          id,
		"created_at":  "2024-03-10T12:00:00Z",
		"currency":    "SEK",
		"gateway":     gateway,
		"total_price": total,
		"total_shipping_price_set": map[string]any{
			"shop_money": map[string]any{"amount": shipping},
		},
		"customer": map[string]any{
			"first_name": "Astrid",
			"last_name":  "Larsson",
			"default_address": map[string]any{
				"country": "Sweden",
			},
		},
		"line_items": items,
	}
}

func item(id int64, title, sku, price string, qty int) map[string]any {
	return map[string]any{
		"id": id, "title": title, "sku": sku, "price": price, "quantity": qty,
	}
}

func TestFetchSales_FollowsLinkHeaderPagination(t *testing.T) {
	var pages int
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/api/2024-07/orders.json", func(w http.ResponseWriter, r *http.Request) {
		pages++
		q := r.URL.Query()
		switch q.Get("page_info") {
		case "":
			// First page carries the month filters.
			if q.Get("financial_status") != "paid" {
				t.Errorf("expected financial_status=paid, got %q", q.Get("financial_status"))
			}
			if q.Get("created_at_min") == "" || q.Get("created_at_max") == "" {
				t.Error("expected created_at bounds on first page")
			}
			w.Header().Set("Link", fmt.Sprintf(`<%s?limit=250&page_info=tok2>; rel="next"`, "https://varghand.myshopify.com/admin/api/2024-07/orders.json"))
			writeOrders(w, orderJSON(1, "100.00", "0.00", "shopify_payments", item(11, "F.I.S.T. Core Book", "fist-core", "100.00", 1)))
		case "tok2":
			// Follow-up pages must not carry filters.
			if q.Get("financial_status") != "" || q.Get("created_at_min") != "" {
				t.Error("expected no filters alongside page_info")
			}
			writeOrders(w, orderJSON(2, "200.00", "0.00", "shopify_payments", item(21, "F.I.S.T. Dice Set", "fist-dice", "200.00", 1)))
		default:
			t.Errorf("unexpected page_info %q", q.Get("page_info"))
		}
	})

	client := newTestClient(t, mux)

	records, err := client.FetchSales(context.Background(), 2024, time.March)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if pages != 2 {
		t.Errorf("expected 2 pages, got %d", pages)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != "1:11" || records[1].ID != "2:21" {
		t.Errorf("unexpected record ids: %s, %s", records[0].ID, records[1].ID)
	}
}

func TestFetchSales_FlattensLineItemsAndProrates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/api/2024-07/orders.json", func(w http.ResponseWriter, r *http.Request) {
		writeOrders(w, orderJSON(7, "300.00", "30.00", "shopify_payments",
			item(71, "F.I.S.T. Core Book", "fist-core", "200.00", 1),
			item(72, "F.I.S.T. Dice Set", "fist-dice", "50.00", 2),
		))
	})

	client := newTestClient(t, mux)

	records, err := client.FetchSales(context.Background(), 2024, time.March)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected one record per line item, got %d", len(records))
	}

	// Estimated fee: 300.00 * 1.5% + 1.85 = 6.35, split by revenue share.
	fee0, _ := domain.ParseAmount(records[0].Fee)
	fee1, _ := domain.ParseAmount(records[1].Fee)
	if fee0+fee1 != 635 {
		t.Errorf("expected fees to sum to 635 cents, got %d + %d", fee0, fee1)
	}

	// Shipping 30.00 split 200/300 and 100/300.
	ship0, _ := domain.ParseAmount(records[0].ShippingCost)
	ship1, _ := domain.ParseAmount(records[1].ShippingCost)
	if ship0 != 2000 || ship1 != 1000 {
		t.Errorf("expected shipping 2000/1000 cents, got %d/%d", ship0, ship1)
	}

	if records[0].ProductID != "fist-core" {
		t.Errorf("expected SKU as product id, got %s", records[0].ProductID)
	}
	if records[1].Quantity != 2 || records[1].TotalPrice != "100.00" {
		t.Errorf("unexpected second line: %+v", records[1])
	}
	if records[0].CustomerName != "Astrid Larsson" {
		t.Errorf("unexpected customer name %q", records[0].CustomerName)
	}
}

func TestFetchSales_SKUFallsBackToTitle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/api/2024-07/orders.json", func(w http.ResponseWriter, r *http.Request) {
		writeOrders(w, orderJSON(8, "100.00", "0.00", "shopify_payments",
			item(81, "The Fortress Of Death T-shirt", "", "100.00", 1),
		))
	})

	client := newTestClient(t, mux)

	records, err := client.FetchSales(context.Background(), 2024, time.March)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if records[0].ProductID != "The Fortress Of Death T-shirt" {
		t.Errorf("expected title fallback, got %q", records[0].ProductID)
	}
}

func TestFetchSales_EmptyGatewayDefaultsToShopify(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/api/2024-07/orders.json", func(w http.ResponseWriter, r *http.Request) {
		writeOrders(w, orderJSON(9, "50.00", "0.00", "",
			item(91, "F.I.S.T. Core Book", "fist-core", "50.00", 1),
		))
	})

	client := newTestClient(t, mux)

	records, err := client.FetchSales(context.Background(), 2024, time.March)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if records[0].PaymentSource != "Shopify" {
		t.Errorf("expected default payment source, got %q", records[0].PaymentSource)
	}
}

func TestFetchSales_UnparseableLastLineKeepsRemainder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/api/2024-07/orders.json", func(w http.ResponseWriter, r *http.Request) {
		writeOrders(w, orderJSON(10, "30.00", "3.00", "shopify_payments",
			item(101, "F.I.S.T. Core Book", "fist-core", "10.00", 1),
			item(102, "F.I.S.T. Dice Set", "fist-dice", "20.00", 1),
			item(103, "Mystery Item", "mystery", "not-a-price", 1),
		))
	})

	client := newTestClient(t, mux)

	records, err := client.FetchSales(context.Background(), 2024, time.March)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected the unparseable line to be dropped, got %d records", len(records))
	}

	// Estimated fee: 30.00 * 1.5% + 1.85 = 2.30. The rounding remainder lands
	// on the last emitted line, not the dropped one.
	fee0, _ := domain.ParseAmount(records[0].Fee)
	fee1, _ := domain.ParseAmount(records[1].Fee)
	if fee0+fee1 != 230 {
		t.Errorf("expected fees to sum to 230 cents, got %d + %d", fee0, fee1)
	}
	if fee1 != 154 {
		t.Errorf("expected remainder fee 154 on last emitted line, got %d", fee1)
	}

	ship0, _ := domain.ParseAmount(records[0].ShippingCost)
	ship1, _ := domain.ParseAmount(records[1].ShippingCost)
	if ship0+ship1 != 300 {
		t.Errorf("expected shipping to sum to 300 cents, got %d + %d", ship0, ship1)
	}
}

func TestFetchSales_EmptyMonth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/api/2024-07/orders.json", func(w http.ResponseWriter, r *http.Request) {
		writeOrders(w)
	})

	client := newTestClient(t, mux)

	records, err := client.FetchSales(context.Background(), 2024, time.March)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func writeOrders(w http.ResponseWriter, orders ...map[string]any) {
	if orders == nil {
		orders = []map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"orders": orders})
}
