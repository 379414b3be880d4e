package service_test

import (
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/varghand/varghand-admin-go/internal/domain"
	"github.com/varghand/varghand-admin-go/internal/service"
)

func sale(productID, currency, source, total, fee, shipping string, qty int) domain.SaleRecord {
	return domain.SaleRecord{
		ID:            "id-" + productID,
		PaymentSource: source,
		ProductID:     productID,
		ProductTitle:  productID,
		Quantity:      qty,
		TotalPrice:    total,
		Currency:      currency,
		Fee:           fee,
		ShippingCost:  shipping,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAggregate_SumsWithinGroup(t *testing.T) {
	records := []domain.SaleRecord{
		sale("fist-core", "USD", "Stripe", "10.00", "0.59", "0.00", 1),
		sale("fist-core", "USD", "Stripe", "5.00", "0.35", "0.00", 1),
	}

	rows := service.Aggregate(records, service.CostTable{})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	row := rows[0]
	if row.NumberOfSales != 2 {
		t.Errorf("expected 2 sales, got %d", row.NumberOfSales)
	}
	if !almostEqual(row.TotalAmount, 15.00) {
		t.Errorf("expected total 15.00, got %f", row.TotalAmount)
	}
	if !almostEqual(row.TotalFee, 0.94) {
		t.Errorf("expected fee 0.94, got %f", row.TotalFee)
	}
	want := (15.00 - 0.94) / 1.25
	if !almostEqual(row.NetSales, want) {
		t.Errorf("expected net %f, got %f", want, row.NetSales)
	}
}

func TestAggregate_GroupsByProductCurrencyAndSource(t *testing.T) {
	records := []domain.SaleRecord{
		sale("fist-core", "USD", "Stripe", "10.00", "0.00", "0.00", 1),
		sale("fist-core", "EUR", "Stripe", "10.00", "0.00", "0.00", 1),
		sale("fist-core", "USD", "Shopify", "10.00", "0.00", "0.00", 1),
		sale("death-star", "USD", "Stripe", "10.00", "0.00", "0.00", 1),
	}

	rows := service.Aggregate(records, service.CostTable{})
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
}

func TestAggregate_FoldsStripeGatewayVariants(t *testing.T) {
	records := []domain.SaleRecord{
		sale("fist-core", "USD", "Stripe", "10.00", "0.00", "0.00", 1),
		sale("fist-core", "USD", "Stripe (fast checkout)", "10.00", "0.00", "0.00", 1),
		sale("fist-core", "USD", "PayPal (through Stripe)", "10.00", "0.00", "0.00", 1),
	}

	rows := service.Aggregate(records, service.CostTable{})
	if len(rows) != 1 {
		t.Fatalf("expected folded row, got %d rows", len(rows))
	}
	if rows[0].PaymentSource != "Stripe" {
		t.Errorf("expected source 'Stripe', got %q", rows[0].PaymentSource)
	}
	if rows[0].NumberOfSales != 3 {
		t.Errorf("expected 3 sales, got %d", rows[0].NumberOfSales)
	}
}

func TestAggregate_PrintingCostPerUnit(t *testing.T) {
	costs := service.CostTable{"F.I.S.T. T-shirt": 10000}
	records := []domain.SaleRecord{
		sale("F.I.S.T. T-shirt", "SEK", "Shopify", "900.00", "0.00", "0.00", 3),
	}

	rows := service.Aggregate(records, costs)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !almostEqual(rows[0].PrintingCost, 300.00) {
		t.Errorf("expected printing cost 300.00, got %f", rows[0].PrintingCost)
	}
	want := (900.00 - 300.00) / 1.25
	if !almostEqual(rows[0].NetSales, want) {
		t.Errorf("expected net %f, got %f", want, rows[0].NetSales)
	}
}

func TestAggregate_OrderIndependent(t *testing.T) {
	records := []domain.SaleRecord{
		sale("a", "USD", "Stripe", "10.00", "1.00", "0.00", 1),
		sale("b", "USD", "Stripe", "20.00", "2.00", "1.00", 2),
		sale("a", "EUR", "Shopify", "30.00", "3.00", "2.00", 3),
		sale("a", "USD", "Stripe (fast checkout)", "40.00", "4.00", "0.00", 1),
		sale("c", "SEK", "Apple IAP", "50.00", "5.00", "0.00", 4),
	}

	want := service.Aggregate(records, service.DefaultCostTable())

	shuffled := make([]domain.SaleRecord, len(records))
	copy(shuffled, records)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got := service.Aggregate(shuffled, service.DefaultCostTable())
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("aggregation depends on record order:\n got %+v\nwant %+v", got, want)
		}
	}
}

func TestAggregate_AssociativeAcrossBatches(t *testing.T) {
	// Aggregating all records at once must equal aggregating each batch
	// separately and merging the resulting rows by group key.
	batches := [][]domain.SaleRecord{
		{
			sale("a", "USD", "Stripe", "10.00", "1.00", "0.00", 1),
			sale("b", "USD", "Shopify", "20.00", "2.00", "1.00", 2),
		},
		{
			sale("a", "USD", "Stripe (fast checkout)", "40.00", "4.00", "0.00", 1),
			sale("c", "SEK", "Apple IAP", "50.00", "5.00", "0.00", 4),
		},
		{
			sale("a", "USD", "PayPal (through Stripe)", "15.00", "1.50", "0.00", 1),
			sale("b", "USD", "Shopify", "20.00", "2.00", "1.00", 1),
			sale("F.I.S.T. T-shirt", "SEK", "Shopify", "300.00", "0.00", "10.00", 1),
		},
	}

	var all []domain.SaleRecord
	for _, batch := range batches {
		all = append(all, batch...)
	}
	combined := service.Aggregate(all, service.DefaultCostTable())

	type key struct{ product, currency, source string }
	merged := make(map[key]domain.RoyaltyRow)
	for _, batch := range batches {
		for _, row := range service.Aggregate(batch, service.DefaultCostTable()) {
			k := key{row.ProductID, row.Currency, row.PaymentSource}
			acc := merged[k]
			acc.NumberOfSales += row.NumberOfSales
			acc.TotalAmount += row.TotalAmount
			acc.TotalFee += row.TotalFee
			acc.ShippingCost += row.ShippingCost
			acc.PrintingCost += row.PrintingCost
			acc.NetSales += row.NetSales
			merged[k] = acc
		}
	}

	if len(combined) != len(merged) {
		t.Fatalf("expected %d rows, got %d", len(merged), len(combined))
	}
	for _, row := range combined {
		want, ok := merged[key{row.ProductID, row.Currency, row.PaymentSource}]
		if !ok {
			t.Fatalf("combined row %s/%s/%s missing from merged batches", row.ProductID, row.Currency, row.PaymentSource)
		}
		if row.NumberOfSales != want.NumberOfSales {
			t.Errorf("%s: expected %d sales, got %d", row.ProductID, want.NumberOfSales, row.NumberOfSales)
		}
		if !almostEqual(row.TotalAmount, want.TotalAmount) {
			t.Errorf("%s: expected total %f, got %f", row.ProductID, want.TotalAmount, row.TotalAmount)
		}
		if !almostEqual(row.TotalFee, want.TotalFee) {
			t.Errorf("%s: expected fee %f, got %f", row.ProductID, want.TotalFee, row.TotalFee)
		}
		if !almostEqual(row.ShippingCost, want.ShippingCost) {
			t.Errorf("%s: expected shipping %f, got %f", row.ProductID, want.ShippingCost, row.ShippingCost)
		}
		if !almostEqual(row.PrintingCost, want.PrintingCost) {
			t.Errorf("%s: expected printing %f, got %f", row.ProductID, want.PrintingCost, row.PrintingCost)
		}
		if !almostEqual(row.NetSales, want.NetSales) {
			t.Errorf("%s: expected net %f, got %f", row.ProductID, want.NetSales, row.NetSales)
		}
	}
}

func TestAggregate_EmptyProductIDFormsGroup(t *testing.T) {
	records := []domain.SaleRecord{
		sale("", "USD", "Stripe", "10.00", "0.00", "0.00", 1),
		sale("", "USD", "Stripe", "10.00", "0.00", "0.00", 1),
	}

	rows := service.Aggregate(records, service.CostTable{})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].NumberOfSales != 2 {
		t.Errorf("expected 2 sales, got %d", rows[0].NumberOfSales)
	}
}

func TestAggregate_UnparseableAmountsCountAsZero(t *testing.T) {
	records := []domain.SaleRecord{
		sale("a", "USD", "Stripe", "not-a-number", "0.10", "0.00", 1),
		sale("a", "USD", "Stripe", "10.00", "0.10", "0.00", 1),
	}

	rows := service.Aggregate(records, service.CostTable{})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].NumberOfSales != 2 {
		t.Errorf("expected both records counted, got %d", rows[0].NumberOfSales)
	}
	if !almostEqual(rows[0].TotalAmount, 10.00) {
		t.Errorf("expected total 10.00, got %f", rows[0].TotalAmount)
	}
}

func TestAggregate_Empty(t *testing.T) {
	rows := service.Aggregate(nil, service.DefaultCostTable())
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
}
