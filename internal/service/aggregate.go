package service

import (
	"sort"

	"github.com/varghand/varghand-admin-go/internal/domain"
)

// canonicalPaymentSources folds platform-specific gateway labels into the
// name used on royalty reports. Stripe surfaces Link and PayPal checkouts as
// separate sources, but they settle through the same Stripe account.
var canonicalPaymentSources = map[string]string{
	"Stripe (fast checkout)":  "Stripe",
	"PayPal (through Stripe)": "Stripe",
}

// CanonicalPaymentSource maps a raw payment source label to its report name.
func CanonicalPaymentSource(source string) string {
	if canonical, ok := canonicalPaymentSources[source]; ok {
		return canonical
	}
	return source
}

// CostTable maps a product id to its per-unit printing cost in cents.
// Products without an entry cost nothing to produce (digital goods).
type CostTable map[string]int64

// DefaultCostTable covers the physical products currently in the catalog.
// Keys are SKUs where the store assigns them; older records carry the
// product title instead, so those stay as fallback keys.
func DefaultCostTable() CostTable {
	return CostTable{
		"F.I.S.T. Deluxe Box Set":       10000,
		"The Fortress Of Death T-shirt": 10000,
		"F.I.S.T. T-shirt":              10000,
	}
}

// vatDivisor removes 25% VAT from gross figures when computing net sales.
const vatDivisor = 1.25

type groupKey struct {
	productID     string
	currency      string
	paymentSource string
}

type groupSum struct {
	quantity int
	total    int64
	fee      int64
	shipping int64
	printing int64
}

// Aggregate folds sale records into royalty report rows. Records group by
// (product id, currency, canonical payment source); quantities and monetary
// fields sum within a group, printing cost is per-unit from the cost table,
// and net sales is the remainder after fees, shipping, printing and VAT.
//
// The result is independent of record order and of how the input was
// batched: aggregating everything at once and merging per-month aggregates
// give the same rows.
func Aggregate(records []domain.SaleRecord, costs CostTable) []domain.RoyaltyRow {
	groups := make(map[groupKey]*groupSum)
	order := make([]groupKey, 0)

	for _, rec := range records {
		key := groupKey{
			productID:     rec.ProductID,
			currency:      rec.Currency,
			paymentSource: CanonicalPaymentSource(rec.PaymentSource),
		}

		sum, ok := groups[key]
		if !ok {
			sum = &groupSum{}
			groups[key] = sum
			order = append(order, key)
		}

		// Unparseable amounts contribute zero rather than dropping the
		// record: the quantity still counts toward the group.
		total, _ := domain.ParseAmount(rec.TotalPrice)
		fee, _ := domain.ParseAmount(rec.Fee)
		shipping, _ := domain.ParseAmount(rec.ShippingCost)

		sum.quantity += rec.Quantity
		sum.total += total
		sum.fee += fee
		sum.shipping += shipping
		sum.printing += costs[rec.ProductID] * int64(rec.Quantity)
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.productID != b.productID {
			return a.productID < b.productID
		}
		if a.currency != b.currency {
			return a.currency < b.currency
		}
		return a.paymentSource < b.paymentSource
	})

	rows := make([]domain.RoyaltyRow, 0, len(order))
	for _, key := range order {
		sum := groups[key]
		net := domain.CentsToFloat(sum.total-sum.fee-sum.shipping-sum.printing) / vatDivisor

		rows = append(rows, domain.RoyaltyRow{
			ProductID:     key.productID,
			Currency:      key.currency,
			PaymentSource: key.paymentSource,
			NumberOfSales: sum.quantity,
			TotalAmount:   domain.CentsToFloat(sum.total),
			TotalFee:      domain.CentsToFloat(sum.fee),
			ShippingCost:  domain.CentsToFloat(sum.shipping),
			PrintingCost:  domain.CentsToFloat(sum.printing),
			NetSales:      net,
		})
	}
	return rows
}
