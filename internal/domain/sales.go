package domain

// SaleRecord is the normalized unit of one line-item sale, common across all
// sales channels. Monetary fields are fixed-2-decimal strings so that figures
// render identically everywhere; arithmetic happens in cents (see money.go).
type SaleRecord struct {
	ID            string `json:"id"`
	CreatedDate   string `json:"created_date"`
	PaymentSource string `json:"payment_source"`
	ProductID     string `json:"product_id"`
	ProductTitle  string `json:"product_title"`
	Quantity      int    `json:"quantity"`
	UnitPrice     string `json:"unit_price"`
	TotalPrice    string `json:"total_price"`
	Currency      string `json:"currency"`
	Country       string `json:"country"`
	CustomerName  string `json:"customer_name"`
	Fee           string `json:"fee"`
	ShippingCost  string `json:"shipping_cost"`
}

// RoyaltyRow is one line of the royalty report: sales summed per
// (product, currency, canonical payment source).
type RoyaltyRow struct {
	ProductID     string  `json:"product_id"`
	Currency      string  `json:"currency"`
	PaymentSource string  `json:"payment_source"`
	NumberOfSales int     `json:"number_of_sales"`
	TotalAmount   float64 `json:"total_amount"`
	TotalFee      float64 `json:"total_fee"`
	ShippingCost  float64 `json:"shipping_cost"`
	PrintingCost  float64 `json:"printing_cost"`
	NetSales      float64 `json:"net_sales"`
}

// Sales channel names. These are the period-cache channel keys, so renaming
// one invalidates its cached history.
const (
	ChannelStripe   = "stripe"
	ChannelShopify  = "shopify"
	ChannelAppStore = "apple-iap"
)
