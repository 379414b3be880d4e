package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// ReportMetrics is returned by GET /v1/metrics/report: a snapshot of the
// reconciliation pipeline's counters.
type ReportMetrics struct {
	TotalReports      int64   `json:"totalReports"`
	ErrorRate         float64 `json:"errorRate"`
	CacheHitRate      float64 `json:"cacheHitRate"`
	ExternalErrors    int64   `json:"externalErrors"`
	PagesFetched      int64   `json:"pagesFetched"`
	SaleRecordsServed int64   `json:"saleRecordsServed"`
	Period            string  `json:"period"`
}
