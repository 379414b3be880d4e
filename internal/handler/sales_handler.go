package handler

import (
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/varghand/varghand-admin-go/internal/domain"
	"github.com/varghand/varghand-admin-go/internal/service"
)

// ============================================================
// Sales — GET /v1/sales?month=&year=
// ============================================================

func getSalesHandler(salesSvc *service.SalesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/sales")
		defer span.End()

		year, month, err := parseMonthParams(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("period", domain.YearMonthKey(year, month)))

		records, err := salesSvc.GetConsolidatedSales(ctx, year, month)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"sales": records})
	}
}

// ============================================================
// Royalty report — GET /v1/royalty-report?period=&year=
// ============================================================

func getRoyaltyReportHandler(salesSvc *service.SalesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/royalty-report")
		defer span.End()

		period := r.URL.Query().Get("period")
		yearStr := r.URL.Query().Get("year")

		year, convErr := strconv.Atoi(yearStr)
		if convErr != nil || year < 2000 || year > 2100 {
			handleServiceError(w, &domain.ErrValidation{Field: "year", Message: "must be a four-digit year"}, logger)
			return
		}
		span.SetAttributes(
			attribute.String("report.period", period),
			attribute.Int("report.year", year),
		)

		rows, err := salesSvc.GetRoyaltyReport(ctx, period, year)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"period": period,
			"year":   year,
			"rows":   rows,
		})
	}
}
