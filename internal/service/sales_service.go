package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/varghand/varghand-admin-go/internal/domain"
	"github.com/varghand/varghand-admin-go/internal/infra/observability"
	"github.com/varghand/varghand-admin-go/internal/port"
)

var salesTracer = otel.Tracer("service/sales")

// SalesService consolidates sale records across the configured platforms and
// produces royalty reports. Closed months are served from the persistent
// period cache; the current month always hits the platforms live.
type SalesService struct {
	sources []port.SalesSource
	cache   port.PeriodCache
	costs   CostTable
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewSalesService creates a sales service over the given platform sources.
// The sources' order fixes the order of the consolidated listing.
func NewSalesService(sources []port.SalesSource, cache port.PeriodCache, costs CostTable, metrics *observability.Metrics, logger *zap.Logger) *SalesService {
	return &SalesService{
		sources: sources,
		cache:   cache,
		costs:   costs,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// fetchMonthForSource returns one month of records from one platform,
// reading and populating the period cache for closed months. Records come
// back unfiltered; zero-price rows are dropped at read time so a change of
// filtering policy never requires invalidating cached history.
func (s *SalesService) fetchMonthForSource(ctx context.Context, src port.SalesSource, year int, month time.Month) ([]domain.SaleRecord, error) {
	channel := src.Name()
	closed := domain.IsMonthClosed(year, month, s.now())

	if closed {
		key := domain.YearMonthKey(year, month)
		cached, ok, err := s.cache.Get(ctx, key, channel)
		if err != nil {
			return nil, err
		}
		if ok {
			s.metrics.IncrCacheHit("period")
			return cached, nil
		}
		s.metrics.IncrCacheMiss("period")
	}

	records, err := src.FetchSales(ctx, year, month)
	if err != nil {
		return nil, err
	}

	if closed {
		if err := s.cache.Put(ctx, domain.YearMonthKey(year, month), channel, records); err != nil {
			// A record set we cannot persist would be refetched on every
			// report, silently hammering the platforms. Fail loudly instead.
			return nil, err
		}
	}
	return records, nil
}

// GetConsolidatedSales returns every positive-price sale record for one
// calendar month across all platforms, in source order. All platforms are
// queried concurrently; any platform failure fails the whole call.
func (s *SalesService) GetConsolidatedSales(ctx context.Context, year int, month time.Month) ([]domain.SaleRecord, error) {
	ctx, span := salesTracer.Start(ctx, "SalesService.GetConsolidatedSales")
	defer span.End()
	span.SetAttributes(attribute.String("period", domain.YearMonthKey(year, month)))

	start := time.Now()
	results := make([][]domain.SaleRecord, len(s.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range s.sources {
		i, src := i, src
		g.Go(func() error {
			records, err := s.fetchMonthForSource(gctx, src, year, month)
			if err != nil {
				return err
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.metrics.IncrReport("error")
		return nil, err
	}

	var all []domain.SaleRecord
	for _, records := range results {
		all = append(all, filterPositive(records)...)
	}
	if all == nil {
		all = []domain.SaleRecord{}
	}

	s.metrics.IncrReport("success")
	s.metrics.RecordRequestDuration("consolidated_sales", time.Since(start))
	s.logger.Info("consolidated sales",
		zap.String("period", domain.YearMonthKey(year, month)),
		zap.Int("records", len(all)),
	)
	return all, nil
}

// GetRoyaltyReport aggregates a period (a single month "1".."12", or a
// half-year "h1"/"h2") into royalty rows. Every month of every platform is
// fetched concurrently; the report is all-or-nothing, so one failed fetch
// fails the report rather than producing silently incomplete figures.
func (s *SalesService) GetRoyaltyReport(ctx context.Context, period string, year int) ([]domain.RoyaltyRow, error) {
	ctx, span := salesTracer.Start(ctx, "SalesService.GetRoyaltyReport")
	defer span.End()
	span.SetAttributes(
		attribute.String("report.period", period),
		attribute.Int("report.year", year),
	)

	months, err := domain.PeriodMonths(period)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	results := make([][]domain.SaleRecord, len(months)*len(s.sources))

	g, gctx := errgroup.WithContext(ctx)
	for mi, month := range months {
		for si, src := range s.sources {
			month, src := month, src
			idx := mi*len(s.sources) + si
			g.Go(func() error {
				records, err := s.fetchMonthForSource(gctx, src, year, month)
				if err != nil {
					return err
				}
				results[idx] = records
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		s.metrics.IncrReport("error")
		return nil, err
	}

	var all []domain.SaleRecord
	for _, records := range results {
		all = append(all, filterPositive(records)...)
	}

	rows := Aggregate(all, s.costs)

	s.metrics.IncrReport("success")
	s.metrics.RecordRequestDuration("royalty_report", time.Since(start))
	s.logger.Info("royalty report",
		zap.String("period", period),
		zap.Int("year", year),
		zap.Int("records", len(all)),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

// filterPositive drops free and fully refunded records. Platforms return
// them and the period cache stores them, but they never reach callers.
func filterPositive(records []domain.SaleRecord) []domain.SaleRecord {
	kept := make([]domain.SaleRecord, 0, len(records))
	for _, rec := range records {
		cents, err := domain.ParseAmount(rec.TotalPrice)
		if err != nil || cents <= 0 {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}
