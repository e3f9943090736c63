// Package syncer implements the sheet-to-database sync pipeline: fetch the
// tracked range, parse rows, convert costs with the daily rate and upsert the
// batch in one transaction.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheetbridge/sheetbridge/internal/rates"
	"github.com/sheetbridge/sheetbridge/internal/sheets"
	"github.com/sheetbridge/sheetbridge/internal/store"
	"github.com/sheetbridge/sheetbridge/internal/telemetry"
)

// convertedScale is the scale of the stored converted cost.
const convertedScale = 2

// Pipeline is the webhook-triggered sync: one Run mirrors the current sheet
// contents into the order store, all rows or none.
type Pipeline struct {
	sheets sheets.SheetService
	rates  rates.RateService
	orders store.OrderStore

	spreadsheetID string
	rangeName     string

	metrics *telemetry.SyncMetrics
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSyncMetrics records pipeline outcomes.
func WithSyncMetrics(m *telemetry.SyncMetrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// NewPipeline creates a sync pipeline for the given spreadsheet range.
func NewPipeline(
	sheetSvc sheets.SheetService,
	rateSvc rates.RateService,
	orders store.OrderStore,
	spreadsheetID, rangeName string,
	opts ...PipelineOption,
) (*Pipeline, error) {
	if sheetSvc == nil {
		return nil, fmt.Errorf("sheet service is required")
	}
	if rateSvc == nil {
		return nil, fmt.Errorf("rate service is required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order store is required")
	}
	if spreadsheetID == "" || rangeName == "" {
		return nil, fmt.Errorf("spreadsheet id and range are required")
	}

	p := &Pipeline{
		sheets:        sheetSvc,
		rates:         rateSvc,
		orders:        orders,
		spreadsheetID: spreadsheetID,
		rangeName:     rangeName,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run executes one full sync. Re-running against unchanged sheet contents is
// a no-op for the stored data: the upsert is keyed on external id and writes
// the same values again.
func (p *Pipeline) Run(ctx context.Context) error {
	start := time.Now()
	records, err := p.sync(ctx)
	p.metrics.RecordSync(ctx, len(records), time.Since(start), err == nil)
	if err != nil {
		return err
	}

	slog.Info("Sheet sync complete",
		"rows", len(records),
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func (p *Pipeline) sync(ctx context.Context) ([]store.OrderRecord, error) {
	rows, err := p.sheets.GetRows(ctx, p.spreadsheetID, p.rangeName)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sheet rows: %w", err)
	}

	records, err := parseRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sheet rows: %w", err)
	}
	if len(records) == 0 {
		slog.Debug("Sheet contains no data rows", "spreadsheet_id", p.spreadsheetID)
		return nil, nil
	}

	if err := p.convertCosts(ctx, records); err != nil {
		return nil, err
	}

	if err := p.orders.UpsertOrders(ctx, records); err != nil {
		return nil, fmt.Errorf("failed to upsert orders: %w", err)
	}
	return records, nil
}

// convertCosts fills in the converted cost for every record. Rates are looked
// up once per distinct delivery date; the rate client caches per day on top
// of that, so repeated syncs stay cheap.
func (p *Pipeline) convertCosts(ctx context.Context, records []store.OrderRecord) error {
	byDay := make(map[time.Time]decimal.Decimal)
	for i := range records {
		day := records[i].DeliveryDate
		rate, ok := byDay[day]
		if !ok {
			var err error
			rate, err = p.rates.DailyRate(ctx, day)
			if err != nil {
				return fmt.Errorf("failed to look up rate for %s: %w",
					day.Format(dateLayout), err)
			}
			byDay[day] = rate
		}
		records[i].CostConverted = records[i].Cost.Mul(rate).Round(convertedScale)
	}
	return nil
}
