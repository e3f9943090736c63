package syncer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheetbridge/sheetbridge/internal/store"
)

// dateLayout is the textual date format used by the source sheet.
const dateLayout = "02.01.2006"

// minRowFields is the number of cells a data row must carry:
// external id, number, cost, delivery date.
const minRowFields = 4

// parseRows converts raw sheet rows into order records. The first row is
// always treated as the header and discarded, without any detection
// heuristic. A malformed row fails the whole batch: the pipeline writes all
// rows or none.
func parseRows(rows [][]string) ([]store.OrderRecord, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	records := make([]store.OrderRecord, 0, len(rows)-1)
	for i, cells := range rows[1:] {
		rec, err := parseRow(cells)
		if err != nil {
			// Offset by the discarded header so the reported row number
			// matches the sheet.
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(cells []string) (store.OrderRecord, error) {
	if len(cells) < minRowFields {
		return store.OrderRecord{}, fmt.Errorf("expected at least %d fields, got %d", minRowFields, len(cells))
	}

	externalID := strings.TrimSpace(cells[0])
	if externalID == "" {
		return store.OrderRecord{}, fmt.Errorf("empty external id")
	}

	number, err := strconv.Atoi(strings.TrimSpace(cells[1]))
	if err != nil {
		return store.OrderRecord{}, fmt.Errorf("invalid order number %q: %w", cells[1], err)
	}

	cost, err := decimal.NewFromString(strings.TrimSpace(cells[2]))
	if err != nil {
		return store.OrderRecord{}, fmt.Errorf("invalid cost %q: %w", cells[2], err)
	}

	deliveryDate, err := time.ParseInLocation(dateLayout, strings.TrimSpace(cells[3]), time.UTC)
	if err != nil {
		return store.OrderRecord{}, fmt.Errorf("invalid delivery date %q: %w", cells[3], err)
	}

	return store.OrderRecord{
		ExternalID:   externalID,
		Number:       number,
		Cost:         cost,
		DeliveryDate: deliveryDate,
	}, nil
}
