package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRows(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"externalId", "number", "cost", "delivery date"},
		{"id1", "100", "12.50", "01.06.2024"},
		{"id2", "101", "7.00", "15.07.2024"},
	}

	records, err := parseRows(rows)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "id1", records[0].ExternalID)
	assert.Equal(t, 100, records[0].Number)
	assert.True(t, records[0].Cost.Equal(mustDecimal(t, "12.50")))
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), records[0].DeliveryDate)

	assert.Equal(t, "id2", records[1].ExternalID)
	assert.Equal(t, time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC), records[1].DeliveryDate)
}

func TestParseRowsDropsHeaderUnconditionally(t *testing.T) {
	t.Parallel()

	// The first row is discarded even when it looks like data.
	rows := [][]string{
		{"id1", "100", "12.50", "01.06.2024"},
		{"id2", "101", "7.00", "01.06.2024"},
	}

	records, err := parseRows(rows)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "id2", records[0].ExternalID)
}

func TestParseRowsEmpty(t *testing.T) {
	t.Parallel()

	records, err := parseRows(nil)
	require.NoError(t, err)
	assert.Empty(t, records)

	// Header only.
	records, err = parseRows([][]string{{"externalId", "number", "cost", "date"}})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParseRowsErrors(t *testing.T) {
	t.Parallel()

	header := []string{"externalId", "number", "cost", "delivery date"}

	tests := []struct {
		name    string
		row     []string
		wantErr string
	}{
		{
			name:    "too few fields",
			row:     []string{"id1", "100", "12.50"},
			wantErr: "expected at least 4 fields",
		},
		{
			name:    "empty external id",
			row:     []string{"  ", "100", "12.50", "01.06.2024"},
			wantErr: "empty external id",
		},
		{
			name:    "bad number",
			row:     []string{"id1", "hundred", "12.50", "01.06.2024"},
			wantErr: "invalid order number",
		},
		{
			name:    "bad cost",
			row:     []string{"id1", "100", "cheap", "01.06.2024"},
			wantErr: "invalid cost",
		},
		{
			name:    "bad date",
			row:     []string{"id1", "100", "12.50", "2024-06-01"},
			wantErr: "invalid delivery date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := parseRows([][]string{header, tt.row})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			// The reported row number matches the sheet position.
			assert.Contains(t, err.Error(), "row 2")
		})
	}
}
