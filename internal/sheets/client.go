// Package sheets is a thin typed client for reading row ranges from the
// spreadsheet API.
package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/sheetbridge/sheetbridge/internal/httpclient"
)

// SheetService is the external spreadsheet read capability consumed by the
// sync pipeline.
type SheetService interface {
	// GetRows returns all rows of the range in sheet order. Cells are
	// returned as their string display values.
	GetRows(ctx context.Context, spreadsheetID, rangeName string) ([][]string, error)
}

// Client implements SheetService over HTTP.
type Client struct {
	http    httpclient.Client
	baseURL string
}

var _ SheetService = (*Client)(nil)

// NewClient creates a sheet client against the given API base URL.
func NewClient(baseURL string, http httpclient.Client) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if http == nil {
		return nil, fmt.Errorf("http client is required")
	}
	return &Client{http: http, baseURL: baseURL}, nil
}

// valueRange is the wire format of a range read. Cells arrive as untyped
// JSON values; anything non-string is rendered through its default format.
type valueRange struct {
	Values [][]any `json:"values"`
}

// GetRows fetches the configured range with row-major ordering.
func (c *Client) GetRows(ctx context.Context, spreadsheetID, rangeName string) ([][]string, error) {
	rangeURL := fmt.Sprintf("%s/spreadsheets/%s/values/%s?majorDimension=ROWS",
		c.baseURL, url.PathEscape(spreadsheetID), url.PathEscape(rangeName))

	body, err := c.http.Get(ctx, rangeURL)
	if err != nil {
		return nil, fmt.Errorf("range read failed: %w", err)
	}

	var vr valueRange
	if err := json.Unmarshal(body, &vr); err != nil {
		return nil, fmt.Errorf("failed to parse range response: %w", err)
	}

	rows := make([][]string, len(vr.Values))
	for i, raw := range vr.Values {
		row := make([]string, len(raw))
		for j, cell := range raw {
			switch v := cell.(type) {
			case string:
				row[j] = v
			case nil:
				row[j] = ""
			default:
				row[j] = fmt.Sprint(v)
			}
		}
		rows[i] = row
	}
	return rows, nil
}
