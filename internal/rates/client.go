// Package rates is a client for the central-bank daily currency rate feed.
// The feed serves one rate per calendar day as an XML document in
// windows-1251 encoding, with a comma as the decimal separator.
package rates

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"

	"github.com/sheetbridge/sheetbridge/internal/httpclient"
)

// RateService is the external currency-rate capability consumed by the sync
// pipeline.
type RateService interface {
	// DailyRate returns the conversion rate for the calendar day of date.
	DailyRate(ctx context.Context, date time.Time) (decimal.Decimal, error)
}

// Client implements RateService over HTTP. Rates are immutable per calendar
// day, so successful lookups are cached for the lifetime of the client.
type Client struct {
	http       httpclient.Client
	endpoint   string
	currencyID string

	mu    sync.Mutex
	cache map[string]decimal.Decimal
}

var _ RateService = (*Client)(nil)

// NewClient creates a rate client for the given feed endpoint and currency id.
func NewClient(endpoint, currencyID string, http httpclient.Client) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if currencyID == "" {
		return nil, fmt.Errorf("currency id is required")
	}
	if http == nil {
		return nil, fmt.Errorf("http client is required")
	}
	return &Client{
		http:       http,
		endpoint:   endpoint,
		currencyID: currencyID,
		cache:      make(map[string]decimal.Decimal),
	}, nil
}

// feed mirrors the ValCurs XML document.
type feed struct {
	XMLName xml.Name `xml:"ValCurs"`
	Valutes []valute `xml:"Valute"`
}

type valute struct {
	ID      string `xml:"ID,attr"`
	Nominal string `xml:"Nominal"`
	Value   string `xml:"Value"`
}

// DailyRate returns the rate for the calendar day of date.
func (c *Client) DailyRate(ctx context.Context, date time.Time) (decimal.Decimal, error) {
	day := date.Format("02/01/2006")

	c.mu.Lock()
	cached, ok := c.cache[day]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	body, err := c.http.Get(ctx, c.endpoint+"?date_req="+day)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rate feed request failed: %w", err)
	}

	rate, err := c.parseRate(body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse rate feed for %s: %w", day, err)
	}

	c.mu.Lock()
	c.cache[day] = rate
	c.mu.Unlock()
	return rate, nil
}

func (c *Client) parseRate(body []byte) (decimal.Decimal, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(charset) {
		case "windows-1251":
			return charmap.Windows1251.NewDecoder().Reader(input), nil
		default:
			return nil, fmt.Errorf("unsupported charset %q", charset)
		}
	}

	var doc feed
	if err := dec.Decode(&doc); err != nil {
		return decimal.Zero, err
	}

	for _, v := range doc.Valutes {
		if v.ID != c.currencyID {
			continue
		}
		// Comma decimal separator, e.g. "90,0000".
		rate, err := decimal.NewFromString(strings.Replace(v.Value, ",", ".", 1))
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid rate value %q: %w", v.Value, err)
		}
		return rate, nil
	}
	return decimal.Zero, fmt.Errorf("currency %s not present in feed", c.currencyID)
}
