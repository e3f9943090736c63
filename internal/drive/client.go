// Package drive is a thin typed client for the file watch API: creating and
// stopping change-notification channels for a tracked file.
package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sheetbridge/sheetbridge/internal/httpclient"
)

// Grant is the watch service's answer to a subscription request.
type Grant struct {
	// ChannelID is the subscriber-generated channel identifier echoed back
	// by the service.
	ChannelID string

	// ResourceRef identifies the watched resource instance and is required
	// to stop the channel.
	ResourceRef string

	// ExpiresAt is the granted expiration. The service may grant less than
	// requested.
	ExpiresAt time.Time
}

// WatchService is the external watch capability consumed by the reconciler.
type WatchService interface {
	// Subscribe registers a webhook notification channel for the file and
	// returns the granted channel.
	Subscribe(ctx context.Context, fileID, address string, requestedExpiry time.Time) (*Grant, error)

	// Unsubscribe stops a notification channel. Stopping an already
	// stopped channel is tolerated and reported as ErrChannelGone.
	Unsubscribe(ctx context.Context, channelID, resourceRef string) error
}

// ErrChannelGone indicates the channel no longer exists on the service side.
var ErrChannelGone = errors.New("notification channel no longer exists")

// Client implements WatchService over HTTP.
type Client struct {
	http    httpclient.Client
	baseURL string
}

var _ WatchService = (*Client)(nil)

// NewClient creates a watch client against the given API base URL.
func NewClient(baseURL string, http httpclient.Client) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if http == nil {
		return nil, fmt.Errorf("http client is required")
	}
	return &Client{http: http, baseURL: baseURL}, nil
}

// channelBody is the wire format of a channel subscription request.
type channelBody struct {
	Kind       string `json:"kind"`
	ID         string `json:"id"`
	Type       string `json:"type"`
	Address    string `json:"address,omitempty"`
	Expiration int64  `json:"expiration,omitempty"`
	ResourceID string `json:"resourceId,omitempty"`
}

// channelResponse is the wire format of a granted channel. The service
// serializes the expiration as an epoch-milliseconds value that may arrive
// quoted or unquoted.
type channelResponse struct {
	ID         string      `json:"id"`
	ResourceID string      `json:"resourceId"`
	Expiration epochMillis `json:"expiration"`
}

type epochMillis int64

func (m *epochMillis) UnmarshalJSON(data []byte) error {
	var raw json.Number
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = json.Number(s)
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := strconv.ParseInt(raw.String(), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expiration %q: %w", raw.String(), err)
	}
	*m = epochMillis(v)
	return nil
}

func (m epochMillis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

// Subscribe registers a webhook notification channel for the file.
func (c *Client) Subscribe(ctx context.Context, fileID, address string, requestedExpiry time.Time) (*Grant, error) {
	body, err := json.Marshal(channelBody{
		Kind:       "api#channel",
		ID:         uuid.NewString(),
		Type:       "webhook",
		Address:    address,
		Expiration: requestedExpiry.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal watch request: %w", err)
	}

	watchURL := fmt.Sprintf("%s/files/%s/watch", c.baseURL, url.PathEscape(fileID))
	respBody, err := c.http.PostJSON(ctx, watchURL, body)
	if err != nil {
		return nil, fmt.Errorf("watch request failed: %w", err)
	}

	var resp channelResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse watch response: %w", err)
	}
	if resp.ID == "" || resp.ResourceID == "" {
		return nil, fmt.Errorf("watch response missing channel or resource id")
	}

	return &Grant{
		ChannelID:   resp.ID,
		ResourceRef: resp.ResourceID,
		ExpiresAt:   resp.Expiration.Time(),
	}, nil
}

// Unsubscribe stops a notification channel.
func (c *Client) Unsubscribe(ctx context.Context, channelID, resourceRef string) error {
	body, err := json.Marshal(channelBody{
		ID:         channelID,
		ResourceID: resourceRef,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal stop request: %w", err)
	}

	if _, err := c.http.PostJSON(ctx, c.baseURL+"/channels/stop", body); err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("channel %s: %w", channelID, ErrChannelGone)
		}
		return fmt.Errorf("stop request failed: %w", err)
	}
	return nil
}
