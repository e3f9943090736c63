// Package store defines the persisted records and the keyed record stores
// used by the reconciler and the sync pipeline.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ChannelRecord represents one active subscription to change notifications
// for the tracked file.
type ChannelRecord struct {
	// ChannelID is generated by the subscriber at creation time and is
	// globally unique per subscription.
	ChannelID string

	// ResourceRef is returned by the watch service and is required to
	// cancel the subscription.
	ResourceRef string

	// ExpiresAt is the server-granted expiration (UTC).
	ExpiresAt time.Time

	// CreatedAt orders records so reconciliation can keep the freshest
	// grant when more than one channel exists.
	CreatedAt time.Time
}

// Expired reports whether the channel is no longer honored at the given time.
func (c ChannelRecord) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// OrderRecord represents one mirrored spreadsheet row.
type OrderRecord struct {
	// ExternalID is the identifier taken from the source row, the natural
	// key for upsert.
	ExternalID string

	// Number is the order number.
	Number int

	// DeliveryDate is the order delivery date, day precision.
	DeliveryDate time.Time

	// Cost is the order cost in the source currency.
	Cost decimal.Decimal

	// CostConverted is derived at write time from Cost and the daily rate
	// for DeliveryDate. It is never supplied by the upstream source.
	CostConverted decimal.Decimal
}

// ChannelStore persists the set of active notification channels.
type ChannelStore interface {
	// ListChannels returns all channel records ordered by creation time,
	// oldest first.
	ListChannels(ctx context.Context) ([]ChannelRecord, error)

	// CreateChannel persists a new channel record.
	CreateChannel(ctx context.Context, rec ChannelRecord) error

	// DeleteChannel removes the record with the given channel id. Deleting
	// a missing record returns ErrNotFound.
	DeleteChannel(ctx context.Context, channelID string) error
}

// OrderStore persists mirrored order rows keyed on their external id.
type OrderStore interface {
	// UpsertOrders writes the batch as a single transactional unit:
	// matched external ids are updated in place, unmatched ids are
	// inserted. Applying the same batch twice yields the same final state.
	UpsertOrders(ctx context.Context, orders []OrderRecord) error

	// GetOrder returns the record with the given external id or
	// ErrNotFound.
	GetOrder(ctx context.Context, externalID string) (*OrderRecord, error)
}
