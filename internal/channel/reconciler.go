// Package channel keeps the change-notification subscription for the tracked
// file alive: a reconciler restores the single-active-channel invariant and
// a scheduler re-runs it ahead of every expiry.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/sheetbridge/sheetbridge/internal/drive"
	"github.com/sheetbridge/sheetbridge/internal/store"
	"github.com/sheetbridge/sheetbridge/internal/telemetry"
)

// farFutureExpiry is the expiration requested on subscribe. The service
// grants far less; the granted value is what gets persisted and scheduled.
var farFutureExpiry = time.Unix(32503680000, 0).UTC()

// subscribeMaxTries bounds the retry of a single remote subscribe or
// unsubscribe call.
const subscribeMaxTries = 3

// Armer schedules the next reconciliation run, replacing any pending one.
type Armer interface {
	Arm(runAt time.Time)
}

// Reconciler enforces "at most one active channel per tracked file" and
// computes the next renewal deadline.
type Reconciler struct {
	channels store.ChannelStore
	watch    drive.WatchService
	armer    Armer

	fileID      string
	callbackURL string

	now     func() time.Time
	metrics *telemetry.ReconcileMetrics
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithClock overrides the reconciler's notion of now. Used in tests.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithReconcileMetrics records reconciliation outcomes.
func WithReconcileMetrics(m *telemetry.ReconcileMetrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// NewReconciler creates a reconciler for the given tracked file.
func NewReconciler(
	channels store.ChannelStore,
	watch drive.WatchService,
	armer Armer,
	fileID, callbackURL string,
	opts ...ReconcilerOption,
) (*Reconciler, error) {
	if channels == nil {
		return nil, fmt.Errorf("channel store is required")
	}
	if watch == nil {
		return nil, fmt.Errorf("watch service is required")
	}
	if fileID == "" || callbackURL == "" {
		return nil, fmt.Errorf("file id and callback URL are required")
	}

	r := &Reconciler{
		channels:    channels,
		watch:       watch,
		armer:       armer,
		fileID:      fileID,
		callbackURL: callbackURL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Reconcile inspects the persisted channel set, restores the at-most-one
// invariant, and returns the expiration of the surviving channel. On success
// it arms the scheduler for that deadline. Safe to call repeatedly.
func (r *Reconciler) Reconcile(ctx context.Context) (time.Time, error) {
	records, err := r.channels.ListChannels(ctx)
	if err != nil {
		r.metrics.RecordRun(ctx, false)
		return time.Time{}, fmt.Errorf("failed to list channels: %w", err)
	}

	var expiry time.Time
	switch len(records) {
	case 0:
		slog.Info("No active notification channel, subscribing", "file_id", r.fileID)
		expiry, err = r.createChannel(ctx)

	case 1:
		rec := records[0]
		if rec.Expired(r.now()) {
			slog.Info("Notification channel expired, replacing",
				"channel_id", rec.ChannelID,
				"expired_at", rec.ExpiresAt)
			r.stopChannel(ctx, rec)
			expiry, err = r.createChannel(ctx)
		} else {
			expiry = rec.ExpiresAt
		}

	default:
		// Drift: a crash between subscribe and cleanup can leave extra
		// channels behind. Keep the most recently created grant, stop the
		// rest.
		keep := records[len(records)-1]
		slog.Warn("Multiple notification channels found, reconciling",
			"count", len(records),
			"keeping", keep.ChannelID)
		for _, rec := range records[:len(records)-1] {
			r.stopChannel(ctx, rec)
		}
		expiry = keep.ExpiresAt
	}

	if err != nil {
		r.metrics.RecordRun(ctx, false)
		return time.Time{}, err
	}

	if r.armer != nil {
		r.armer.Arm(expiry)
	}
	r.metrics.RecordRun(ctx, true)
	slog.Info("Channel reconciliation complete", "expires_at", expiry)
	return expiry, nil
}

// createChannel subscribes a fresh channel and persists the granted record.
func (r *Reconciler) createChannel(ctx context.Context) (time.Time, error) {
	grant, err := backoff.Retry(ctx, func() (*drive.Grant, error) {
		return r.watch.Subscribe(ctx, r.fileID, r.callbackURL, farFutureExpiry)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(subscribeMaxTries))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to subscribe channel: %w", err)
	}

	rec := store.ChannelRecord{
		ChannelID:   grant.ChannelID,
		ResourceRef: grant.ResourceRef,
		ExpiresAt:   grant.ExpiresAt,
		CreatedAt:   r.now().UTC(),
	}
	if err := r.channels.CreateChannel(ctx, rec); err != nil {
		// The grant exists remotely but not locally; the next run sees
		// zero records, subscribes again and drift cleanup stops the
		// orphan once the service reports it.
		return time.Time{}, fmt.Errorf("failed to persist channel %s: %w", grant.ChannelID, err)
	}

	slog.Info("Subscribed notification channel",
		"channel_id", grant.ChannelID,
		"expires_at", grant.ExpiresAt)
	return grant.ExpiresAt, nil
}

// stopChannel unsubscribes and deletes one record. Failures are logged and
// never abort reconciliation of the remaining records.
func (r *Reconciler) stopChannel(ctx context.Context, rec store.ChannelRecord) {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.watch.Unsubscribe(ctx, rec.ChannelID, rec.ResourceRef)
		if errors.Is(err, drive.ErrChannelGone) {
			// Already stopped on the service side, nothing left to cancel.
			slog.Debug("Channel already stopped", "channel_id", rec.ChannelID)
			return struct{}{}, nil
		}
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(subscribeMaxTries))
	if err != nil {
		slog.Warn("Failed to unsubscribe channel",
			"channel_id", rec.ChannelID,
			"error", err)
	}

	if err := r.channels.DeleteChannel(ctx, rec.ChannelID); err != nil {
		slog.Warn("Failed to delete channel record",
			"channel_id", rec.ChannelID,
			"error", err)
	}
}
