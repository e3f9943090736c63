package api

import (
	"log/slog"
	"net/http"
	"strings"
)

// Push notification headers set by the watch service.
const (
	headerResourceState = "X-Goog-Resource-State"
	headerChanged       = "X-Goog-Changed"
	headerChannelID     = "X-Goog-Channel-Id"
)

// webhookHandler receives change notifications for the tracked file. A sync
// runs only for content updates; everything else (the initial "sync" ping,
// property changes) is acknowledged and ignored. The response is always an
// empty 200: the notification service treats anything else as a delivery
// failure and retries, and a failed sync must not cause redelivery storms.
func webhookHandler(syncer Syncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := r.Header.Get(headerResourceState)
		changed := r.Header.Get(headerChanged)

		if state != "update" || !strings.Contains(changed, "content") {
			slog.Debug("Ignoring notification",
				"resource_state", state,
				"changed", changed,
				"channel_id", r.Header.Get(headerChannelID))
			w.WriteHeader(http.StatusOK)
			return
		}

		slog.Info("Content change notification received",
			"channel_id", r.Header.Get(headerChannelID))

		if err := syncer.Run(r.Context()); err != nil {
			slog.Error("Sync failed", "error", err)
		}

		w.WriteHeader(http.StatusOK)
	}
}
