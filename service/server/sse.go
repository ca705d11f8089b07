package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/brojonat/owfn/service/metrics"
	natspkg "github.com/brojonat/owfn/service/nats"
)

const (
	sseKeepaliveInterval = 10 * time.Second
	maxFeedReplay        = 100
)

// handlePresaleFeed streams presale contributions as Server-Sent Events.
// GET /api/presale-feed?replay=N replays the last N contributions first.
// Each delivered contribution also drops the contributor's cached balances.
func handlePresaleFeed(feed natspkg.Subscriber, balances BalanceService, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var replay uint64
		if raw := r.URL.Query().Get("replay"); raw != "" {
			n, err := strconv.ParseUint(raw, 10, 64)
			if err != nil || n > maxFeedReplay {
				writeError(w, fmt.Sprintf("replay must be an integer between 0 and %d", maxFeedReplay), http.StatusBadRequest)
				return
			}
			replay = n
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher.Flush()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		if m != nil {
			m.RecordSSEConnectionChange(1)
			defer m.RecordSSEConnectionChange(-1)
		}
		logger.DebugContext(ctx, "SSE client connected", "replay", replay, "remote_addr", r.RemoteAddr)

		events := make(chan *natspkg.ContributionEvent, 10)
		subErr := make(chan error, 1)
		go func() {
			subErr <- feed.Subscribe(ctx, natspkg.SubscribeOptions{LastN: replay}, func(e *natspkg.ContributionEvent) error {
				select {
				case events <- e:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}()

		fmt.Fprintf(w, "event: connected\ndata: {\"replay\":%d}\n\n", replay)
		flusher.Flush()
		if m != nil {
			m.RecordSSEEventSent("connected")
		}

		keepalive := time.NewTicker(sseKeepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flusher.Flush()

			case event := <-events:
				if err := balances.Invalidate(ctx, event.Source); err != nil {
					logger.WarnContext(ctx, "failed to invalidate contributor balances",
						"wallet", event.Source,
						"error", err,
					)
				}

				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(ctx, "failed to marshal event", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: contribution\ndata: %s\n\n", data)
				flusher.Flush()
				if m != nil {
					m.RecordSSEEventSent("contribution")
				}

				logger.DebugContext(ctx, "sent contribution event", "signature", event.Signature)

			case err := <-subErr:
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.ErrorContext(ctx, "presale feed subscription failed", "error", err)
					fmt.Fprintf(w, "event: error\ndata: {\"error\":\"failed to subscribe\"}\n\n")
					flusher.Flush()
					if m != nil {
						m.RecordSSEEventSent("error")
					}
				}
				return

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected", "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}
