package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campusworks/examportal/internal/exam"
	"github.com/campusworks/examportal/internal/notify"
)

// GET /events?after=&limit=
//
// Poll interface over the durable event log. Clients track the last offset
// they saw and pass it back as ?after= to resume.
func PollEventsHandler(log *notify.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
		events, err := log.Since(r.Context(), after, parseIntDefault(r.URL.Query().Get("limit"), 100))
		if err != nil {
			writeErr(w, err)
			return
		}
		if events == nil {
			events = []notify.Event{}
		}
		writeJSON(w, http.StatusOK, events)
	}
}

// GET /attempts/{attemptID}/events
//
// Server-sent event stream for one attempt's lifecycle. Best-effort: a
// client that misses events re-syncs from /events. Heartbeats keep proxies
// from timing out the idle stream.
func AttemptEventsHandler(store exam.Store, hub *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		attemptID := chi.URLParam(r, "attemptID")
		a, err := store.GetAttempt(r.Context(), attemptID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !mayViewAttempt(r, a) {
			writeErr(w, exam.ErrForbidden)
			return
		}

		events, cancel := hub.Subscribe(attemptID)
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher.Flush()

		heartbeat := time.NewTicker(20 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case e, open := <-events:
				if !open {
					return
				}
				payload, err := json.Marshal(e)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, payload)
				flusher.Flush()
			}
		}
	}
}
