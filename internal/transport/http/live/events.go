package livehttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cryptotrader/internal/logger"

	"github.com/gin-gonic/gin"
)

const (
	eventBuffer       = 128
	keepAliveInterval = 15 * time.Second
)

// handleEvents streams order and position changes as server-sent events
// until the client goes away. Events published before the client connected
// are not replayed; clients load current state from the list endpoints.
func (r *Router) handleEvents(c *gin.Context) {
	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	ch, cancel := r.Events.Subscribe(eventBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			raw, err := json.Marshal(newEventView(ev))
			if err != nil {
				logger.Warnf("[api] encode event %s failed: %v", ev.Type, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, raw)
			flusher.Flush()
		}
	}
}
