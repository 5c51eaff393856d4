package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/logger"
)

// StartServer exposes the scrape endpoint on its own port so that a slow or
// rate-limited API listener never blocks scraping. It returns immediately;
// the returned function stops the listener.
func StartServer(port int) (shutdown func(context.Context) error) {
	log := logger.WithComponent("metrics")

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		log.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()

	return server.Shutdown
}
