// Package gateway is the HTTP surface of the companion: one chat
// endpoint plus health, with request-scoped logging.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dotsetgreg/mindful/pkg/chat"
	"github.com/dotsetgreg/mindful/pkg/identity"
)

// Server wraps the http.Server lifecycle around the chat handler.
type Server struct {
	httpServer *http.Server
}

func NewServer(addr string, turns *chat.Service, resolver *identity.Resolver) *Server {
	handler := NewChatHandler(turns, resolver)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.HandleHealth)
	mux.HandleFunc("/api/chat", handler.HandleChat)

	var h http.Handler = mux
	h = RecoverMiddleware()(h)
	h = RequestIDMiddleware()(h)

	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: h,
			// The completion call dominates request latency; leave the
			// write timeout well above the companion request timeout.
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 180 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Msg("gateway listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown gateway: %w", err)
	}
	return nil
}
