// Package sundaerest provides the HTTP middleware stack and server lifecycle shared by
// the chat HTTP surfaces.
package sundaerest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-chat/sundae-cli"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

func Middlewares(logger zerolog.Logger, routes chi.Router) chi.Router {
	routes.Use(
		middleware.RequestID,
		WithCORS(),
		WithLogger(logger),
		middleware.Recoverer,
	)
	return routes
}

// Listen serves routes on the console port until ctx is done.
func Listen(ctx context.Context, logger zerolog.Logger, routes http.Handler) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%v", sundaecli.CommonOpts.Port),
		Handler:           routes,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("unclean http shutdown")
		}
	}()

	logger.Info().Int("port", sundaecli.CommonOpts.Port).Msg("starting http server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func WithCORS() func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
	})
}

// WithLogger attaches logger, tagged with the request id, to each request context.
func WithLogger(logger zerolog.Logger) func(handler http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			l := logger.With().Str("request_id", middleware.GetReqID(req.Context())).Logger()
			req = req.WithContext(l.WithContext(req.Context()))
			handler.ServeHTTP(w, req)
		})
	}
}
