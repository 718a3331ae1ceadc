package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"tc_eqpsim/internal/shared/logger"
	"tc_eqpsim/internal/shared/metrics"
	"tc_eqpsim/internal/shared/types"
)

// loggingListener logs accepted monitor connections at debug level.
type loggingListener struct {
	net.Listener
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		logger.Debug().Msgf(" [WebServer] Connection accepted from: %s ", conn.RemoteAddr())
	}
	return conn, err
}

// basicAuthMiddleware enables HTTP basic auth only when both web_user and web_password are set.
func basicAuthMiddleware(user, pass string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if user == "" || pass == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			userOK := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(p), []byte(pass)) == 1
			if !ok || !userOK || !passOK {
				w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte("Unauthorized.\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewRouter builds the monitor routes. /ws and /metrics stay public.
func NewRouter(cfg types.WebConf, provider StatusProvider, hub *Hub) *mux.Router {
	handler := NewHandler(provider)
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.Use(basicAuthMiddleware(cfg.WebUser, cfg.WebPassword))
	api.HandleFunc("/status", handler.HandleStatus).Methods("GET")
	api.HandleFunc("/eqps/{eqpId}", handler.HandleEqp).Methods("GET")

	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	})
	router.Handle("/metrics", metrics.Handler())
	return router
}

// Server is the running monitor HTTP server.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// StartServer starts the monitor on cfg.WebPort. It returns (nil, nil) when the port is <= 0.
func StartServer(wg *sync.WaitGroup, cfg types.WebConf, provider StatusProvider, hub *Hub) (*Server, error) {
	if cfg.WebPort <= 0 {
		logger.Info().Str("event", "web_disabled").Msg("[WebServer] Web monitor is disabled (web_port is 0 or not set).")
		return nil, nil
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.WebPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start web monitor on %s: %w", addr, err)
	}

	s := &Server{
		srv: &http.Server{
			Handler:           NewRouter(cfg, provider, hub),
			ReadHeaderTimeout: 10 * time.Second,
		},
		ln: listener,
	}
	logger.Info().Str("event", "web_started").Msgf("Web monitor is listening on http://%s", addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.srv.Serve(loggingListener{Listener: listener}); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Web server error")
		}
		logger.Info().Msg("Web server stopped.")
	}()
	return s, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Shutdown stops the server. Nil servers are ignored.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
