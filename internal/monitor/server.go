// Package monitor serves a small local HTTP status endpoint for a
// running session: health plus event pool and delegation statistics.
package monitor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"mpm/internal/eventpool"
	"mpm/internal/tracker"
	"mpm/pkg/logger"
)

// Server exposes /health and /stats on a local address.
type Server struct {
	pool    *eventpool.Pool
	tracker *tracker.Tracker
	http    *http.Server
	addr    string
	started time.Time
}

// NewServer creates a status server. pool and tr may be nil; the
// corresponding stats are simply omitted.
func NewServer(addr string, pool *eventpool.Pool, tr *tracker.Tracker) *Server {
	s := &Server{pool: pool, tracker: tr, addr: addr}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	s.http = &http.Server{
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in the background. Returns the bound address,
// useful when addr requested port 0.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", err
	}
	s.started = time.Now()

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Get().Error().Err(err).Msg("monitor server stopped")
		}
	}()

	logger.Get().Debug().Str("addr", ln.Addr().String()).Msg("monitor server listening")
	return ln.Addr().String(), nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}

	if s.pool != nil {
		st := s.pool.GetStats()
		body["events"] = map[string]any{
			"enqueued":       st.Enqueued,
			"emitted":        st.Emitted,
			"dropped":        st.Dropped,
			"batches_sent":   st.BatchesSent,
			"batches_failed": st.BatchesFailed,
			"connections":    st.Connections,
			"breaker":        string(s.pool.Breaker().State()),
		}
	}
	if s.tracker != nil {
		if recent, err := s.tracker.GetRecent(20); err == nil {
			byAgent := map[string]int{}
			for _, rec := range recent {
				byAgent[rec.Agent]++
			}
			body["delegations"] = map[string]any{
				"recent":    recent,
				"by_agent":  byAgent,
				"retrieved": len(recent),
			}
		}
	}

	writeJSON(w, body)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
