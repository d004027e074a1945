// Package api is the HTTP/JSON façade around internal/engine: three
// routes, POST /index, POST /identify and GET /stats.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mrtcode/title-fingerprint-db/internal/applog"
	"github.com/mrtcode/title-fingerprint-db/internal/engine"
	"github.com/mrtcode/title-fingerprint-db/internal/slotstore"
)

// maxInFlight bounds how many index and identify requests are served
// concurrently; excess requests wait on a semaphore in their own handler
// goroutine before they reach the engine's lock.
const maxInFlight = 16

// Server wires an *engine.Engine to the service's three HTTP routes.
type Server struct {
	eng *engine.Engine
	log *applog.Component
	srv *http.Server
	sem chan struct{}
}

// NewServer builds a Server listening on addr (":<port>").
func NewServer(eng *engine.Engine, log *applog.Logger, addr string) *Server {
	s := &Server{
		eng: eng,
		log: log.Component("api"),
		sem: make(chan struct{}, maxInFlight),
	}

	// Routes are plain paths with the method checked here, so routing does
	// not depend on the method-prefixed patterns of newer ServeMux versions.
	method := func(m string, next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != m {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

				return
			}

			next(w, r)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/index", method(http.MethodPost, s.limit(s.handleIndex)))
	mux.HandleFunc("/identify", method(http.MethodPost, s.limit(s.handleIdentify)))
	mux.HandleFunc("/stats", method(http.MethodGet, s.handleStats))

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

// ListenAndServe blocks serving requests until Shutdown is called, mirroring
// http.Server.ListenAndServe's contract (returns http.ErrServerClosed on a
// clean shutdown).
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the route mux, mainly for httptest-driven tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.sem <- struct{}{}
		defer func() { <-s.sem }()

		next(w, r)
	}
}

type indexRequest struct {
	Title       string `json:"title"`
	Name        string `json:"name"`
	Identifiers string `json:"identifiers"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var reqs []indexRequest

	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)

		return
	}

	indexed := 0

	for _, req := range reqs {
		err := s.eng.Index(r.Context(), req.Title, req.Name, req.Identifiers)
		if err == nil {
			indexed++

			continue
		}

		// Input-shape and capacity errors are not API errors: the record
		// is silently dropped and the batch continues.
		if errors.Is(err, engine.ErrTitleLength) || errors.Is(err, engine.ErrNameLength) ||
			errors.Is(err, engine.ErrTitleCapReached) || errors.Is(err, slotstore.ErrRowFull) {
			continue
		}

		s.log.Errorf("index %q: %v", req.Title, err)
	}

	writeJSON(w, http.StatusOK, map[string]int{"indexed": indexed})
}

type identifyRequest struct {
	Text string `json:"text"`
}

type identifyResponse struct {
	Time        int64  `json:"time"`
	Title       string `json:"title"`
	Name        string `json:"name"`
	Identifiers string `json:"identifiers"`
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)

		return
	}

	start := time.Now()

	result, ok, err := s.eng.Identify(r.Context(), []byte(req.Text))
	if err != nil {
		s.log.Errorf("identify: %v", err)
		http.Error(w, "identify failed", http.StatusInternalServerError)

		return
	}

	if !ok {
		writeJSON(w, http.StatusOK, struct{}{})

		return
	}

	writeJSON(w, http.StatusOK, identifyResponse{
		Time:        time.Since(start).Microseconds(),
		Title:       result.Title,
		Name:        result.Name,
		Identifiers: result.Identifiers,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
