package diag

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// Server exposes a device's Counters and StageTimer over HTTP, the way
// monitoring.Monitor exposes a simulation's buffers and components over
// a gorilla/mux router. It is entirely optional: a device works without
// ever constructing one.
type Server struct {
	router   *mux.Router
	counters *Counters
	stages   *StageTimer
	dump     func() string
}

// NewServer builds the router. dump may be nil, in which case /dump
// reports 404.
func NewServer(counters *Counters, stages *StageTimer, dump func() string) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		counters: counters,
		stages:   stages,
		dump:     dump,
	}

	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/stages", s.handleStages).Methods(http.MethodGet)
	if dump != nil {
		s.router.HandleFunc("/dump", s.handleDump).Methods(http.MethodGet)
	}

	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.counters.Snapshot())
}

func (s *Server) handleStages(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.stages.Snapshot())
}

func (s *Server) handleDump(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(s.dump()))
}
