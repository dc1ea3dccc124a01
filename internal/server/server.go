// Package server exposes the version store over HTTP/JSON and gRPC
package server

import (
	"github.com/kosaladathapththu/Code-Evolution-Tracker/internal/logger"
	"github.com/kosaladathapththu/Code-Evolution-Tracker/internal/metrics"
	"github.com/kosaladathapththu/Code-Evolution-Tracker/pkg/version"
)

// Server serves one session. Both transports call the same store.
type Server struct {
	store   *version.VersionStore
	metrics *metrics.Metrics
	log     *logger.Logger
}

// New creates a server for store
func New(store *version.VersionStore, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		store:   store,
		metrics: m,
		log:     log,
	}
	store.OnChange(m.UpdateTimelineStats)
	total, bugFree := store.Counts()
	m.UpdateTimelineStats(total, bugFree)
	return s
}

// Store returns the served session
func (s *Server) Store() *version.VersionStore {
	return s.store
}

// observe counts an operation. The timeline gauges follow the store through
// OnChange.
func (s *Server) observe(op string, err error) {
	s.metrics.RecordStoreOperation(op, outcome(err))
}

func (s *Server) step(codeText, note, errorType string) (*version.Version, error) {
	v, err := s.store.Step(codeText, note, errorType)
	s.observe("step", err)
	return v, err
}

func (s *Server) timeline() version.TimelineView {
	view := s.store.Timeline()
	s.observe("timeline", nil)
	return view
}

func (s *Server) markBugFree(id int64) (*version.Version, error) {
	v, err := s.store.MarkBugFree(id)
	s.observe("mark_bug_free", err)
	return v, err
}

func (s *Server) undo() (*version.Version, error) {
	v, err := s.store.Undo()
	s.observe("undo", err)
	return v, err
}

func (s *Server) jumpBugFree() (*version.Version, error) {
	v, err := s.store.JumpBugFree()
	s.observe("jump_bug_free", err)
	return v, err
}

func (s *Server) analytics() *version.Report {
	r := s.store.Analytics()
	s.observe("analytics", nil)
	return r
}

// currentResponse is the body of operations that report the pointer
type currentResponse struct {
	Current *version.Version `json:"current"`
}

// errorResponse is every failure body
type errorResponse struct {
	Error string `json:"error"`
}
