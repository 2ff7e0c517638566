package cvesync

import (
	"sync"
	"time"
)

// FlowStatus is the observable state of one sync flow
type FlowStatus struct {
	Running       bool       `json:"running"`
	LastStarted   *time.Time `json:"last_started,omitempty"`
	LastFinished  *time.Time `json:"last_finished,omitempty"`
	LastSuccess   *time.Time `json:"last_success,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastProcessed int        `json:"last_processed"`
}

// Status tracks every flow of a Synchronizer; safe for concurrent use
type Status struct {
	mu    sync.Mutex
	flows map[string]*FlowStatus
}

func newStatus() *Status {
	return &Status{flows: map[string]*FlowStatus{
		FlowInitial:     {},
		FlowIncremental: {},
	}}
}

func (s *Status) start(flow string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fs := s.flow(flow)
	fs.Running = true
	fs.LastStarted = &at
}

func (s *Status) finish(flow string, at time.Time, processed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fs := s.flow(flow)
	fs.Running = false
	fs.LastFinished = &at
	fs.LastProcessed = processed
	if err != nil {
		fs.LastError = err.Error()
		return
	}
	fs.LastError = ""
	fs.LastSuccess = &at
}

func (s *Status) flow(name string) *FlowStatus {
	fs, ok := s.flows[name]
	if !ok {
		fs = &FlowStatus{}
		s.flows[name] = fs
	}
	return fs
}

// Snapshot returns a copy of every flow's status keyed by flow name
func (s *Status) Snapshot() map[string]FlowStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]FlowStatus, len(s.flows))
	for name, fs := range s.flows {
		out[name] = *fs
	}
	return out
}
