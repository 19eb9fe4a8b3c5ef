package provider

import (
	"context"
	"fmt"
	"sync"
)

// ScriptEntry is one canned completion. Err, when set, is returned instead
// of a response.
type ScriptEntry struct {
	Text         string
	FinishReason FinishReason
	Usage        Usage
	Err          error
}

// Scripted replays canned responses in order and records every request it
// receives. Safe for concurrent use. Once the script is exhausted the last
// entry repeats; an empty script answers with an empty stop response.
type Scripted struct {
	mux      sync.Mutex
	script   []ScriptEntry
	requests []*Request
}

// NewScripted creates a scripted provider.
func NewScripted(script ...ScriptEntry) *Scripted {
	return &Scripted{script: script}
}

// Name implements Provider.
func (s *Scripted) Name() string {
	return "scripted"
}

// Complete implements Provider.
func (s *Scripted) Complete(ctx context.Context, request *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mux.Lock()
	index := len(s.requests)
	s.requests = append(s.requests, request)
	var entry ScriptEntry
	switch {
	case len(s.script) == 0:
		entry = ScriptEntry{FinishReason: FinishStop}
	case index < len(s.script):
		entry = s.script[index]
	default:
		entry = s.script[len(s.script)-1]
	}
	s.mux.Unlock()

	if entry.Err != nil {
		return nil, entry.Err
	}
	finish := entry.FinishReason
	if finish == "" {
		finish = FinishStop
	}
	return &Response{
		Text:         entry.Text,
		FinishReason: finish,
		Usage:        entry.Usage,
		Model:        "scripted",
	}, nil
}

// CallCount returns how many requests have been received.
func (s *Scripted) CallCount() int {
	s.mux.Lock()
	defer s.mux.Unlock()
	return len(s.requests)
}

// Request returns the i-th recorded request.
func (s *Scripted) Request(i int) (*Request, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if i < 0 || i >= len(s.requests) {
		return nil, fmt.Errorf("no request recorded at index %d", i)
	}
	return s.requests[i], nil
}

// Requests returns a copy of all recorded requests.
func (s *Scripted) Requests() []*Request {
	s.mux.Lock()
	defer s.mux.Unlock()
	copied := make([]*Request, len(s.requests))
	copy(copied, s.requests)
	return copied
}
