package engine

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/HaoliangCheng/paper-reading-agent/log"
	"github.com/HaoliangCheng/paper-reading-agent/model"
)

// Event is one streamed NDJSON object. Exactly one of the terminal kinds
// (response or error) ends a stream; status events are informational and
// consumers may ignore them.
type Event struct {
	Type    string `json:"type"` // "status", "response", "error"
	Status  string `json:"status,omitempty"`
	Content string `json:"content,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Error   string `json:"error,omitempty"`

	// Figures carries artifact references on response events
	Figures []model.Figure `json:"figures,omitempty"`

	// Degraded flags a budget-exhausted answer built from partial results
	Degraded bool `json:"degraded,omitempty"`
}

// Terminal reports whether the event ends the stream
func (e Event) Terminal() bool {
	return e.Type == "response" || e.Type == "error"
}

// StatusEvent builds an informational progress event
func StatusEvent(status string) Event {
	return Event{Type: "status", Status: status}
}

// ResponseEvent builds the successful terminal event
func ResponseEvent(content, stage string, figures []model.Figure, degraded bool) Event {
	return Event{Type: "response", Content: content, Stage: stage, Figures: figures, Degraded: degraded}
}

// ErrorEvent builds the failure terminal event
func ErrorEvent(err error) Event {
	return Event{Type: "error", Error: err.Error()}
}

// Reporter receives loop progress. Implementations must tolerate events
// after the terminal one by dropping them.
type Reporter interface {
	Report(event Event)
}

// NDJSONReporter streams events as newline-delimited JSON, one object per
// line, flushed per event. It guarantees at most one terminal event reaches
// the wire; anything after the terminal event is dropped.
type NDJSONReporter struct {
	mu       sync.Mutex
	w        io.Writer
	enc      *json.Encoder
	flusher  http.Flusher
	finished bool
}

// NewNDJSONReporter wraps a writer; if it supports http.Flusher each event
// is flushed immediately
func NewNDJSONReporter(w io.Writer) *NDJSONReporter {
	r := &NDJSONReporter{w: w, enc: json.NewEncoder(w)}
	if f, ok := w.(http.Flusher); ok {
		r.flusher = f
	}
	return r
}

// Report writes one event as an NDJSON line
func (r *NDJSONReporter) Report(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return
	}
	if err := r.enc.Encode(event); err != nil {
		log.Log.Warnf("Failed to stream event: %v", err)
		r.finished = true
		return
	}
	if r.flusher != nil {
		r.flusher.Flush()
	}
	if event.Terminal() {
		r.finished = true
	}
}

// Finished reports whether a terminal event has been written
func (r *NDJSONReporter) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// NoopReporter discards all events. Backs non-streaming paths and tests.
type NoopReporter struct{}

func (NoopReporter) Report(Event) {}
