// Package errsamples appends failure samples to JSON-lines files so crashes
// and recovered panics leave a trace without touching the event stream.
package errsamples

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FormatVersion is embedded in every sample line
const FormatVersion = 1

// Sink writes error samples under <finger-home>/logs/errorsamples/
type Sink struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewSink creates the sample directory and returns a sink. A sink with an
// empty dir is inert.
func NewSink(dir string) (*Sink, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Sink{dir: dir, now: time.Now}, nil
}

// Write appends one sample for a component. Failures to persist are logged
// and swallowed: the sink must never take the runtime down.
func (s *Sink) Write(component string, sampleErr error, ctx map[string]any) {
	if s == nil || s.dir == "" || sampleErr == nil {
		return
	}

	record := map[string]any{
		"version":   FormatVersion,
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
		"component": component,
		"error":     sampleErr.Error(),
	}
	if len(ctx) > 0 {
		record["context"] = ctx
	}

	data, err := json.Marshal(record)
	if err != nil {
		log.Printf("[ERRSAMPLES] Failed to marshal sample: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, component+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("[ERRSAMPLES] Failed to open %s: %v", path, err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("[ERRSAMPLES] Failed to append to %s: %v", path, err)
	}
}
