package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// streamSet manages append-only JSON-lines files, one per stream name.
// Each stream has its own mutex so appenders to different streams never
// contend.
type streamSet struct {
	dir string

	mu      sync.Mutex
	streams map[string]*stream
}

type stream struct {
	mu   sync.Mutex
	path string
}

func newStreamSet(dir string) *streamSet {
	return &streamSet{dir: dir, streams: make(map[string]*stream)}
}

func (s *streamSet) get(name string) *stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[name]
	if !ok {
		st = &stream{path: filepath.Join(s.dir, name+".jsonl")}
		s.streams[name] = st
	}
	return st
}

// append marshals v and writes it as one line. The line is written with a
// single Write call so concurrent appenders never interleave.
func (s *streamSet) append(name string, v any) error {
	st := s.get(name)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
		return fmt.Errorf("stream %s: %w", name, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stream %s: %w", name, err)
	}

	f, err := os.OpenFile(st.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("stream %s: %w", name, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("stream %s: %w", name, err)
	}
	return nil
}
