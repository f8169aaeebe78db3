package engine

import (
	"fmt"
	"os"
	"path/filepath"
)

// TraceWriter persists finalized traces as paired artifacts: a
// human-readable .txt and an equivalent .json, keyed by the same
// timestamp. Existing files are never overwritten.
type TraceWriter struct {
	dir string
}

// NewTraceWriter returns a writer rooted at dir, creating it if needed.
func NewTraceWriter(dir string) (*TraceWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("trace writer: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("trace writer: failed to create %s: %w", dir, err)
	}
	return &TraceWriter{dir: dir}, nil
}

// Write renders both views of the trace and writes them side by side.
// Returns the base path (without extension) of the pair.
func (w *TraceWriter) Write(trace *ExecutionTrace) (string, error) {
	stamp := trace.StartedAt.UTC().Format("20060102T150405.000000000Z")
	base := filepath.Join(w.dir, "trace_"+stamp)

	jsonBytes, err := trace.RenderJSON()
	if err != nil {
		return "", fmt.Errorf("trace writer: render json: %w", err)
	}
	if err := writeExclusive(base+".txt", []byte(trace.RenderASCII())); err != nil {
		return "", err
	}
	if err := writeExclusive(base+".json", jsonBytes); err != nil {
		// Leave the .txt in place; a lone artifact is better than none.
		return "", err
	}
	return base, nil
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("trace writer: open %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("trace writer: write %s: %w", path, err)
	}
	return f.Close()
}
