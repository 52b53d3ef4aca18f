package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	auditFileMode = 0644
	auditDirMode  = 0755

	filePrefix = "approvals-"
	fileSuffix = ".jsonl"
)

// Writer appends audit entries to <dir>/approvals-YYYY-MM-DD.jsonl, one file
// per UTC day of the entry time.
type Writer struct {
	dir string
	mu  sync.Mutex
}

// NewWriter creates an append-only audit writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Dir returns the directory audit files are written to.
func (w *Writer) Dir() string {
	return w.dir
}

// PathFor returns the audit file path for the given time.
func (w *Writer) PathFor(t time.Time) string {
	return filepath.Join(w.dir, filePrefix+t.UTC().Format("2006-01-02")+fileSuffix)
}

// Append writes one entry as one JSONL line.
func (w *Writer) Append(entry Entry) error {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}

	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	encoded = append(encoded, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, auditDirMode); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	file, err := os.OpenFile(w.PathFor(entry.Time), os.O_CREATE|os.O_WRONLY|os.O_APPEND, auditFileMode)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(encoded); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync audit file: %w", err)
	}
	return nil
}
