package audit

import (
	"log/slog"
	"time"
)

// Recorder fans entries out to the durable log and the in-memory history.
// Write failures are logged and never block the caller's transition.
type Recorder struct {
	writer        *Writer
	history       *History
	previewLength int
	now           func() time.Time
}

// NewRecorder creates a recorder. writer may be nil to keep history only.
func NewRecorder(writer *Writer, history *History, previewLength int) *Recorder {
	if history == nil {
		history = NewHistory(defaultHistorySize)
	}
	if previewLength <= 0 {
		previewLength = defaultPreviewLength
	}
	return &Recorder{
		writer:        writer,
		history:       history,
		previewLength: previewLength,
		now:           time.Now,
	}
}

// Record stamps, truncates and stores an entry. Token must be the full value;
// only its preview is stored.
func (r *Recorder) Record(entry Entry) Entry {
	if entry.Time.IsZero() {
		entry.Time = r.now().UTC()
	}
	entry.Content = PreviewContent(entry.Content, r.previewLength)
	entry.Token = PreviewToken(entry.Token)

	r.history.Add(entry)
	if r.writer != nil {
		if err := r.writer.Append(entry); err != nil {
			slog.Error("audit append failed", "event", entry.Event, "request_id", entry.RequestID, "error", err)
		}
	}
	return entry
}

// Recent returns up to n entries, newest first.
func (r *Recorder) Recent(n int) []Entry {
	return r.history.Recent(n)
}
