package audit

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Recorder receives audit events. Recording must never fail a request:
// implementations log delivery problems themselves and return nil to callers
// on the hot path.
type Recorder interface {
	Record(ctx context.Context, event *Event)
	Close() error
}

// Constrain implementations at compile time.
var (
	_ Recorder = (*LogRecorder)(nil)
	_ Recorder = (*MemoryStore)(nil)
	_ Recorder = (MultiRecorder)(nil)
	_ Recorder = noOpRecorder{}
)

// NopRecorder returns a recorder that discards all events.
func NopRecorder() Recorder {
	return noOpRecorder{}
}

type noOpRecorder struct{}

func (noOpRecorder) Record(ctx context.Context, event *Event) {}
func (noOpRecorder) Close() error                             { return nil }

// LogRecorder writes audit events to a structured JSON log stream.
type LogRecorder struct {
	log *logrus.Logger
}

// NewLogRecorder creates a recorder writing JSON lines to output
// (stdout when nil).
func NewLogRecorder(output io.Writer) *LogRecorder {
	if output == nil {
		output = os.Stdout
	}
	log := logrus.New()
	log.SetOutput(output)
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	log.SetLevel(logrus.InfoLevel)
	return &LogRecorder{log: log}
}

// Record writes the event as a single structured log line
func (r *LogRecorder) Record(ctx context.Context, event *Event) {
	fields := logrus.Fields{
		"audit_id":   event.ID,
		"event_type": event.Type,
		"status":     event.Status,
	}
	if event.SubjectID != "" {
		fields["subject_id"] = event.SubjectID
	}
	if event.Subject != "" {
		fields["subject"] = event.Subject
	}
	if len(event.Roles) > 0 {
		fields["roles"] = event.Roles
	}
	if event.ReportID != "" {
		fields["report_id"] = event.ReportID
	}
	if event.DatasetID != "" {
		fields["dataset_id"] = event.DatasetID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.IPAddress != "" {
		fields["ip_address"] = event.IPAddress
	}
	if event.Path != "" {
		fields["method"] = event.Method
		fields["path"] = event.Path
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := r.log.WithFields(fields)
	switch event.Status {
	case EventStatusSuccess:
		entry.Info(event.Message)
	default:
		entry.Warn(event.Message)
	}
}

// Close flushes the underlying stream if it supports it
func (r *LogRecorder) Close() error {
	if closer, ok := r.log.Out.(io.Closer); ok && r.log.Out != os.Stdout && r.log.Out != os.Stderr {
		return closer.Close()
	}
	return nil
}

// MultiRecorder fans every event out to each wrapped recorder.
type MultiRecorder []Recorder

// Record delivers the event to every recorder
func (m MultiRecorder) Record(ctx context.Context, event *Event) {
	for _, r := range m {
		r.Record(ctx, event)
	}
}

// Close closes every recorder, returning the first error
func (m MultiRecorder) Close() error {
	var firstErr error
	for _, r := range m {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
