package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	event := NewEvent(EventTypeTokenIssued, EventStatusSuccess)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventTypeTokenIssued, event.Type)
	assert.Equal(t, EventStatusSuccess, event.Status)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, time.Second)

	// IDs are unique
	other := NewEvent(EventTypeTokenIssued, EventStatusSuccess)
	assert.NotEqual(t, event.ID, other.ID)
}

func TestLogRecorderWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	recorder := NewLogRecorder(&buf)

	event := NewEvent(EventTypeAccessDenied, EventStatusDenied)
	event.SubjectID = "user-1"
	event.ReportID = "r-1"
	event.Message = "missing permission"
	recorder.Record(context.Background(), event)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, string(EventTypeAccessDenied), line["event_type"])
	assert.Equal(t, "user-1", line["subject_id"])
	assert.Equal(t, "r-1", line["report_id"])
	assert.Equal(t, "missing permission", line["msg"])
	assert.Equal(t, "warning", line["level"])
}

func TestLogRecorderSuccessLogsAtInfo(t *testing.T) {
	var buf bytes.Buffer
	recorder := NewLogRecorder(&buf)

	event := NewEvent(EventTypeAuthAccepted, EventStatusSuccess)
	event.Message = "authenticated"
	recorder.Record(context.Background(), event)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
}

func TestMemoryStoreQueryNewestFirst(t *testing.T) {
	store := NewMemoryStore(10)

	for i := 0; i < 3; i++ {
		event := NewEvent(EventTypeTokenIssued, EventStatusSuccess)
		event.ReportID = fmt.Sprintf("r-%d", i)
		store.Record(context.Background(), event)
	}

	events := store.Query(Filter{})
	require.Len(t, events, 3)
	assert.Equal(t, "r-2", events[0].ReportID)
	assert.Equal(t, "r-0", events[2].ReportID)
}

func TestMemoryStoreOverwritesOldest(t *testing.T) {
	store := NewMemoryStore(2)

	for i := 0; i < 5; i++ {
		event := NewEvent(EventTypeTokenIssued, EventStatusSuccess)
		event.ReportID = fmt.Sprintf("r-%d", i)
		store.Record(context.Background(), event)
	}

	assert.Equal(t, 2, store.Len())
	events := store.Query(Filter{})
	require.Len(t, events, 2)
	assert.Equal(t, "r-4", events[0].ReportID)
	assert.Equal(t, "r-3", events[1].ReportID)
}

func TestMemoryStoreFilters(t *testing.T) {
	store := NewMemoryStore(10)

	denied := NewEvent(EventTypeAccessDenied, EventStatusDenied)
	denied.SubjectID = "user-1"
	store.Record(context.Background(), denied)

	issued := NewEvent(EventTypeTokenIssued, EventStatusSuccess)
	issued.SubjectID = "user-2"
	store.Record(context.Background(), issued)

	byType := store.Query(Filter{Type: EventTypeAccessDenied})
	require.Len(t, byType, 1)
	assert.Equal(t, "user-1", byType[0].SubjectID)

	bySubject := store.Query(Filter{SubjectID: "user-2"})
	require.Len(t, bySubject, 1)
	assert.Equal(t, EventTypeTokenIssued, bySubject[0].Type)

	none := store.Query(Filter{Since: time.Now().Add(time.Hour)})
	assert.Empty(t, none)
}

func TestMemoryStoreLimit(t *testing.T) {
	store := NewMemoryStore(10)
	for i := 0; i < 6; i++ {
		store.Record(context.Background(), NewEvent(EventTypeTokenIssued, EventStatusSuccess))
	}

	assert.Len(t, store.Query(Filter{Limit: 4}), 4)
}

func TestMultiRecorderFansOut(t *testing.T) {
	var buf bytes.Buffer
	store := NewMemoryStore(10)
	recorder := MultiRecorder{NewLogRecorder(&buf), store}

	recorder.Record(context.Background(), NewEvent(EventTypeCacheInvalidated, EventStatusSuccess))

	assert.Equal(t, 1, store.Len())
	assert.Contains(t, buf.String(), string(EventTypeCacheInvalidated))
	assert.NoError(t, recorder.Close())
}

func TestNopRecorder(t *testing.T) {
	recorder := NopRecorder()
	recorder.Record(context.Background(), NewEvent(EventTypeAuthAccepted, EventStatusSuccess))
	assert.NoError(t, recorder.Close())
}
