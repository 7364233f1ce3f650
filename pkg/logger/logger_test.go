package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T, buf *bytes.Buffer) Logger {
	t.Helper()
	l, err := NewLogger(&Config{
		Level:            DebugLevel,
		Format:           JSONFormat,
		DisableTimestamp: true,
		Writer:           buf,
	})
	if err != nil {
		t.Fatalf("unexpected error creating logger: %v", err)
	}
	return l
}

func TestWithFieldsAccumulate(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(t, &buf)

	l.WithComponent("ingest").WithField("statement_id", "st-1").Info("imported")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "ingest" {
		t.Errorf("expected component field to survive chaining, got %v", entry["component"])
	}
	if entry["statement_id"] != "st-1" {
		t.Errorf("expected statement_id field, got %v", entry["statement_id"])
	}
	if entry["msg"] != "imported" {
		t.Errorf("expected msg 'imported', got %v", entry["msg"])
	}
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(t, &buf)

	l.WithError(errors.New("boom")).Error("failed")

	if !strings.Contains(buf.String(), `"error":"boom"`) {
		t.Errorf("expected error field in output, got %q", buf.String())
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"bad level", Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
		{"writer overrides output", Config{Level: InfoLevel, Format: TextFormat, Writer: &bytes.Buffer{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProgressTrackerLogsEveryN(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(t, &buf)

	tracker := NewProgressTracker(ProgressConfig{
		Operation: "read rows",
		LogEvery:  2,
		Logger:    l,
	})
	for i := 0; i < 5; i++ {
		tracker.Increment()
	}

	if got := strings.Count(buf.String(), "Progress update"); got != 2 {
		t.Errorf("expected 2 progress lines, got %d in %q", got, buf.String())
	}
	if stats := tracker.GetStats(); stats.Current != 5 {
		t.Errorf("expected 5 processed, got %d", stats.Current)
	}
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(t, &buf)

	want := errors.New("nope")
	if err := TimedOperation("commit", l, func() error { return want }); err != want {
		t.Errorf("expected error to be returned unchanged, got %v", err)
	}
	if !strings.Contains(buf.String(), `"status":"error"`) {
		t.Errorf("expected error status in output, got %q", buf.String())
	}
}
