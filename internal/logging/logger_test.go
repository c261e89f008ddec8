package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNew_WritesToOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.Info("hello", "key", "value")

	out := buf.String()
	if !strings.Contains(out, "hello") {
		t.Errorf("output missing message: %q", out)
	}
	if !strings.Contains(out, "key=value") {
		t.Errorf("output missing attribute: %q", out)
	}
	if !strings.Contains(out, "[info]") {
		t.Errorf("output missing level: %q", out)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})

	l.Info("should not appear")
	l.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("info line leaked through warn level: %q", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.Debug("hidden")
	l.SetLevel(LevelDebug)
	l.Debug("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line appeared before SetLevel")
	}
	if !strings.Contains(out, "visible") {
		t.Error("debug line missing after SetLevel")
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.WithComponent("modules").Info("starting")

	out := buf.String()
	if !strings.Contains(out, "modules:") {
		t.Errorf("component header missing: %q", out)
	}
}

func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf, JSON: true})

	l.Info("structured", "k", "v")

	out := buf.String()
	if !strings.Contains(out, `"msg":"structured"`) {
		t.Errorf("JSON output missing msg field: %q", out)
	}
}

func TestLogger_JSONFeedsLogBuffer(t *testing.T) {
	GetLogBuffer().Clear()

	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf, JSON: true})

	l.WithComponent("api").Info("buffered", "k", "v")

	entries := GetLogBuffer().GetBySource("api", 0)
	if len(entries) == 0 {
		t.Fatal("JSON logger did not mirror into the log buffer")
	}
	e := entries[len(entries)-1]
	if e.Message != "buffered" || e.Level != "info" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.Extra["k"] != "v" {
		t.Errorf("attribute missing from entry: %+v", e)
	}
}

func TestRingBuffer_Wraparound(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 0; i < 5; i++ {
		rb.Add(Entry{Timestamp: time.Now(), Level: "info", Source: "test", Message: string(rune('a' + i))})
	}

	all := rb.GetAll()
	if len(all) != 3 {
		t.Fatalf("expected 3 entries after wraparound, got %d", len(all))
	}
	// Oldest two entries were overwritten; order is preserved.
	if all[0].Message != "c" || all[2].Message != "e" {
		t.Errorf("unexpected order after wraparound: %v", []string{all[0].Message, all[1].Message, all[2].Message})
	}
}

func TestRingBuffer_GetLast(t *testing.T) {
	rb := NewRingBuffer(10)
	for i := 0; i < 4; i++ {
		rb.Add(Entry{Message: string(rune('a' + i))})
	}

	last := rb.GetLast(2)
	if len(last) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(last))
	}
	if last[0].Message != "c" || last[1].Message != "d" {
		t.Errorf("unexpected entries: %v", []string{last[0].Message, last[1].Message})
	}
}

func TestRingBuffer_GetBySource(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Add(Entry{Source: "api", Message: "one"})
	rb.Add(Entry{Source: "modules", Message: "two"})
	rb.Add(Entry{Source: "api", Message: "three"})

	got := rb.GetBySource("api", 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 api entries, got %d", len(got))
	}
}

func TestRingBuffer_Subscribe(t *testing.T) {
	rb := NewRingBuffer(10)
	ch, cancel := rb.Subscribe()
	defer cancel()

	rb.Add(Entry{Source: "test", Message: "live"})

	select {
	case e := <-ch:
		if e.Message != "live" {
			t.Errorf("unexpected entry: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive entry")
	}
}
