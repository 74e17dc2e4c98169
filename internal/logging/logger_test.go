package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerDefaults(t *testing.T) {
	l := NewLogger(nil)
	if l == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}
}

func TestNewLoggerWritesToOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelDebug, Output: &buf, Name: "test"})
	l.Info("hello world", "key", "value")

	out := buf.String()
	if !strings.Contains(out, "hello world") {
		t.Errorf("expected message in output, got: %s", out)
	}
	if !strings.Contains(out, "key=value") {
		t.Errorf("expected key=value in output, got: %s", out)
	}
}

func TestWithNITagsMessages(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	niLogger := WithNI(l, 3)
	niLogger.Info("ni scoped message")

	out := buf.String()
	if !strings.Contains(out, "ni=3") {
		t.Errorf("expected ni=3 in output, got: %s", out)
	}
}

func TestWithPeerAndXactCompose(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	scoped := WithXact(WithPeer(l, 7), 0xABCD)
	scoped.Warn("transaction retried")

	out := buf.String()
	if !strings.Contains(out, "peer=7") {
		t.Errorf("expected peer=7 in output, got: %s", out)
	}
	if !strings.Contains(out, "xact=43981") { // 0xABCD decimal
		t.Errorf("expected xact=43981 in output, got: %s", out)
	}
}

func TestDefaultSetDefaultRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	custom := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	SetDefault(custom)
	Default().Info("via default")

	out := buf.String()
	if !strings.Contains(out, "via default") {
		t.Errorf("expected message via Default(), got: %s", out)
	}
}
