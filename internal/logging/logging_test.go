package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewWithOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(&buf, "debug", "json")
	if logger.GetLevel() != logrus.DebugLevel {
		t.Fatalf("unexpected level %v", logger.GetLevel())
	}
	logger.WithField("index", 2).Debug("image skipped")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json output, got %q", buf.String())
	}
	if line["msg"] != "image skipped" || line["index"] != float64(2) {
		t.Fatalf("unexpected fields %v", line)
	}
}

func TestNewWithOutput_Fallbacks(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(&buf, "chatty", "")
	if logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info fallback, got %v", logger.GetLevel())
	}
	logger.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}
