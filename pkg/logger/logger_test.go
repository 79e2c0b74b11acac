package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	SetLevel(WARN)
	defer SetLevel(INFO)

	InfoCF("test", "hidden", nil)
	WarnCF("test", "shown", map[string]interface{}{"key": "value"})

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Error("INFO line written despite WARN level")
	}
	if !strings.Contains(got, "shown") {
		t.Error("WARN line missing")
	}
	if !strings.Contains(got, "[test]") {
		t.Errorf("component tag missing: %q", got)
	}
	if !strings.Contains(got, "key=value") {
		t.Errorf("field missing: %q", got)
	}
}

func TestFieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	SetLevel(DEBUG)
	defer SetLevel(INFO)

	DebugCF("test", "msg", map[string]interface{}{"b": 2, "a": 1})
	got := buf.String()
	if strings.Index(got, "a=1") > strings.Index(got, "b=2") {
		t.Errorf("fields not sorted: %q", got)
	}
}
