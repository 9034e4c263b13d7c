package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestInitAndGetShareOneLogger(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	var buf bytes.Buffer
	Init(Options{Level: "debug", Output: &buf})

	// Events chain directly off Get's return value.
	Get().Info().Str("component", "test").Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"message":"hello"`) {
		t.Fatalf("log output missing message: %s", out)
	}
	if !strings.Contains(out, `"component":"test"`) {
		t.Fatalf("log output missing field: %s", out)
	}
}

func TestSecondInitKeepsFirstConfig(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	var first, second bytes.Buffer
	Init(Options{Output: &first})
	Init(Options{Output: &second})

	Get().Info().Msg("routed")
	if first.Len() == 0 || second.Len() != 0 {
		t.Fatalf("second Init reconfigured the logger: first=%d second=%d", first.Len(), second.Len())
	}
}

func TestGetPanicsBeforeInit(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	defer func() {
		if recover() == nil {
			t.Fatal("Get before Init did not panic")
		}
	}()
	Get()
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "debug",
		"WARN":    "warn",
		"warning": "warn",
		"error":   "error",
		"":        "info",
		"bogus":   "info",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}
