package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestTextLoggerRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := Text(&buf, slog.LevelInfo)
	log.Debug("hidden")
	log.Info("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatal("debug record leaked through info level")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "key=value") {
		t.Fatalf("missing info record: %q", out)
	}
}

func TestPrettyHandlerFormatsAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelDebug)
	log.With("scope", "encoder").Debug("resolved", "name", "w_embs")

	out := buf.String()
	for _, want := range []string{"DEBUG", "resolved", "scope=encoder", "name=w_embs"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	if ParseLevel("debug") != slog.LevelDebug {
		t.Fatal("debug")
	}
	if ParseLevel("unknown") != slog.LevelInfo {
		t.Fatal("default should be info")
	}
}
