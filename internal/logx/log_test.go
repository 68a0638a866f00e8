package logx

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
)

func TestConfigureLogLevel(t *testing.T) {
	defer Configure("info", "")

	Configure("all", "")
	if zerolog.GlobalLevel() != zerolog.TraceLevel {
		t.Fatalf("expected trace level, got %s", zerolog.GlobalLevel())
	}

	Configure("WARNING", "")
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %s", zerolog.GlobalLevel())
	}

	Configure("none", "")
	if zerolog.GlobalLevel() != zerolog.Disabled {
		t.Fatalf("expected disabled level, got %s", zerolog.GlobalLevel())
	}

	Configure("bogus", "json")
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info level, got %s", zerolog.GlobalLevel())
	}
}

func TestWriterFormat(t *testing.T) {
	var buf bytes.Buffer
	if w := writer("JSON", &buf); w != &buf {
		t.Fatalf("json format should write directly")
	}
	if _, ok := writer("", &buf).(zerolog.ConsoleWriter); !ok {
		t.Fatalf("default format should use the console writer")
	}
}
