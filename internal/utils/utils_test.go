package utils

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestAppErrorKinds(t *testing.T) {
	cause := errors.New("open data/a.csv: no such file")
	err := fmt.Errorf("pair a|b: %w", LoadError("dataset.GetSeries", "read source", cause))

	if !errors.Is(err, ErrLoad) {
		t.Fatalf("expected ErrLoad, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if errors.Is(err, ErrConfig) {
		t.Fatalf("load error must not match ErrConfig")
	}
	if got := KindOf(err); got != "load" {
		t.Fatalf("expected kind load, got %q", got)
	}

	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Op != "dataset.GetSeries" {
		t.Fatalf("expected AppError with op, got %#v", appErr)
	}
}

func TestKindOf(t *testing.T) {
	cases := map[string]error{
		"":         nil,
		"config":   ConfigError("op", "bad window", nil),
		"schema":   SchemaError("op", "missing column", nil),
		"internal": errors.New("boom"),
	}
	for want, err := range cases {
		if got := KindOf(err); got != want {
			t.Fatalf("KindOf(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-03-05", "2024/03/05", "03/05/2024", "2024-03-05T00:00:00Z", "\"2024-03-05\""} {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseTimestamp(%q) = %v, want %v", in, got, want)
		}
	}

	year, err := ParseTimestamp("1999")
	if err != nil || year.Year() != 1999 {
		t.Fatalf("expected year 1999, got %v (%v)", year, err)
	}

	epoch, err := ParseTimestamp("1709596800")
	if err != nil || !epoch.Equal(time.Unix(1709596800, 0)) {
		t.Fatalf("unexpected epoch parse %v (%v)", epoch, err)
	}

	millis, err := ParseTimestamp("1709596800000")
	if err != nil || !millis.Equal(time.Unix(1709596800, 0)) {
		t.Fatalf("unexpected epoch millis parse %v (%v)", millis, err)
	}

	compact, err := ParseTimestamp("20210315")
	if err != nil || !compact.Equal(time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 2021-03-15 for compact date, got %v (%v)", compact, err)
	}

	// Not a calendar date, so it stays an epoch.
	notDate, err := ParseTimestamp("20211345")
	if err != nil || !notDate.Equal(time.Unix(20211345, 0)) {
		t.Fatalf("expected epoch fallback, got %v (%v)", notDate, err)
	}

	if _, err := ParseTimestamp("not a date"); err == nil {
		t.Fatalf("expected error for garbage input")
	}
	if _, err := ParseTimestamp(""); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestNumericTimestamp(t *testing.T) {
	got, err := NumericTimestamp(20210315)
	if err != nil || !got.Equal(time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 2021-03-15, got %v (%v)", got, err)
	}
	got, err = NumericTimestamp(1709596800)
	if err != nil || !got.Equal(time.Unix(1709596800, 0)) {
		t.Fatalf("expected epoch seconds, got %v (%v)", got, err)
	}
	got, err = NumericTimestamp(20210315.5)
	if err != nil || !got.Equal(time.Unix(20210315, 5e8)) {
		t.Fatalf("expected fractional epoch, got %v (%v)", got, err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		" error ": slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerToRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn", true)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("pair", "a|b"))

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"pair":"a|b"`) {
		t.Fatalf("unexpected log output %q", out)
	}
}
