package logger

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// stripANSI removes ANSI color codes from a string for testing
func stripANSI(str string) string {
	ansiRegex := regexp.MustCompile(`\x1b\[[0-9;]*m`)
	return ansiRegex.ReplaceAllString(str, "")
}

func encode(t *testing.T, ent zapcore.Entry, fields []zapcore.Field) string {
	t.Helper()
	encoder := newMinimalEncoder()
	buf, err := encoder.EncodeEntry(ent, fields)
	if err != nil {
		t.Fatalf("EncodeEntry failed: %v", err)
	}
	return stripANSI(buf.String())
}

func infoEntry(msg string) zapcore.Entry {
	return zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       time.Date(2026, 3, 14, 13, 4, 35, 0, time.UTC),
		LoggerName: "server.router",
		Message:    msg,
	}
}

// The encoder must never silently discard log fields. Fields without a
// compact form fall through as key=value pairs.
func TestMinimalEncoderNeverDiscardsFields(t *testing.T) {
	fields := []zapcore.Field{
		zap.String("backend", "sim"),
		zap.Bool("superres", false),
		zap.Float64("fraction", 0.75),
		zap.Int("width", 512),
		zap.Strings("loras", []string{"detail", "film"}),
		zap.String("client", "127.0.0.1:63318"),
	}

	out := encode(t, infoEntry("Job accepted"), fields)

	required := []string{
		"backend=sim",
		"superres=false",
		"fraction=0.75",
		"width=512",
		"loras=[detail film]",
		"client=127.0.0.1:63318",
	}
	for _, want := range required {
		if !strings.Contains(out, want) {
			t.Errorf("field missing from output: %s\noutput: %s", want, out)
		}
	}
}

func TestMinimalEncoderCompactForms(t *testing.T) {
	fields := []zapcore.Field{
		zap.String(FieldJobID, "a1b2c3d4e5f6"),
		zap.Int(FieldSteps, 4),
		zap.Int64(FieldDurationMS, 232),
	}

	out := encode(t, infoEntry("Job complete"), fields)

	if !strings.Contains(out, "a1b2c3d4e5f6") {
		t.Errorf("job id missing: %s", out)
	}
	if !strings.Contains(out, "(4 steps, 232ms)") {
		t.Errorf("compact steps/duration form missing: %s", out)
	}
	// Compact fields must not also appear as key=value noise.
	if strings.Contains(out, "job_id=") || strings.Contains(out, "steps=") {
		t.Errorf("compact field leaked as key=value: %s", out)
	}
}

func TestMinimalEncoderSymbolPrefix(t *testing.T) {
	fields := []zapcore.Field{
		zap.String(FieldSymbol, symPulse),
		zap.String(FieldJobID, "a1b2c3"),
	}

	out := encode(t, infoEntry("Job started"), fields)

	if !strings.Contains(out, symPulse+" Job started") {
		t.Errorf("symbol not prefixed to message: %s", out)
	}
	if strings.Contains(out, "symbol=") {
		t.Errorf("symbol leaked as key=value: %s", out)
	}
}

func TestMinimalEncoderLoggerNameAbbreviation(t *testing.T) {
	out := encode(t, infoEntry("Client connected"), nil)
	if !strings.Contains(out, "s.router") {
		t.Errorf("expected abbreviated logger name s.router in: %s", out)
	}
}

func TestMinimalEncoderLevelDisplay(t *testing.T) {
	ent := infoEntry("disk almost full")
	ent.Level = zapcore.WarnLevel
	out := encode(t, ent, nil)
	if !strings.Contains(out, "WARN") {
		t.Errorf("WARN marker missing: %s", out)
	}

	ent.Level = zapcore.InfoLevel
	out = encode(t, ent, nil)
	if strings.Contains(out, "INFO") {
		t.Errorf("info level should not be labeled: %s", out)
	}
}

func TestMinimalEncoderBrackets(t *testing.T) {
	out := encode(t, infoEntry("[job:a1b2c3] progress 50%"), nil)
	if !strings.Contains(out, "[job:a1b2c3]") {
		t.Errorf("bracketed context mangled: %s", out)
	}
}

func TestFieldValueTypes(t *testing.T) {
	cases := []struct {
		field zapcore.Field
		want  string
	}{
		{zap.String("k", "v"), "v"},
		{zap.Bool("k", true), "true"},
		{zap.Int("k", 42), "42"},
		{zap.Uint64("k", 5000000000), "5000000000"},
		{zap.Float64("k", 0.8), "0.8"},
		{zap.ByteString("k", []byte("hello")), "hello"},
	}
	for _, c := range cases {
		if got := getFieldValue(c.field); got != c.want {
			t.Errorf("getFieldValue(%v) = %q, want %q", c.field, got, c.want)
		}
	}

	// Error fields render the message.
	errField := zap.Error(assertErr{})
	if got := getFieldValue(errField); got != "boom" {
		t.Errorf("getFieldValue(error) = %q, want boom", got)
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestAbbreviateName(t *testing.T) {
	cases := map[string]string{
		"server":        "server",
		"server.router": "s.router",
		"engine.pool":   "e.pool",
	}
	for in, want := range cases {
		if got := abbreviateName(in); got != want {
			t.Errorf("abbreviateName(%q) = %q, want %q", in, got, want)
		}
	}
}
