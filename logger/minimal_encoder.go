package logger

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// Symbol constants (duplicated from sym to avoid a circular dependency).
const (
	symPulse = "꩜" // pool/job activity
	symDream = "☾" // dream controller
)

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"
)

// Everforest Dark palette. Warm, muted, easy on eyes during long sessions
// watching generation progress scroll by.
var palette = struct {
	fg       string
	green    string
	greenMid string
	aqua     string
	orange   string
	yellow   string
	red      string
	redBg    string
	yellowBg string
}{
	fg:       "\x1b[38;5;223m", // soft beige (#d3c6aa)
	green:    "\x1b[38;5;108m", // bright green (#a7c080)
	greenMid: "\x1b[38;5;107m", // mid green (#83c092)
	aqua:     "\x1b[38;5;109m", // blue-green (#7fbbb3)
	orange:   "\x1b[38;5;208m", // warm orange (#e69875)
	yellow:   "\x1b[38;5;179m", // soft yellow (#dbbc7f)
	red:      "\x1b[38;5;167m", // warm red (#e67e80)
	redBg:    "\x1b[48;5;52m",
	yellowBg: "\x1b[48;5;58m",
}

// bracketPattern matches bracketed contexts: [job:a1b2c3], [mode:flux], etc.
var bracketPattern = regexp.MustCompile(`\[([^\]]+)\]`)

// colorizeMessage applies context-aware colorization to bracketed contexts
// and subsystem symbols inside a log message.
func colorizeMessage(msg string) string {
	result := strings.Builder{}
	lastIndex := 0

	matches := bracketPattern.FindAllStringSubmatchIndex(msg, -1)
	for _, match := range matches {
		textBefore := msg[lastIndex:match[0]]
		if textBefore != "" {
			result.WriteString(palette.fg)
			result.WriteString(colorizeSymbols(textBefore))
			result.WriteString(colorReset)
		}

		content := msg[match[2]:match[3]]
		var color string
		switch {
		case strings.HasPrefix(content, "job:"):
			color = palette.aqua
		case strings.HasPrefix(content, "mode:"):
			color = palette.orange
		default:
			color = palette.greenMid
		}

		result.WriteString(color)
		result.WriteString(msg[match[0]:match[1]])
		result.WriteString(colorReset)

		lastIndex = match[1]
	}

	remaining := msg[lastIndex:]
	if remaining != "" {
		result.WriteString(palette.fg)
		result.WriteString(colorizeSymbols(remaining))
		result.WriteString(colorReset)
	}

	return result.String()
}

func colorizeSymbols(text string) string {
	text = strings.ReplaceAll(text, symPulse, palette.green+symPulse+colorReset+palette.fg)
	text = strings.ReplaceAll(text, symDream, palette.aqua+symDream+colorReset+palette.fg)
	return text
}

// minimalEncoder implements a calm, compact console encoder.
// Format: "13:04:35  s.router  ꩜ Job complete  a1b2c3 (4 steps, 232ms)"
type minimalEncoder struct {
	zapcore.Encoder // embedded base encoder for field serialization
	buf             *buffer.Buffer
}

func newMinimalEncoder() *minimalEncoder {
	baseEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	return &minimalEncoder{
		Encoder: baseEncoder,
		buf:     buffer.NewPool().Get(),
	}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	return &minimalEncoder{
		Encoder: enc.Encoder.Clone(),
		buf:     buffer.NewPool().Get(),
	}
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := buffer.NewPool().Get()

	final.AppendString(palette.greenMid)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	// Level shown only for WARN and above.
	if ent.Level > zapcore.InfoLevel {
		final.AppendString("  ")
		final.AppendString(levelColorString(ent.Level))
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(palette.orange)
		final.AppendString(abbreviateName(ent.LoggerName))
		final.AppendString(colorReset)
	}

	// A symbol field becomes a message prefix rather than a key=value pair.
	msg := ent.Message
	for _, f := range fields {
		if f.Key == FieldSymbol && f.Type == zapcore.StringType {
			msg = f.String + " " + msg
			break
		}
	}

	final.AppendString("  ")
	final.AppendString(colorizeMessage(msg))

	if len(fields) > 0 {
		if tail := extractFieldValues(fields); tail != "" {
			final.AppendString("  ")
			final.AppendString(tail)
		}
	}

	final.AppendString("\n")
	return final, nil
}

func levelColorString(level zapcore.Level) string {
	switch level {
	case zapcore.WarnLevel:
		return colorBold + palette.yellowBg + palette.yellow + "WARN" + colorReset
	case zapcore.ErrorLevel:
		return colorBold + palette.redBg + palette.red + "ERROR" + colorReset
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return colorBold + palette.redBg + palette.red + level.CapitalString() + colorReset
	default:
		return ""
	}
}

// abbreviateName shortens component names: server -> server, server.router -> s.router
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}

// getFieldValue renders a zap field value as a plain string. Every field
// type yields some representation; nothing is silently dropped.
func getFieldValue(field zapcore.Field) string {
	switch field.Type {
	case zapcore.StringType:
		return field.String
	case zapcore.BoolType:
		if field.Integer == 1 {
			return "true"
		}
		return "false"
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type,
		zapcore.UintptrType, zapcore.DurationType:
		return fmt.Sprintf("%d", field.Integer)
	case zapcore.Float64Type:
		return strconv.FormatFloat(math.Float64frombits(uint64(field.Integer)), 'g', -1, 64)
	case zapcore.Float32Type:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(field.Integer))), 'g', -1, 32)
	case zapcore.ErrorType:
		if err, ok := field.Interface.(error); ok {
			return err.Error()
		}
	case zapcore.ByteStringType:
		if b, ok := field.Interface.([]byte); ok {
			return string(b)
		}
	case zapcore.TimeType:
		return time.Unix(0, field.Integer).Format(time.RFC3339)
	}

	if field.Interface != nil {
		return fmt.Sprintf("%v", field.Interface)
	}

	return ""
}

// extractFieldValues renders structured fields. Fields the operator scans
// for constantly (ids, modes, counts) get compact colored forms; every other
// field falls through as key=value so nothing is lost from console output.
// Input: {"job_id": "a1b2c3", "steps": 4, "duration_ms": 232}
// Output: "a1b2c3 (4 steps, 232ms)"
func extractFieldValues(fields []zapcore.Field) string {
	var values []string
	var extras []string
	var steps, duration string

	for _, field := range fields {
		if field.Type == zapcore.SkipType {
			continue
		}
		switch field.Key {
		case FieldSymbol:
			// rendered as message prefix
		case FieldJobID, FieldSessionID, FieldRef, FieldKey:
			if val := getFieldValue(field); val != "" {
				values = append(values, palette.aqua+val+colorReset)
			}
		case FieldMode, FieldWorkflow:
			if val := getFieldValue(field); val != "" {
				values = append(values, palette.orange+val+colorReset)
			}
		case FieldSteps:
			steps = getFieldValue(field)
		case FieldDurationMS:
			duration = getFieldValue(field)
		case FieldCount, FieldQueueDepth:
			if val := getFieldValue(field); val != "" {
				values = append(values, palette.green+val+colorReset)
			}
		case FieldError:
			values = append(values, palette.red+getFieldValue(field)+colorReset)
		default:
			extras = append(extras, field.Key+"="+getFieldValue(field))
		}
	}

	if steps != "" || duration != "" {
		fg := palette.fg
		num := palette.green
		var inner []string
		if steps != "" {
			inner = append(inner, num+steps+colorReset+fg+" steps")
		}
		if duration != "" {
			inner = append(inner, num+duration+colorReset+fg+"ms")
		}
		values = append(values, fg+"("+strings.Join(inner, ", ")+")"+colorReset)
	}

	if len(extras) > 0 {
		values = append(values, palette.fg+strings.Join(extras, " ")+colorReset)
	}

	if len(values) == 0 {
		return ""
	}

	return strings.Join(values, " ")
}
