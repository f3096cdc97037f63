package logging

import (
	"io"
	"strconv"
	"sync"
)

// LineLogger writes one "[LEVEL] msg k=v" line per call to a raw writer such as a
// serial console. It avoids fmt to keep MCU binaries small.
type LineLogger struct {
	mu    *sync.Mutex
	w     io.Writer
	min   Level
	attrs []byte
}

// Level orders LineLogger severities.
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// NewLine returns a LineLogger that writes lines at min level and above to w.
func NewLine(w io.Writer, min Level) *LineLogger {
	return &LineLogger{mu: &sync.Mutex{}, w: w, min: min}
}

// With returns a logger that appends args to every line.
func (l *LineLogger) With(args ...any) *LineLogger {
	c := *l
	c.attrs = appendArgs(append([]byte(nil), l.attrs...), args)
	return &c
}

func (l *LineLogger) Debug(msg string, args ...any) { l.log(LevelDebug, "[DEBUG] ", msg, args) }
func (l *LineLogger) Info(msg string, args ...any)  { l.log(LevelInfo, "[INFO]  ", msg, args) }
func (l *LineLogger) Warn(msg string, args ...any)  { l.log(LevelWarn, "[WARN]  ", msg, args) }
func (l *LineLogger) Error(msg string, args ...any) { l.log(LevelError, "[ERROR] ", msg, args) }

func (l *LineLogger) log(lvl Level, prefix, msg string, args []any) {
	if lvl < l.min {
		return
	}
	buf := make([]byte, 0, len(prefix)+len(msg)+len(l.attrs)+32)
	buf = append(buf, prefix...)
	buf = append(buf, msg...)
	buf = append(buf, l.attrs...)
	buf = appendArgs(buf, args)
	buf = append(buf, '\r', '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(buf)
}

func appendArgs(buf []byte, args []any) []byte {
	for i := 0; i < len(args); i += 2 {
		buf = append(buf, ' ')
		key, ok := args[i].(string)
		if !ok {
			key = "!BADKEY"
		}
		buf = append(buf, key...)
		buf = append(buf, '=')
		if i+1 < len(args) {
			buf = appendValue(buf, args[i+1])
		}
	}
	return buf
}

func appendValue(buf []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(buf, "<nil>"...)
	case string:
		return append(buf, x...)
	case error:
		return append(buf, x.Error()...)
	case interface{ String() string }:
		return append(buf, x.String()...)
	case bool:
		return strconv.AppendBool(buf, x)
	case int:
		return strconv.AppendInt(buf, int64(x), 10)
	case int8:
		return strconv.AppendInt(buf, int64(x), 10)
	case int16:
		return strconv.AppendInt(buf, int64(x), 10)
	case int32:
		return strconv.AppendInt(buf, int64(x), 10)
	case int64:
		return strconv.AppendInt(buf, x, 10)
	case uint:
		return strconv.AppendUint(buf, uint64(x), 10)
	case uint8:
		return strconv.AppendUint(buf, uint64(x), 10)
	case uint16:
		return strconv.AppendUint(buf, uint64(x), 10)
	case uint32:
		return strconv.AppendUint(buf, uint64(x), 10)
	case uint64:
		return strconv.AppendUint(buf, x, 10)
	case float32:
		return strconv.AppendFloat(buf, float64(x), 'g', -1, 32)
	case float64:
		return strconv.AppendFloat(buf, x, 'g', -1, 64)
	default:
		return append(buf, "<?>"...)
	}
}
