package minilog

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// logger is anything minilog can hand a fully-formatted line to — in
// practice a stdlib *log.Logger writing to stderr, an os.File, or this
// package's own Ring.
type logger interface {
	Println(...interface{})
}

// entryLogger pairs one registered destination with its own level, color,
// and substring filters, so SetLevel/AddFilter can retune one logger
// without touching any other registered alongside it.
type entryLogger struct {
	logger

	Level   Level
	Color   bool // print in color
	filters []string
}

var levelTags = map[Level]string{
	DEBUG: "DEBUG ",
	INFO:  "INFO ",
	WARN:  "WARN ",
	ERROR: "ERROR ",
	FATAL: "FATAL ",
}

var levelColors = map[Level]string{
	DEBUG: colorDebug,
	INFO:  colorInfo,
	WARN:  colorWarn,
	ERROR: colorError,
	FATAL: colorFatal,
}

// compose builds one formatted line: a level tag, then either the
// destination's registered name or, for the anonymous default logger
// (name == ""), the short file:line of whoever called into minilog, then
// body, optionally wrapped end-to-end in ANSI color codes.
func (l *entryLogger) compose(level Level, name, body string) string {
	var b strings.Builder

	if l.Color {
		b.WriteString(colorLine)
	}
	b.WriteString(levelTags[level])

	if name != "" {
		b.WriteString(name)
		b.WriteString(": ")
	} else {
		// Skip compose, the log/logln caller, dispatch, and the public
		// Debug/Info/... wrapper to land on the actual call site.
		_, file, line, _ := runtime.Caller(4)
		if i := strings.LastIndexByte(file, '/'); i >= 0 {
			file = file[i+1:]
		}
		b.WriteString(file)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(line))
		b.WriteString(": ")
	}

	if l.Color {
		b.WriteString(levelColors[level])
	}
	b.WriteString(body)
	if l.Color {
		b.WriteString(Reset)
	}
	return b.String()
}

// deliver sends msg to the underlying logger unless it matches one of this
// entry's substring filters.
func (l *entryLogger) deliver(msg string) {
	for _, f := range l.filters {
		if strings.Contains(msg, f) {
			return
		}
	}
	l.Println(msg)
}

func (l *entryLogger) log(level Level, name, format string, arg ...interface{}) {
	l.deliver(l.compose(level, name, fmt.Sprintf(format, arg...)))
}

func (l *entryLogger) logln(level Level, name string, arg ...interface{}) {
	l.deliver(l.compose(level, name, fmt.Sprint(arg...)))
}
