package logging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	color "github.com/opencompanion/companion/src/ansicolor"
	"github.com/opencompanion/companion/src/config"
	"github.com/opencompanion/companion/src/oops"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func init() {
	zerolog.ErrorStackMarshaler = oops.ZerologStackMarshaler
	log.Logger = zerolog.New(outputFor(config.Config.Env, os.Stderr))
	zerolog.SetGlobalLevel(config.Config.LogLevel)
}

// Live servers log one JSON object per line for the log collector. Everywhere
// else gets the pretty writer.
func outputFor(env config.Environment, out io.Writer) io.Writer {
	if env == config.Live {
		return out
	}
	return NewPrettyZerologWriterTo(out)
}

func GlobalLogger() *zerolog.Logger {
	return &log.Logger
}

func Debug() *zerolog.Event {
	return log.Debug().Timestamp().Stack()
}

func Info() *zerolog.Event {
	return log.Info().Timestamp().Stack()
}

func Warn() *zerolog.Event {
	return log.Warn().Timestamp().Stack()
}

func Error() *zerolog.Event {
	return log.Error().Timestamp().Stack()
}

func With() zerolog.Context {
	return log.With().Timestamp().Stack()
}

type loggerContextKey struct{}

func AttachLoggerToContext(logger *zerolog.Logger, ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// Returns the logger attached to ctx, or the global logger if there isn't one.
func ExtractLogger(ctx context.Context) *zerolog.Logger {
	if logger, ok := ctx.Value(loggerContextKey{}).(*zerolog.Logger); ok && logger != nil {
		return logger
	}
	return GlobalLogger()
}

/*
Turns zerolog's JSON lines into something a person can read in a terminal: the
message on one line, then the error, extra fields and stack trace indented below
it. Anything that isn't a JSON object is passed through untouched.

Multi-line entries are fenced off with a rule so they don't run together.
*/
type PrettyZerologWriter struct {
	out           io.Writer
	wd            string
	lastMultiline bool
}

var levelColors = map[string]string{
	"trace": color.Gray,
	"debug": color.Gray,
	"info":  color.BgBlue,
	"warn":  color.BgYellow,
	"error": color.BgRed,
	"fatal": color.BgRed,
	"panic": color.BgRed,
}

func NewPrettyZerologWriterTo(out io.Writer) *PrettyZerologWriter {
	wd, _ := os.Getwd()
	return &PrettyZerologWriter{out: out, wd: wd}
}

type prettyEntry struct {
	timestamp, level, message, err string
	stack                          []any
	fields                         map[string]any
}

func parseEntry(p []byte) (prettyEntry, bool) {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		return prettyEntry{}, false
	}

	take := func(name string) string {
		s, _ := fields[name].(string)
		delete(fields, name)
		return s
	}

	e := prettyEntry{
		timestamp: take(zerolog.TimestampFieldName),
		level:     take(zerolog.LevelFieldName),
		message:   take(zerolog.MessageFieldName),
		err:       take(zerolog.ErrorFieldName),
	}
	e.stack, _ = fields[zerolog.ErrorStackFieldName].([]any)
	delete(fields, zerolog.ErrorStackFieldName)
	e.fields = fields
	return e, true
}

func (w *PrettyZerologWriter) Write(p []byte) (int, error) {
	e, ok := parseEntry(p)
	if !ok {
		return w.out.Write(p)
	}

	multiline := e.err != "" || e.stack != nil || len(e.fields) > 0

	var b strings.Builder
	if multiline || w.lastMultiline {
		b.WriteString("---------------------------------------\n")
	}
	if e.timestamp != "" {
		b.WriteString(e.timestamp + " ")
	}
	if e.level != "" {
		fmt.Fprintf(&b, "%s%s%s%s: ", levelColors[e.level], color.Bold, strings.ToUpper(e.level), color.Reset)
	}
	b.WriteString(e.message + "\n")

	if e.err != "" {
		fmt.Fprintf(&b, "  %s%sERROR:%s %s\n", color.Bold, color.Red, color.Reset, e.err)
	}
	if len(e.fields) > 0 {
		fmt.Fprintf(&b, "  %s%sFields:%s\n", color.Bold, color.Blue, color.Reset)
		names := make([]string, 0, len(e.fields))
		for name := range e.fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			value, _ := json.MarshalIndent(e.fields[name], "    ", "  ")
			fmt.Fprintf(&b, "    %s: %s\n", name, value)
		}
	}
	if e.stack != nil {
		fmt.Fprintf(&b, "  %s%sStack trace:%s\n", color.Bold, color.Blue, color.Reset)
		for _, frame := range e.stack {
			f, ok := frame.(map[string]any)
			if !ok {
				continue
			}
			file, _ := f["file"].(string)
			function, _ := f["function"].(string)
			line, _ := f["line"].(float64)
			fmt.Fprintf(&b, "    %s (%s:%d)\n", function, strings.Replace(file, w.wd, ".", 1), int(line))
		}
	}

	w.lastMultiline = multiline

	_, err := io.WriteString(w.out, b.String())
	return len(p), err
}

// Deferred in goroutines that must not take the process down.
func LogPanics(logger *zerolog.Logger) {
	if r := recover(); r != nil {
		LogPanicValue(logger, r, "recovered from panic")
	}
}

func LogPanicValue(logger *zerolog.Logger, val any, msg string) {
	if logger == nil {
		logger = GlobalLogger()
	}

	ev := logger.Error().Stack()
	err, isErr := val.(error)
	if isErr {
		ev = ev.Err(err)
	} else {
		ev = ev.Interface("recovered", val)
	}
	var asOops *oops.Error
	if !isErr || !errors.As(err, &asOops) {
		ev = ev.Interface(zerolog.ErrorStackFieldName, oops.Trace())
	}
	ev.Msg(msg)
}
