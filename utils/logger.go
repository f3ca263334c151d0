// utils/logger.go
package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// Logger provides leveled, printf-style logging for every pipeline stage.
// Debug output is dropped unless the logger is verbose.
type Logger struct {
	info    *log.Logger
	warn    *log.Logger
	err     *log.Logger
	debug   *log.Logger
	verbose bool
	// colour is set per stream: only terminals get ANSI codes.
	outColour, errColour bool
}

// NewLogger creates a new Logger writing to stdout/stderr.
func NewLogger(verbose bool) *Logger {
	return NewLoggerTo(os.Stdout, os.Stderr, verbose)
}

// NewLoggerTo creates a Logger writing INFO, WARN and DEBUG lines to out and ERROR lines to errOut.
func NewLoggerTo(out, errOut io.Writer, verbose bool) *Logger {
	flags := 0
	return &Logger{
		info:      log.New(out, "", flags),
		warn:      log.New(out, "", flags),
		err:       log.New(errOut, "", flags),
		debug:     log.New(out, "", flags),
		verbose:   verbose,
		outColour: isTerminal(out),
		errColour: isTerminal(errOut),
	}
}

// isTerminal reports whether w is a terminal. NO_COLOR disables colour everywhere.
func isTerminal(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func level(name, code string, colour bool) string {
	if !colour {
		return fmt.Sprintf("%-5s", name)
	}
	return fmt.Sprintf("\033[%sm%s\033[0m%s", code, name, strings.Repeat(" ", 5-len(name)))
}

// Discard returns a Logger that writes nowhere. Used by tests.
func Discard() *Logger {
	return NewLoggerTo(io.Discard, io.Discard, false)
}

func (l *Logger) timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func (l *Logger) Info(format string, args ...any) {
	l.info.Printf(fmt.Sprintf("[%s] %s %s\n", l.timestamp(), level("INFO", "32", l.outColour), format), args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.warn.Printf(fmt.Sprintf("[%s] %s %s\n", l.timestamp(), level("WARN", "33", l.outColour), format), args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.err.Printf(fmt.Sprintf("[%s] %s %s\n", l.timestamp(), level("ERROR", "31", l.errColour), format), args...)
}

func (l *Logger) Debug(format string, args ...any) {
	if !l.verbose {
		return
	}
	l.debug.Printf(fmt.Sprintf("[%s] %s %s\n", l.timestamp(), level("DEBUG", "36", l.outColour), format), args...)
}
