// Package vlog is a small leveled logger for the viaduct binaries and
// library: a process calls Init once (after flag.Parse) to wire up
// stderr and/or a log file at a configured severity threshold, and
// library code calls the package-level Debug/Info/Warn/Error/Fatal
// functions from then on. Unlike a general-purpose logging facility, it
// has no named-logger registry, no substring filters, and no ring
// buffer: viaduct only ever needs "print this at this severity to
// whichever sinks Init configured," and the handful of call sites in
// Rx.Run, Responder, the handshake, and the two example binaries never
// ask for more than that.
package vlog

import (
	"flag"
	"fmt"
	"io"
	golog "log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

var (
	LevelFlag = flag.String("log.level", "warn", "set log level: [debug, info, warn, error, fatal]")
	Verbose   = flag.Bool("log.v", true, "log on stderr")
	File      = flag.String("log.file", "", "also log to file")
)

// sink is one configured output: everything at severity >= level is
// written to out, colorized if color is set.
type sink struct {
	out   *golog.Logger
	level Level
	color bool
}

var (
	mu    sync.Mutex
	sinks []*sink
)

// addSink registers a new output. Init is the only ordinary caller;
// tests use it directly to capture output in a buffer.
func addSink(w io.Writer, level Level, color bool) {
	mu.Lock()
	defer mu.Unlock()
	sinks = append(sinks, &sink{out: golog.New(w, "", golog.LstdFlags), level: level, color: color})
}

// reset drops every configured sink. Exercised by tests so one test's
// sinks don't bleed into the next; Init calls it so a second Init (e.g.
// after re-parsing flags) doesn't keep stacking sinks.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	sinks = nil
}

// Init wires up stderr and/or file logging according to the package's
// registered flags. Call after flag.Parse.
func Init() {
	level, err := ParseLevel(*LevelFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	reset()

	if *Verbose {
		addSink(os.Stderr, level, runtime.GOOS != "windows")
	}

	if *File != "" {
		if err := os.MkdirAll(filepath.Dir(*File), 0755); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logfile, err := os.OpenFile(*File, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0660)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		addSink(logfile, level, false)
	}
}

// write formats one log line and hands it to every sink whose threshold
// it clears. skip is the number of stack frames between write and the
// application call site, used to report that call site's file:line.
func write(level Level, skip int, format string, arg ...interface{}) {
	mu.Lock()
	active := make([]*sink, 0, len(sinks))
	for _, s := range sinks {
		if s.level <= level {
			active = append(active, s)
		}
	}
	mu.Unlock()

	if len(active) == 0 {
		return
	}

	_, file, line, _ := runtime.Caller(skip)
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}

	prefix := strings.ToUpper(level.String()) + " " + file + ":" + strconv.Itoa(line) + ": "
	body := fmt.Sprintf(format, arg...)

	for _, s := range active {
		msg := prefix + body
		if s.color {
			msg = colorFor(level) + msg + Reset
		}
		s.out.Println(msg)
	}
}

func Debug(format string, arg ...interface{}) { write(DEBUG, 2, format, arg...) }
func Info(format string, arg ...interface{})  { write(INFO, 2, format, arg...) }
func Warn(format string, arg ...interface{})  { write(WARN, 2, format, arg...) }
func Error(format string, arg ...interface{}) { write(ERROR, 2, format, arg...) }

func Fatal(format string, arg ...interface{}) {
	write(FATAL, 2, format, arg...)
	os.Exit(1)
}
