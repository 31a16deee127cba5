package main

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

// maxVerbosity is the highest V-level any package logs at
const maxVerbosity = 9

// levelSink gates a funcr sink on a verbosity that can change at runtime
type levelSink struct {
	logr.LogSink
	level *atomic.Int32
}

func (s *levelSink) Enabled(level int) bool {
	return level <= int(s.level.Load()) && s.LogSink.Enabled(level)
}

func (s *levelSink) WithValues(kv ...interface{}) logr.LogSink {
	return &levelSink{LogSink: s.LogSink.WithValues(kv...), level: s.level}
}

func (s *levelSink) WithName(name string) logr.LogSink {
	return &levelSink{LogSink: s.LogSink.WithName(name), level: s.level}
}

// newLogger returns a funcr logger writing to w and the setter of its verbosity
func newLogger(w io.Writer, verbosity int) (logr.Logger, func(int)) {
	level := &atomic.Int32{}
	level.Store(int32(verbosity))

	base := funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(w, "%s: %s\n", prefix, args)
		} else {
			fmt.Fprintln(w, args)
		}
	}, funcr.Options{Verbosity: maxVerbosity, LogTimestamp: true})

	logger := logr.New(&levelSink{LogSink: base.GetSink(), level: level})
	return logger, func(v int) { level.Store(int32(v)) }
}
