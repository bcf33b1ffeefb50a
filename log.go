// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package offlinecache

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
)

// logSource returns the source position attribute for log messages,
// according to the current configuration.
func (w *Worker) logSource(args []any) []any {
	if !w.debugLog {
		return args
	}
	if _, file, line, ok := runtime.Caller(2); ok {
		return append(args, "src", fmt.Sprintf("%s:%d", filepath.Base(file), line))
	}
	return append(args, "src", "(unknown)")
}

// logPrintf outputs an info log message according to the current
// configuration.
func (w *Worker) logPrintf(msg string, args ...any) {
	if w.log == nil {
		return
	}
	w.log.Log(context.Background(), slog.LevelInfo, msg, w.logSource(args)...)
}

// logWarnf outputs a warning log message according to the current
// configuration.
func (w *Worker) logWarnf(msg string, args ...any) {
	if w.log == nil {
		return
	}
	w.log.Log(context.Background(), slog.LevelWarn, msg, w.logSource(args)...)
}

// logDebugf outputs a debug log message according to the current
// configuration.
func (w *Worker) logDebugf(msg string, args ...any) {
	if w.log == nil || !w.debugLog {
		return
	}
	w.log.Log(context.Background(), slog.LevelDebug, msg, w.logSource(args)...)
}
