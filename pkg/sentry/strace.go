// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sentry

import (
	"bytes"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/DataDog/gostackparse"
	"github.com/getsentry/sentry-go"
)

// captureGoroutinesAsThreads returns every goroutine of the process as a
// Sentry thread together with the raw dump.
func captureGoroutinesAsThreads() ([]sentry.Thread, []byte) {
	stack := allStacks()

	return parseThreads(stack), stack
}

// panicThread parses a single-goroutine dump such as debug.Stack output.
func panicThread(stack []byte) (sentry.Thread, bool) {
	threads := parseThreads(stack)
	if len(threads) == 0 {
		return sentry.Thread{}, false
	}

	threads[0].Crashed = true
	threads[0].Current = true

	return threads[0], true
}

func parseThreads(stack []byte) []sentry.Thread {
	goroutines, errs := gostackparse.Parse(bytes.NewReader(stack))
	if len(goroutines) == 0 && len(errs) > 0 {
		return nil
	}

	threads := make([]sentry.Thread, 0, len(goroutines))
	for _, g := range goroutines {
		threads = append(threads, sentry.Thread{
			ID:         strconv.Itoa(g.ID),
			Name:       "goroutine " + strconv.Itoa(g.ID) + " [" + g.State + "]",
			Stacktrace: &sentry.Stacktrace{Frames: toFrames(g.Stack)},
		})
	}

	return threads
}

func allStacks() []byte {
	buf := make([]byte, 64*1024)

	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}

		buf = make([]byte, 2*len(buf))
	}
}

// toFrames converts innermost-first goroutine frames to Sentry's
// outermost-first order.
func toFrames(in []*gostackparse.Frame) []sentry.Frame {
	frames := make([]sentry.Frame, len(in))

	for i, f := range in {
		frames[len(in)-1-i] = sentry.Frame{
			Function: f.Func,
			Filename: filepath.Base(f.File),
			AbsPath:  f.File,
			Lineno:   f.Line,
		}
	}

	return frames
}
