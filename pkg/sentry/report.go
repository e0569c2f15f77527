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
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// IssueType is the severity of a report.
type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

func (t IssueType) level() sentry.Level {
	switch t {
	case IssueTypeFatal:
		return sentry.LevelFatal
	case IssueTypeError:
		return sentry.LevelError
	default:
		return sentry.LevelWarning
	}
}

// ReportIssue logs err and sends it to Sentry. Fatal issues panic after the
// report was flushed.
func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

// ReportIssuef formats an error and reports it.
func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...any) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports err with tags attached. Keys named in
// FingerprintKeys also group the issue.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, tags map[string]string) {
	report(err, issueType, log, tags, nil)
}

// ReportConfigError reports a model declaration that is inconsistent with
// the engine, e.g. a field whose value cannot be converted to the declared type.
func ReportConfigError(log *zap.SugaredLogger, store, entityType, field, operation string, err error) {
	ReportIssueWithContext(err, IssueTypeError, log, map[string]string{
		"store":     store,
		"type":      entityType,
		"field":     field,
		"operation": operation,
	})
}

// ReportCallbackPanic reports a panic recovered from an observer callback.
// stack is the output of runtime/debug.Stack taken in the recovering goroutine.
func ReportCallbackPanic(log *zap.SugaredLogger, store, subscription string, recovered any, stack []byte) {
	err := fmt.Errorf("observer callback panicked: %v", recovered)

	extra := map[string]any{"stack": string(stack)}
	if thread, ok := panicThread(stack); ok {
		extra["frames"] = len(thread.Stacktrace.Frames)
	}

	report(err, IssueTypeError, log, map[string]string{
		"store":        store,
		"subscription": subscription,
		"operation":    "deliver",
	}, extra)
}

func report(err error, issueType IssueType, log *zap.SugaredLogger, tags map[string]string, extra map[string]any) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch issueType {
	case IssueTypeFatal:
		log.Errorw("fatal error, terminating", "error", err)
		send(newEvent(issueType.level(), err, tags, extra))
		sentry.Flush(5 * time.Second)
		log.Panic(err)
	case IssueTypeError:
		log.Errorw(err.Error(), flatten(tags)...)

		if shouldSend(errorTitle(err)) {
			send(newEvent(issueType.level(), err, tags, extra))
		}
	default:
		log.Warnw(err.Error(), flatten(tags)...)

		if shouldSend(errorTitle(err)) {
			send(newEvent(issueType.level(), err, tags, extra))
		}
	}
}

func flatten(tags map[string]string) []any {
	out := make([]any, 0, 2*len(tags))
	for k, v := range tags {
		out = append(out, k, v)
	}

	return out
}
