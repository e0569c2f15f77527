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

package logger

import (
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// PrettyEncoder renders entries as
//
//	[INFO] [store] message - key=value, other=value
//
// Context fields added with With are kept in the embedded map encoder.
type PrettyEncoder struct {
	*zapcore.MapObjectEncoder
	cfg  zapcore.EncoderConfig
	pool buffer.Pool
}

// NewPrettyEncoder creates a PrettyEncoder.
func NewPrettyEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &PrettyEncoder{
		MapObjectEncoder: zapcore.NewMapObjectEncoder(),
		cfg:              cfg,
		pool:             buffer.NewPool(),
	}
}

// Clone implements zapcore.Encoder.
func (e *PrettyEncoder) Clone() zapcore.Encoder {
	return &PrettyEncoder{
		MapObjectEncoder: e.copyFields(),
		cfg:              e.cfg,
		pool:             e.pool,
	}
}

func (e *PrettyEncoder) copyFields() *zapcore.MapObjectEncoder {
	out := zapcore.NewMapObjectEncoder()
	for k, v := range e.Fields {
		out.Fields[k] = v
	}

	return out
}

// EncodeEntry implements zapcore.Encoder.
func (e *PrettyEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	all := e.copyFields()
	for _, f := range fields {
		f.AddTo(all)
	}

	line := e.pool.Get()

	line.AppendByte('[')
	line.AppendString(entry.Level.CapitalString())
	line.AppendString("] ")

	if entry.LoggerName != "" {
		line.AppendByte('[')
		line.AppendString(entry.LoggerName)
		line.AppendString("] ")
	}

	if entry.Caller.Defined {
		line.AppendByte('[')
		line.AppendString(entry.Caller.TrimmedPath())
		line.AppendString("] ")
	}

	line.AppendString(entry.Message)

	if len(all.Fields) > 0 {
		keys := make([]string, 0, len(all.Fields))
		for k := range all.Fields {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		line.AppendString(" - ")

		for i, k := range keys {
			if i > 0 {
				line.AppendString(", ")
			}

			line.AppendString(k)
			line.AppendByte('=')
			line.AppendString(render(all.Fields[k]))
		}
	}

	if entry.Stack != "" && e.cfg.StacktraceKey != "" {
		line.AppendByte('\n')
		line.AppendString(entry.Stack)
	}

	if e.cfg.LineEnding != "" {
		line.AppendString(e.cfg.LineEnding)
	} else {
		line.AppendString(zapcore.DefaultLineEnding)
	}

	return line, nil
}

func render(v any) string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return strconv.Quote(t)
		}

		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
