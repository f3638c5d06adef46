/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package eventlog reads recorded callback event streams.
//
// A stream is JSON Lines: one callbacks.Event per line in the form decoded by
// callbacks.Event.UnmarshalJSON. Blank lines are skipped. Recordings cut off
// mid-write can be read with WithRepair, which mends syntactically broken
// lines before decoding them.
package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/chainguard-dev/clog"
	"github.com/kaptinlin/jsonrepair"
	"github.com/manfredcalvo/agentmlflow/agents/callbacks"
)

// maxLineSize bounds a single encoded event.
const maxLineSize = 16 << 20

// DecodeError reports a line that is not a valid event.
type DecodeError struct {
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Reader decodes events from a JSON Lines stream.
type Reader struct {
	sc       *bufio.Scanner
	line     int
	repair   bool
	repaired int
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithRepair mends lines that are not valid JSON, such as a final line
// truncated by a crash, before giving up on them. Lines that are valid JSON
// but not a valid event are never rewritten.
func WithRepair() ReaderOption {
	return func(r *Reader) {
		r.repair = true
	}
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	er := &Reader{sc: sc}
	for _, opt := range opts {
		opt(er)
	}
	return er
}

// Repaired returns how many lines were decoded only after repair.
func (r *Reader) Repaired() int {
	return r.repaired
}

// Next returns the next event, or io.EOF when the stream is exhausted.
// A line that does not decode yields a *DecodeError; reading may continue
// past it.
func (r *Reader) Next() (callbacks.Event, error) {
	for r.sc.Scan() {
		r.line++
		b := bytes.TrimSpace(r.sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var ev callbacks.Event
		err := json.Unmarshal(b, &ev)
		if err != nil && r.repair && syntaxError(err) {
			if ev, err = r.mend(b); err == nil {
				r.repaired++
			}
		}
		if err != nil {
			return callbacks.Event{}, &DecodeError{Line: r.line, Err: err}
		}
		return ev, nil
	}
	if err := r.sc.Err(); err != nil {
		return callbacks.Event{}, fmt.Errorf("reading events after line %d: %w", r.line, err)
	}
	return callbacks.Event{}, io.EOF
}

func (r *Reader) mend(b []byte) (callbacks.Event, error) {
	fixed, err := jsonrepair.JSONRepair(string(b))
	if err != nil {
		return callbacks.Event{}, fmt.Errorf("repairing line: %w", err)
	}
	var ev callbacks.Event
	if err := json.Unmarshal([]byte(fixed), &ev); err != nil {
		return callbacks.Event{}, err
	}
	return ev, nil
}

func syntaxError(err error) bool {
	var se *json.SyntaxError
	return errors.As(err, &se) || errors.Is(err, io.ErrUnexpectedEOF)
}

// ReadAll decodes every event in r, failing on the first malformed line.
func ReadAll(r io.Reader) ([]callbacks.Event, error) {
	er := NewReader(r)
	var out []callbacks.Event
	for {
		ev, err := er.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
}

// EventHandler consumes events.
type EventHandler interface {
	Handle(ctx context.Context, ev callbacks.Event)
}

// Replay feeds every event in r to h in order and returns how many were
// handled. Malformed lines are logged and skipped; Replay stops at the first
// read error or when ctx is done.
func Replay(ctx context.Context, r io.Reader, h EventHandler, opts ...ReaderOption) (int, error) {
	log := clog.FromContext(ctx)
	er := NewReader(r, opts...)
	defer func() {
		if er.Repaired() > 0 {
			log.With("repaired", er.Repaired()).Warn("Repaired malformed event lines")
		}
	}()

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		ev, err := er.Next()
		var de *DecodeError
		switch {
		case errors.Is(err, io.EOF):
			return n, nil
		case errors.As(err, &de):
			log.With("line", de.Line).Warn("Skipping malformed event", "error", de.Err)
			continue
		case err != nil:
			return n, err
		}

		h.Handle(ctx, ev)
		n++
	}
}
