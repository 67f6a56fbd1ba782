// Package stream turns a newline-delimited export body into a lazy sequence
// of decoded records.
package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"

	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsync/internal/domain"
	"github.com/kailas-cloud/catalogsync/internal/domain/record"
)

// DefaultMaxLineBytes bounds a single export line.
const DefaultMaxLineBytes = 32 << 20

const readBufferSize = 64 << 10

// Options configures a Reader.
type Options struct {
	MaxLineBytes int
	Logger       *zap.Logger
}

// Reader decodes one export stream. It is single-use: All yields the
// records once and later calls yield nothing.
type Reader struct {
	br     *bufio.Reader
	max    int
	logger *zap.Logger
	buf    []byte
	line   int
	used   bool
	err    error
}

// NewReader wraps r.
func NewReader(r io.Reader, opts Options) *Reader {
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Reader{
		br:     bufio.NewReaderSize(r, readBufferSize),
		max:    opts.MaxLineBytes,
		logger: opts.Logger,
	}
}

// All yields one Result per non-blank line. Undecodable or oversized lines
// are yielded with a malformed RecordError and never stop the sequence.
// A failing underlying reader ends the sequence; see Err.
func (r *Reader) All() iter.Seq[record.Result] {
	return func(yield func(record.Result) bool) {
		if r.used {
			return
		}
		r.used = true

		for {
			line, tooLong, err := r.readLine()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					r.err = fmt.Errorf("read export stream at line %d: %w", r.line+1, err)
				}
				return
			}
			r.line++

			if tooLong {
				cause := fmt.Errorf("%w: line exceeds %d bytes", domain.ErrMalformedRecord, r.max)
				if !yield(r.malformed(cause)) {
					return
				}
				continue
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}

			rec, err := record.Decode(line)
			if err != nil {
				if !yield(r.malformed(err)) {
					return
				}
				continue
			}
			if !yield(record.Result{Line: r.line, Record: rec}) {
				return
			}
		}
	}
}

// Err returns the fatal read error that ended the sequence, if any.
func (r *Reader) Err() error { return r.err }

// Lines returns how many lines have been consumed so far.
func (r *Reader) Lines() int { return r.line }

func (r *Reader) malformed(cause error) record.Result {
	re := &domain.RecordError{Category: domain.CategoryMalformed, Line: r.line, Err: cause}
	r.logger.Warn("Skipping malformed export line", zap.Int("line", r.line), zap.Error(cause))
	return record.Result{Line: r.line, Err: re}
}

// readLine returns the next line without its terminator. Oversized lines are
// drained and reported with tooLong set.
func (r *Reader) readLine() (line []byte, tooLong bool, err error) {
	r.buf = r.buf[:0]
	for {
		frag, isPrefix, err := r.br.ReadLine()
		if err != nil {
			return nil, false, err
		}
		if !tooLong {
			if len(r.buf)+len(frag) > r.max {
				tooLong = true
				r.buf = r.buf[:0]
			} else {
				r.buf = append(r.buf, frag...)
			}
		}
		if !isPrefix {
			return r.buf, tooLong, nil
		}
	}
}
