package sse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxLineSize bounds a single SSE line. Chat completion chunks are small; a
// longer line means the upstream is not speaking SSE.
const MaxLineSize = 1 << 20

// ErrLineTooLong is returned by Next when a line exceeds MaxLineSize.
var ErrLineTooLong = errors.New("sse: line too long")

// TeeReader parses events from an upstream body. Every byte read is written
// to dest unchanged, line terminators included, before the line is parsed.
type TeeReader struct {
	src  *bufio.Reader
	dest io.Writer

	cur     Event
	hasData bool // any field seen for cur
	sawData bool // a data line seen for cur
	done    bool
}

// NewReader parses src without forwarding.
func NewReader(src io.Reader) *TeeReader {
	return NewTeeReader(src, io.Discard)
}

// NewTeeReader parses src and copies it to dest, typically the write half of
// the pipe feeding the downstream response.
func NewTeeReader(src io.Reader, dest io.Writer) *TeeReader {
	return &TeeReader{
		src:  bufio.NewReaderSize(src, 64*1024),
		dest: dest,
	}
}

// Next blocks until an event is complete and returns it. An event ends at a
// blank line, or at end of input when fields are pending. Next returns
// nil, nil once the source is exhausted.
func (r *TeeReader) Next() (*Event, error) {
	for !r.done {
		line, err := r.readLine()
		if len(line) > 0 {
			if _, werr := r.dest.Write(line); werr != nil {
				return nil, fmt.Errorf("forwarding stream: %w", werr)
			}
		}
		switch {
		case errors.Is(err, io.EOF):
			r.done = true
		case err != nil:
			return nil, err
		}

		field := trimEOL(line)
		if len(field) == 0 {
			if len(line) > 0 && r.hasData {
				return r.take(), nil
			}
			continue
		}
		if field[0] == ':' {
			continue
		}
		r.parseField(string(field))
	}

	if r.hasData {
		return r.take(), nil
	}
	return nil, nil
}

// readLine returns the next line with its terminator. The final line may
// lack one, in which case err is io.EOF.
func (r *TeeReader) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.src.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxLineSize {
			return nil, ErrLineTooLong
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return line, err
		}
	}
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// parseField applies one "name: value" line to the pending event. A single
// space after the colon is not part of the value; a line without a colon is
// a field with an empty value.
func (r *TeeReader) parseField(line string) {
	name, value, _ := cutField(line)

	switch name {
	case "data":
		if r.sawData {
			r.cur.Data += "\n"
		}
		r.cur.Data += value
		r.sawData = true
		r.hasData = true
	case "event":
		r.cur.Type = value
		r.hasData = true
	case "id":
		r.cur.ID = value
		r.hasData = true
	case "retry":
		r.cur.Retry = value
	}
}

func cutField(line string) (string, string, bool) {
	i := strings.IndexByte(line, ':')
	if i < 0 {
		return line, "", false
	}
	value := line[i+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return line[:i], value, true
}

func (r *TeeReader) take() *Event {
	ev := r.cur
	r.cur = Event{}
	r.hasData = false
	r.sawData = false
	return &ev
}
