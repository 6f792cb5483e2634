package scpi

import (
	"bufio"
	"errors"
	"io"
)

// DefaultMaxLineLength bounds a single command line in bytes.
const DefaultMaxLineLength = 4096

// ErrLineTooLong is returned when a line exceeds the reader's limit.
var ErrLineTooLong = errors.New("line too long")

// LineReader reads newline- or semicolon-terminated commands.
type LineReader struct {
	r      *bufio.Reader
	maxLen int
}

// NewLineReader wraps r. A maxLen of zero or less selects DefaultMaxLineLength.
func NewLineReader(r io.Reader, maxLen int) *LineReader {
	if maxLen <= 0 {
		maxLen = DefaultMaxLineLength
	}
	return &LineReader{
		r:      bufio.NewReader(r),
		maxLen: maxLen,
	}
}

// ReadLine returns the next command with its terminator removed. An
// unterminated fragment at end of stream is dropped and io.EOF returned.
func (lr *LineReader) ReadLine() (string, error) {
	buf := make([]byte, 0, 64)
	for {
		b, err := lr.r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' || b == ';' {
			return string(buf), nil
		}
		if len(buf) >= lr.maxLen {
			return "", ErrLineTooLong
		}
		buf = append(buf, b)
	}
}

// WriteReply writes a single newline-terminated reply line.
func WriteReply(w io.Writer, reply string) error {
	_, err := io.WriteString(w, reply+"\n")
	return err
}
