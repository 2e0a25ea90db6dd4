package llm

import (
	"bufio"
	"io"
)

// maxSSELine bounds a single SSE line; tool-heavy frames can exceed the
// bufio default.
const maxSSELine = 1 << 20

// serverSentEventScanner reads Server-Sent Events from a stream.
type serverSentEventScanner struct {
	scanner *bufio.Scanner
}

// newServerSentEventScanner creates a new SSE scanner.
func newServerSentEventScanner(r io.Reader) *serverSentEventScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	return &serverSentEventScanner{scanner: s}
}

// Scan reads the next line of data.
func (s *serverSentEventScanner) Scan() bool {
	return s.scanner.Scan()
}

// Text returns the last scanned line.
func (s *serverSentEventScanner) Text() string {
	return s.scanner.Text()
}

// Err returns the first non-EOF read error.
func (s *serverSentEventScanner) Err() error {
	return s.scanner.Err()
}
