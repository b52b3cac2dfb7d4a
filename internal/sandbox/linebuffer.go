package sandbox

import (
	"fmt"
	"strings"
	"sync"
)

// LineBuffer is an io.Writer that retains only the most recent maxLines
// lines, dropping the oldest first. It caps the memory cost of runaway
// output from user code. Safe for concurrent writers.
type LineBuffer struct {
	mu       sync.Mutex
	lines    []string
	partial  strings.Builder
	maxLines int
	dropped  int64
}

// NewLineBuffer creates a buffer retaining at most maxLines lines.
func NewLineBuffer(maxLines int) *LineBuffer {
	if maxLines < 1 {
		maxLines = 1000
	}
	return &LineBuffer{maxLines: maxLines}
}

func (b *LineBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range p {
		if c == '\n' {
			b.appendLine(b.partial.String())
			b.partial.Reset()
			continue
		}
		b.partial.WriteByte(c)
	}
	return len(p), nil
}

func (b *LineBuffer) appendLine(line string) {
	if len(b.lines) == b.maxLines {
		copy(b.lines, b.lines[1:])
		b.lines[len(b.lines)-1] = line
		b.dropped++
		return
	}
	b.lines = append(b.lines, line)
}

// String returns the retained output. A trailing unterminated line is
// included; a truncation notice is prepended when lines were dropped.
func (b *LineBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb strings.Builder
	if b.dropped > 0 {
		fmt.Fprintf(&sb, "... [%d earlier lines truncated]\n", b.dropped)
	}
	for _, line := range b.lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if b.partial.Len() > 0 {
		sb.WriteString(b.partial.String())
	}
	return sb.String()
}

// Dropped reports how many lines were discarded.
func (b *LineBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
