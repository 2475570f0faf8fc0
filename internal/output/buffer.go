// Package output implements the bounded, line addressed store used for the
// stdout and stderr of a task.
//
// A Buffer keeps the last N complete lines together with their absolute line
// numbers, so a reader can keep paging with stable numbers while old lines
// are evicted, plus a separate window of the last M characters for cheap
// "tail" queries. Characters are Unicode code points; a UTF-8 sequence split
// between two writes is held back until it is complete.
package output

import (
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/CZERTAINLY/taskrunner/internal/model"
)

// Buffer is safe for concurrent use. It implements io.Writer.
type Buffer struct {
	mx         sync.Mutex
	maxLines   int
	maxChars   int
	lines      []string
	firstLine  int // absolute number of lines[0]
	totalLines int
	remainder  string // unterminated tail of the last write
	pending    []byte // incomplete UTF-8 sequence
	tail       string
}

func New(maxLines, maxChars int) *Buffer {
	return &Buffer{
		maxLines:  max(maxLines, 1),
		maxChars:  max(maxChars, 1),
		firstLine: 1,
	}
}

// Write appends a chunk of output. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.append(b.decode(p))
	return len(p), nil
}

// FlushRemainder turns a pending partial line into a final line. It is called
// once the stream has ended, so output without a trailing newline is kept.
func (b *Buffer) FlushRemainder() {
	b.mx.Lock()
	defer b.mx.Unlock()
	if len(b.pending) > 0 {
		s := strings.ToValidUTF8(string(b.pending), string(utf8.RuneError))
		b.pending = nil
		b.tail = lastRunes(b.tail+s, b.maxChars)
		b.remainder += s
	}
	if b.remainder == "" {
		return
	}
	b.push(strings.TrimSuffix(b.remainder, "\r"))
	b.remainder = ""
	b.evict()
}

// Tail returns up to n trailing characters of the output, partial line included.
func (b *Buffer) Tail(n int) string {
	b.mx.Lock()
	defer b.mx.Unlock()
	return lastRunes(b.tail, n)
}

// CombinedTail concatenates the tails of bufs and returns the last n
// characters of the result.
func CombinedTail(n int, bufs ...*Buffer) string {
	var sb strings.Builder
	for _, b := range bufs {
		sb.WriteString(b.Tail(n))
	}
	return lastRunes(sb.String(), n)
}

// FirstLine returns the absolute number of the oldest buffered line.
func (b *Buffer) FirstLine() int {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.firstLine
}

// TotalLines returns how many lines were completed since the buffer was created.
func (b *Buffer) TotalLines() int {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.totalLines
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int {
	b.mx.Lock()
	defer b.mx.Unlock()
	return len(b.lines)
}

// Range returns up to count lines starting at the absolute line startLine.
// A start older than the oldest buffered line is moved forward and the page
// is marked truncated. Values below 1 are treated as 1.
func (b *Buffer) Range(startLine, count int) model.LogPage {
	startLine, count = max(startLine, 1), max(count, 1)
	b.mx.Lock()
	defer b.mx.Unlock()
	if len(b.lines) == 0 {
		return b.emptyPage(1)
	}

	start := max(startLine, b.firstLine)
	truncated := start != startLine || b.firstLine > 1
	page := (start-1)/count + 1
	if start > b.totalLines {
		return model.LogPage{PageNumber: page, LastPage: true, Logs: []string{}, Truncated: truncated}
	}

	from := start - b.firstLine
	to := min(from+count, len(b.lines))
	end := b.firstLine + to - 1
	return model.LogPage{
		Start:      start,
		End:        end,
		PageNumber: page,
		LastPage:   end >= b.totalLines,
		Logs:       slices.Clone(b.lines[from:to]),
		Truncated:  truncated,
	}
}

// Page returns the pageNumber-th page of length lines counted from the oldest
// buffered line, so page numbers shift when lines are evicted. Page numbers
// and lengths below 1 are treated as 1.
func (b *Buffer) Page(pageNumber, length int) model.LogPage {
	pageNumber, length = max(pageNumber, 1), max(length, 1)
	b.mx.Lock()
	defer b.mx.Unlock()
	if len(b.lines) == 0 {
		return b.emptyPage(pageNumber)
	}

	truncated := b.firstLine > 1
	if pages := 1 + (len(b.lines)-1)/length; pageNumber > pages {
		return model.LogPage{PageNumber: pageNumber, LastPage: true, Logs: []string{}, Truncated: truncated}
	}
	from := (pageNumber - 1) * length
	to := min(from+length, len(b.lines))
	return model.LogPage{
		Start:      b.firstLine + from,
		End:        b.firstLine + to - 1,
		PageNumber: pageNumber,
		LastPage:   to >= len(b.lines),
		Logs:       slices.Clone(b.lines[from:to]),
		Truncated:  truncated,
	}
}

// emptyPage distinguishes a stream that never produced a line from one whose
// lines were all evicted.
func (b *Buffer) emptyPage(pageNumber int) model.LogPage {
	return model.LogPage{
		PageNumber: pageNumber,
		LastPage:   true,
		Logs:       []string{},
		Truncated:  b.totalLines > 0,
	}
}

func (b *Buffer) append(chunk string) {
	if chunk == "" {
		return
	}
	b.tail = lastRunes(b.tail+chunk, b.maxChars)

	parts := strings.Split(b.remainder+chunk, "\n")
	b.remainder = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		b.push(strings.TrimSuffix(line, "\r"))
	}
	b.evict()
}

func (b *Buffer) push(line string) {
	b.lines = append(b.lines, line)
	b.totalLines++
}

// evict is the only place where lines are dropped; lines stays a suffix of
// everything seen and firstLine+len(lines)-1 == totalLines holds.
func (b *Buffer) evict() {
	overshoot := len(b.lines) - b.maxLines
	if overshoot <= 0 {
		return
	}
	clear(b.lines[:overshoot])
	b.lines = b.lines[overshoot:]
	b.firstLine += overshoot
}

func (b *Buffer) decode(p []byte) string {
	if len(b.pending) > 0 {
		p = append(b.pending, p...)
		b.pending = nil
	}
	if cut := incompleteSuffix(p); cut > 0 {
		b.pending = slices.Clone(p[len(p)-cut:])
		p = p[:len(p)-cut]
	}
	return strings.ToValidUTF8(string(p), string(utf8.RuneError))
}

// incompleteSuffix returns the length of a trailing UTF-8 sequence which has
// started but is not complete yet.
func incompleteSuffix(p []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(p); i++ {
		c := p[len(p)-i]
		if c < utf8.RuneSelf {
			return 0
		}
		if utf8.RuneStart(c) {
			if utf8.FullRune(p[len(p)-i:]) {
				return 0
			}
			return i
		}
	}
	return 0
}

func lastRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	i := len(s)
	for count := 0; count < n && i > 0; count++ {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return s[i:]
}
