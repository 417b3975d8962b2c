package process

import (
	"strings"
	"sync"
)

// MaxDisplayBytes is the ceiling past which the display buffer is reset.
const MaxDisplayBytes = 500_000

// Output holds the two text buffers fed by a worker's reader goroutine.
// The parse buffer is drained once per watchdog cycle; the display buffer is
// kept for presentation and reset once it grows past its ceiling.
type Output struct {
	mu      sync.Mutex
	parse   strings.Builder
	display strings.Builder
}

func NewOutput() *Output { return &Output{} }

// WriteLine appends one line to both buffers.
func (o *Output) WriteLine(line string) {
	o.mu.Lock()
	o.parse.WriteString(line)
	o.parse.WriteByte('\n')
	o.display.WriteString(line)
	o.display.WriteByte('\n')
	o.mu.Unlock()
}

// AppendDisplay writes text to the display buffer only.
func (o *Output) AppendDisplay(text string) {
	o.mu.Lock()
	o.display.WriteString(text)
	o.mu.Unlock()
}

// TakeParse returns the parse buffer content and clears it.
func (o *Output) TakeParse() string {
	o.mu.Lock()
	s := o.parse.String()
	o.parse.Reset()
	o.mu.Unlock()
	return s
}

// Display returns a copy of the display buffer.
func (o *Output) Display() string {
	o.mu.Lock()
	s := o.display.String()
	o.mu.Unlock()
	return s
}

// ClearDisplay empties the display buffer.
func (o *Output) ClearDisplay() {
	o.mu.Lock()
	o.display.Reset()
	o.mu.Unlock()
}

// DisplayLen reports the display buffer size in bytes.
func (o *Output) DisplayLen() int {
	o.mu.Lock()
	n := o.display.Len()
	o.mu.Unlock()
	return n
}

// ResetDisplayIfOver clears the display buffer when it exceeds max bytes and
// writes notice as its first line. It reports whether a reset happened.
func (o *Output) ResetDisplayIfOver(max int, notice string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.display.Len() <= max {
		return false
	}
	o.display.Reset()
	if notice != "" {
		o.display.WriteString(notice)
		if !strings.HasSuffix(notice, "\n") {
			o.display.WriteByte('\n')
		}
	}
	return true
}
