package sudo

import (
	"errors"
	"sync"
)

var ErrNoSecret = errors.New("no elevation secret available")

// Secret holds an elevation password only for as long as it takes to hand it
// to a child. It is never logged or serialised; String and GoString redact.
type Secret struct {
	mu   sync.Mutex
	pass []byte
}

// NewSecret copies pass into a new holder. The caller should wipe its own copy.
func NewSecret(pass []byte) *Secret {
	s := &Secret{}
	s.Set(pass)
	return s
}

// Set replaces the held secret, wiping the previous one.
func (s *Secret) Set(pass []byte) {
	s.mu.Lock()
	s.wipeLocked()
	if len(pass) > 0 {
		s.pass = append(make([]byte, 0, len(pass)), pass...)
	}
	s.mu.Unlock()
}

// Empty reports whether the holder has nothing to give.
func (s *Secret) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pass) == 0
}

// Wipe overwrites the secret with zeroes and releases it.
func (s *Secret) Wipe() {
	s.mu.Lock()
	s.wipeLocked()
	s.mu.Unlock()
}

func (s *Secret) wipeLocked() {
	zero(s.pass)
	s.pass = nil
}

// Consume hands the secret to fn and wipes it afterwards on every path,
// including when fn fails or panics.
func (s *Secret) Consume(fn func(pass []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.wipeLocked()
	if len(s.pass) == 0 {
		return ErrNoSecret
	}
	return fn(s.pass)
}

// Use hands the secret to fn and keeps it. Only the restart path uses this,
// the following start consumes it.
func (s *Secret) Use(fn func(pass []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pass) == 0 {
		return ErrNoSecret
	}
	return fn(s.pass)
}

func (s *Secret) String() string   { return "[redacted]" }
func (s *Secret) GoString() string { return "[redacted]" }

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// withNewline returns pass followed by '\n' in a fresh buffer that the caller
// must zero once written.
func withNewline(pass []byte) []byte {
	buf := make([]byte, 0, len(pass)+1)
	buf = append(buf, pass...)
	return append(buf, '\n')
}
