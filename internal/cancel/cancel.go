// Package cancel provides the write-once cancellation flag shared between a
// download session and whoever may ask it to stop.
package cancel

import "sync"

// Token is set at most once; further Set calls are no-ops.
// The zero value is not usable, use New.
type Token struct {
	once sync.Once
	ch   chan struct{}
}

// New returns an unset token.
func New() *Token {
	return &Token{ch: make(chan struct{})}
}

// Set marks the token cancelled. It never blocks and reports whether this call set it.
func (t *Token) Set() bool {
	set := false

	t.once.Do(func() {
		close(t.ch)

		set = true
	})

	return set
}

// IsSet polls the flag without blocking.
func (t *Token) IsSet() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Done is closed once the token is set.
func (t *Token) Done() <-chan struct{} {
	return t.ch
}
