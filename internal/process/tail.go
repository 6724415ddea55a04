package process

import (
	"bytes"
	"strings"
	"sync"
)

// tailBuffer keeps the last n complete lines written to it.
type tailBuffer struct {
	mu      sync.Mutex
	n       int
	lines   []string
	partial []byte
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.partial = append(t.partial, p...)

	for {
		i := bytes.IndexByte(t.partial, '\n')
		if i < 0 {
			break
		}

		t.push(strings.TrimRight(string(t.partial[:i]), "\r"))
		t.partial = t.partial[i+1:]
	}

	return len(p), nil
}

func (t *tailBuffer) push(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.lines
	if rest := strings.TrimSpace(string(t.partial)); rest != "" {
		out = append(out[:len(out):len(out)], rest)
	}

	return strings.Join(out, "\n")
}
