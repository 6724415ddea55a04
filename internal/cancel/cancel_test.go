package cancel_test

import (
	"sync"
	"testing"

	"hozon/internal/cancel"
)

func TestToken(t *testing.T) {
	t.Parallel()

	tok := cancel.New()
	if tok.IsSet() {
		t.Fatal("new token must not be set")
	}

	select {
	case <-tok.Done():
		t.Fatal("Done closed before Set")
	default:
	}

	if !tok.Set() {
		t.Fatal("first Set must report true")
	}

	if tok.Set() {
		t.Error("second Set must be a no-op")
	}

	if !tok.IsSet() {
		t.Error("token must be set")
	}

	<-tok.Done()
}

func TestTokenConcurrentSet(t *testing.T) {
	t.Parallel()

	tok := cancel.New()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for range 32 {
		wg.Go(func() {
			if tok.Set() {
				mu.Lock()
				wins++
				mu.Unlock()
			}

			_ = tok.IsSet()
		})
	}

	wg.Wait()

	if wins != 1 {
		t.Errorf("Set reported true %d times, want 1", wins)
	}
}
