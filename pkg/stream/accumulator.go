// Package stream accumulates streamed text fragments into the text of one assistant turn.
package stream

import (
	"strings"
	"sync"

	"github.com/go-go-golems/bookchat/pkg/apperrors"
	"github.com/rs/zerolog/log"
)

// Observer receives the accumulated value after every pushed fragment.
type Observer func(partial string)

// Accumulation is the buffer of one in-progress assistant response. It has exactly one
// writer. Value and Sealed may be called from other goroutines.
type Accumulation struct {
	mu       sync.Mutex
	buf      strings.Builder
	deltas   int
	sealed   bool
	observer Observer
}

// Start returns an empty accumulation. observer may be nil.
func Start(observer Observer) *Accumulation {
	return &Accumulation{observer: observer}
}

// Push appends delta and publishes the new partial value to the observer.
func (a *Accumulation) Push(delta string) (string, error) {
	a.mu.Lock()
	if a.sealed {
		a.mu.Unlock()
		return "", apperrors.InvalidState("push to sealed accumulation")
	}
	a.buf.WriteString(delta)
	a.deltas++
	partial := a.buf.String()
	obs := a.observer
	a.mu.Unlock()

	if obs != nil {
		obs(partial)
	}
	return partial, nil
}

// Finish seals the accumulation and returns the sealed text. When finalText is not
// empty and differs from the accumulated text the provider is inconsistent; the
// accumulated text wins and the mismatch is logged.
func (a *Accumulation) Finish(finalText string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return "", apperrors.InvalidState("finish of sealed accumulation")
	}
	a.sealed = true
	text := a.buf.String()
	if a.deltas == 0 && finalText != "" {
		a.buf.WriteString(finalText)
		return finalText, nil
	}
	if finalText != "" && finalText != text {
		log.Warn().
			Int("accumulated_len", len(text)).
			Int("final_len", len(finalText)).
			Msg("provider final text differs from streamed fragments")
	}
	return text, nil
}

// Value returns the text accumulated so far.
func (a *Accumulation) Value() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}

// Sealed reports whether Finish has been called.
func (a *Accumulation) Sealed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sealed
}

// Deltas returns the number of fragments pushed.
func (a *Accumulation) Deltas() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deltas
}
