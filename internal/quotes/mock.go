package quotes

import (
	"context"
	"sync"
)

// MockSource is an in-memory BarSource for tests. Symbols without canned
// bars are simply absent from results, matching real provider behavior.
type MockSource struct {
	mu    sync.Mutex
	bars  map[string][]Bar
	calls int
	err   error
}

func NewMockSource() *MockSource {
	return &MockSource{bars: map[string][]Bar{}}
}

// SetBars installs the canned series for a symbol.
func (m *MockSource) SetBars(symbol string, bars []Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars[symbol] = bars
}

// FailWith makes every subsequent fetch return err (nil clears it).
func (m *MockSource) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// FetchCalls reports how many fetches were issued.
func (m *MockSource) FetchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockSource) FetchBars(ctx context.Context, symbols []string, barCount int, frequency Frequency) (map[string][]Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string][]Bar, len(symbols))
	for _, s := range symbols {
		bars, ok := m.bars[s]
		if !ok || len(bars) == 0 {
			continue
		}
		if len(bars) > barCount {
			bars = bars[len(bars)-barCount:]
		}
		cp := make([]Bar, len(bars))
		copy(cp, bars)
		out[s] = cp
	}
	return out, nil
}

var _ BarSource = (*MockSource)(nil)
