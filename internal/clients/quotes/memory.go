package quotes

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashare/papertrade/internal/domain"
)

// MemoryProvider serves ticks from an in-process table. It backs tests
// and dev runs, and doubles as the tick store behind the websocket
// streamer.
type MemoryProvider struct {
	mu    sync.RWMutex
	ticks map[string]domain.Quotes
}

var _ domain.QuoteProvider = (*MemoryProvider)(nil)

// NewMemoryProvider creates an empty tick table.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{ticks: make(map[string]domain.Quotes)}
}

// SetTicks stores or replaces the tick for its stock code.
func (p *MemoryProvider) SetTicks(q *domain.Quotes) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticks[q.StockCode()] = *q
}

// GetTicks returns the stored tick for stockCode.
func (p *MemoryProvider) GetTicks(ctx context.Context, stockCode string) (*domain.Quotes, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	q, ok := p.ticks[stockCode]
	if !ok {
		return nil, fmt.Errorf("ticks for %s: %w", stockCode, domain.ErrEntityDoesNotExist)
	}
	return &q, nil
}

// Delete removes the tick for stockCode.
func (p *MemoryProvider) Delete(stockCode string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ticks, stockCode)
}
