package ai

import (
	"fmt"
	"sync"
	"time"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/octup/sentinel/internal/domain"
	"github.com/octup/sentinel/internal/observability"
)

// Budget enforces the daily token ceiling. The counter resets at the first
// charge of each UTC day; accounting is an estimate from tiktoken, not the
// provider's bill.
type Budget struct {
	limit int64
	model string
	now   func() time.Time

	mu   sync.Mutex
	day  string
	used int64

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewBudget builds a budget for the given daily token limit; limit <= 0
// disables enforcement.
func NewBudget(limit int64, model string) *Budget {
	return &Budget{limit: limit, model: model, now: time.Now}
}

func (b *Budget) encoding() *tiktoken.Tiktoken {
	b.encOnce.Do(func() {
		enc, err := tiktoken.EncodingForModel(b.model)
		if err != nil {
			enc, _ = tiktoken.GetEncoding("cl100k_base")
		}
		b.enc = enc
	})
	return b.enc
}

// CountTokens estimates the token count of text; falls back to a four
// characters per token heuristic when no encoding is available.
func (b *Budget) CountTokens(text string) int {
	if enc := b.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// Reserve admits a request costing n tokens, or reports the budget exhausted.
func (b *Budget) Reserve(n int) error {
	if b.limit <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	today := b.now().UTC().Format("2006-01-02")
	if b.day != today {
		b.day = today
		b.used = 0
	}
	if b.used+int64(n) > b.limit {
		return fmt.Errorf("op=ai.budget: daily token budget exhausted (%d/%d): %w",
			b.used, b.limit, domain.ErrRateLimited)
	}
	b.used += int64(n)
	observability.AITokensUsedTotal.Add(float64(n))
	return nil
}

// Charge records completion tokens after the fact; never rejects.
func (b *Budget) Charge(n int) {
	if b.limit <= 0 || n <= 0 {
		return
	}
	b.mu.Lock()
	b.used += int64(n)
	b.mu.Unlock()
	observability.AITokensUsedTotal.Add(float64(n))
}

// Used returns today's consumption.
func (b *Budget) Used() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.day != b.now().UTC().Format("2006-01-02") {
		return 0
	}
	return b.used
}
