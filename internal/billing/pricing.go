// Package billing prices planner usage, records it and debits user credits.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
)

// Price is USD per million tokens.
type Price struct {
	Input       float64 `yaml:"input" json:"input"`
	Output      float64 `yaml:"output" json:"output"`
	CachedInput float64 `yaml:"cached_input" json:"cached_input"`
}

// Cost returns the USD cost of usage at this price.
func (p Price) Cost(u engine.Usage) float64 {
	return (float64(u.InputTokens)*p.Input +
		float64(u.OutputTokens)*p.Output +
		float64(u.CachedInputTokens)*p.CachedInput) / 1_000_000
}

// Source loads the current price table keyed by model name.
type Source interface {
	Load(ctx context.Context) (map[string]Price, error)
}

// StaticSource is a fixed price table.
type StaticSource map[string]Price

// Load implements Source.
func (s StaticSource) Load(context.Context) (map[string]Price, error) {
	out := make(map[string]Price, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

// DefaultPrices covers the models the providers default to.
var DefaultPrices = StaticSource{
	"claude-sonnet-4-5": {Input: 3, Output: 15, CachedInput: 0.3},
	"claude-sonnet-4":   {Input: 3, Output: 15, CachedInput: 0.3},
	"claude-haiku-4-5":  {Input: 1, Output: 5, CachedInput: 0.1},
	"claude-opus-4-1":   {Input: 15, Output: 75, CachedInput: 1.5},
	"gpt-4.1":           {Input: 2, Output: 8, CachedInput: 0.5},
	"gpt-4.1-mini":      {Input: 0.4, Output: 1.6, CachedInput: 0.1},
	"gpt-4o":            {Input: 2.5, Output: 10, CachedInput: 1.25},
	"gpt-4o-mini":       {Input: 0.15, Output: 0.6, CachedInput: 0.075},
}

// YAMLFileSource reads a price table from a YAML file:
//
//	models:
//	  claude-sonnet-4-5:
//	    input: 3
//	    output: 15
//	    cached_input: 0.3
type YAMLFileSource struct {
	Path string
}

type priceFile struct {
	Models map[string]Price `yaml:"models"`
}

// Load implements Source.
func (s YAMLFileSource) Load(context.Context) (map[string]Price, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	var f priceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pricing file %s: %w", s.Path, err)
	}
	if len(f.Models) == 0 {
		return nil, fmt.Errorf("pricing file %s lists no models", s.Path)
	}
	for name, p := range f.Models {
		if p.Input < 0 || p.Output < 0 || p.CachedInput < 0 {
			return nil, fmt.Errorf("pricing file %s: negative price for %s", s.Path, name)
		}
	}
	return f.Models, nil
}

// PriceBook caches a Source and refreshes it when the data is older than the
// refresh interval. A failed refresh keeps the previous table.
type PriceBook struct {
	source  Source
	refresh time.Duration
	now     func() time.Time

	mu       sync.Mutex
	prices   map[string]Price
	names    []string // longest first, for prefix lookup
	loadedAt time.Time
	warned   map[string]bool
}

// NewPriceBook creates a price book. A refresh of zero loads the source once.
func NewPriceBook(source Source, refresh time.Duration) *PriceBook {
	return &PriceBook{
		source:  source,
		refresh: refresh,
		now:     time.Now,
		warned:  make(map[string]bool),
	}
}

// Lookup returns the price for model. Dated model ids ("claude-sonnet-4-5-20250929")
// fall back to the longest known prefix.
func (b *PriceBook) Lookup(ctx context.Context, model string) (Price, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRefresh(ctx)

	if p, ok := b.prices[model]; ok {
		return p, true
	}
	for _, name := range b.names {
		if strings.HasPrefix(model, name) {
			return b.prices[name], true
		}
	}
	return Price{}, false
}

// Cost prices usage for model. Unknown models cost zero and are logged once.
func (b *PriceBook) Cost(ctx context.Context, model string, usage engine.Usage) float64 {
	p, ok := b.Lookup(ctx, model)
	if !ok {
		b.mu.Lock()
		if !b.warned[model] {
			b.warned[model] = true
			slog.Warn("no pricing for model, treating as free", "model", model)
		}
		b.mu.Unlock()
		return 0
	}
	return p.Cost(usage)
}

func (b *PriceBook) maybeRefresh(ctx context.Context) {
	if b.prices != nil && (b.refresh <= 0 || b.now().Sub(b.loadedAt) < b.refresh) {
		return
	}
	prices, err := b.source.Load(ctx)
	if err != nil {
		if b.prices == nil {
			slog.Error("failed to load pricing", "error", err)
		} else {
			slog.Warn("failed to refresh pricing, keeping previous table", "error", err)
		}
		// Retry after the next interval rather than on every call.
		b.loadedAt = b.now()
		if b.prices == nil {
			b.prices = map[string]Price{}
		}
		return
	}

	names := make([]string, 0, len(prices))
	for name := range prices {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	b.prices = prices
	b.names = names
	b.loadedAt = b.now()
}
