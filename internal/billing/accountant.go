package billing

import (
	"context"
	"log/slog"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
)

// Accountant prices planner calls and settles an invocation's usage: it
// records the batch and debits the marked-up credits. It implements engine.Meter.
type Accountant struct {
	prices *PriceBook
	policy CreditPolicy
	sink   UsageSink
	ledger Ledger
}

var _ engine.Meter = (*Accountant)(nil)

// NewAccountant creates an accountant. sink and ledger may be nil to skip
// recording or debiting.
func NewAccountant(prices *PriceBook, policy CreditPolicy, sink UsageSink, ledger Ledger) *Accountant {
	return &Accountant{prices: prices, policy: policy, sink: sink, ledger: ledger}
}

// Cost implements engine.Meter.
func (a *Accountant) Cost(ctx context.Context, model string, usage engine.Usage) float64 {
	if a.prices == nil {
		return 0
	}
	return a.prices.Cost(ctx, model, usage)
}

// Flush implements engine.Meter. Errors are logged, never returned.
func (a *Accountant) Flush(ctx context.Context, userID, projectID string, records []engine.UsageRecord) {
	if len(records) == 0 {
		return
	}

	if a.sink != nil {
		if err := a.sink.RecordBatch(ctx, records); err != nil {
			slog.Error("failed to record usage batch",
				"project_id", projectID,
				"records", len(records),
				"error", err)
		}
	}

	var raw float64
	for _, r := range records {
		raw += r.Cost
	}
	if a.ledger == nil || raw <= 0 {
		return
	}
	if userID == "" {
		slog.Warn("usage has no user to debit", "project_id", projectID, "raw_cost_usd", raw)
		return
	}

	credits := a.policy.Credits(raw)
	balance, err := a.ledger.Debit(ctx, userID, projectID, credits, raw)
	if err != nil {
		slog.Error("failed to debit credits",
			"user_id", userID,
			"project_id", projectID,
			"credits", credits,
			"error", err)
		return
	}
	slog.Info("credits debited",
		"user_id", userID,
		"project_id", projectID,
		"raw_cost_usd", raw,
		"credits", credits,
		"balance", balance)
}
