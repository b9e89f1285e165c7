package model

import (
	"fmt"
	"sync"

	"github.com/mini-swe-agent/mini-swe-agent/internal/usage"
)

// Stats is a thread-safe, process-wide accumulator of LM calls and spend. A
// single instance (GlobalModelStats) tracks everything a run spends across
// every Client it creates, so the agent loop's cost limit and the batch
// orchestrator's aggregate reporting see the same numbers.
type Stats struct {
	mu       sync.Mutex
	calls    int
	usage    usage.Usage
	costUSD  float64
	costs    map[string]usage.Cost
}

// NewStats creates a Stats accumulator. costs maps "provider:model" to its
// per-million-token pricing, used to estimate costUSD on each Add.
func NewStats(costs map[string]usage.Cost) *Stats {
	if costs == nil {
		costs = map[string]usage.Cost{}
	}
	return &Stats{costs: costs}
}

// Add records one completed LM call. costTracking is the owning Client's
// ModelConfig.CostTracking: "default" requires a positive cost be computed
// and fails the call if one can't be, "ignore_errors" records an
// unpriced call as 0 and continues.
func (s *Stats) Add(provider, modelID string, u usage.Usage, costTracking string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	s.usage.Add(&u)

	cost, priced := s.costs[provider+":"+modelID]
	costUSD := cost.Estimate(&u)
	if !priced || costUSD <= 0 {
		if costTracking == "ignore_errors" {
			return nil
		}
		return fmt.Errorf("model: could not determine a cost > 0 for %s:%s", provider, modelID)
	}

	s.costUSD += costUSD
	return nil
}

// Snapshot returns the current call count, token usage, and estimated cost.
func (s *Stats) Snapshot() (calls int, u usage.Usage, costUSD float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.usage, s.costUSD
}

// CostUSD returns the running cost estimate, used to enforce the agent's
// per-run cost limit.
func (s *Stats) CostUSD() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.costUSD
}

// GlobalModelStats accumulates usage across every Client in the process,
// mirroring mini-swe-agent's process-wide GLOBAL_MODEL_STATS instance.
var GlobalModelStats = NewStats(nil)
