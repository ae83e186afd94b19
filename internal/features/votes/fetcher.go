package votes

// Per-holder voting-power lookups against the Snapshot hub.
// One query per holder, strictly in holder order. A lookup without data is retried once
// after a fixed backoff; a second miss records zero power and the run continues.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"holders-snapshot/internal/clients_api/snapshot"
	logging "holders-snapshot/internal/infra/log"
	"holders-snapshot/internal/infra/metrics"
	"holders-snapshot/internal/infra/pacing"
)

const (
	DefaultRetryBackoff  = 15 * time.Second
	DefaultThrottleEvery = 3
	DefaultThrottleDelay = 5 * time.Second
)

// PowerSource is the hub client as seen by the fetcher.
type PowerSource interface {
	VotingPower(ctx context.Context, voter, proposalID, spaceID string) (snapshot.Power, error)
}

// State is the terminal state of one lookup.
type State string

const (
	Resolved State = "resolved" // first query had data
	Retried  State = "retried"  // second query had data
	Fallback State = "fallback" // both queries missed; power recorded as 0
)

// Lookup is the result for one holder.
type Lookup struct {
	Address  string
	Power    decimal.Decimal
	State    State
	Requests int
	Err      error // last miss, set for Fallback
}

type Options struct {
	RetryBackoff  time.Duration
	ThrottleEvery int
	ThrottleDelay time.Duration
	Clock         pacing.Clock
	Metrics       *metrics.Metrics
}

type Fetcher struct {
	source  PowerSource
	backoff time.Duration
	clock   pacing.Clock
	pacer   *pacing.Pacer
	metrics *metrics.Metrics
}

// NewFetcher fills zero options with the defaults: 15s retry backoff, 5s pause after every 3rd holder.
// A negative RetryBackoff or ThrottleDelay disables that wait.
func NewFetcher(source PowerSource, opts Options) *Fetcher {
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.ThrottleEvery == 0 {
		opts.ThrottleEvery = DefaultThrottleEvery
	}
	if opts.ThrottleDelay == 0 {
		opts.ThrottleDelay = DefaultThrottleDelay
	}
	if opts.Clock == nil {
		opts.Clock = pacing.RealClock
	}

	f := &Fetcher{
		source:  source,
		backoff: opts.RetryBackoff,
		clock:   opts.Clock,
		pacer:   pacing.New(opts.ThrottleEvery, opts.ThrottleDelay, opts.Clock),
		metrics: opts.Metrics,
	}
	f.pacer.OnPause = func(tick uint64, d time.Duration) {
		logging.LogInfo("Pausing between voting power requests", zap.Uint64("holders", tick), zap.Duration("delay", d))
		f.metrics.ObservePause("hub")
	}
	return f
}

// FetchPower runs the lookup state machine for one address. The only error it returns
// is the context's; misses end in Fallback.
func (f *Fetcher) FetchPower(ctx context.Context, address, proposalID, spaceID string) (Lookup, error) {
	lookup := Lookup{Address: strings.ToLower(address)}

	power, err := f.source.VotingPower(ctx, lookup.Address, proposalID, spaceID)
	lookup.Requests++
	if err == nil {
		return f.resolve(lookup, power, Resolved), nil
	}
	if ctx.Err() != nil {
		return lookup, ctx.Err()
	}
	if !isMissing(err) {
		logging.LogDebug("Unexpected voting power error treated as missing data", zap.String("address", lookup.Address), zap.Error(err))
	}

	logging.LogWarn(fmt.Sprintf("No data for %s, retrying in %s", lookup.Address, f.backoff), zap.Error(err))
	if f.backoff > 0 {
		if err := f.clock.Sleep(ctx, f.backoff); err != nil {
			return lookup, err
		}
	}

	power, err = f.source.VotingPower(ctx, lookup.Address, proposalID, spaceID)
	lookup.Requests++
	if err == nil {
		return f.resolve(lookup, power, Retried), nil
	}
	if ctx.Err() != nil {
		return lookup, ctx.Err()
	}

	logging.LogWarn(fmt.Sprintf("Still no data for %s, recording voting power 0", lookup.Address), zap.Error(err))
	lookup.Power = decimal.Zero
	lookup.State = Fallback
	lookup.Err = err
	f.metrics.ObserveLookup(string(Fallback))
	return lookup, nil
}

func (f *Fetcher) resolve(lookup Lookup, power snapshot.Power, state State) Lookup {
	lookup.Power = power.Value
	lookup.State = state
	f.metrics.ObserveLookup(string(state))
	return lookup
}

func isMissing(err error) bool {
	var missing *snapshot.MissingDataError
	return errors.As(err, &missing)
}

// FetchAll looks up every address in order, pausing after every Nth holder.
// On cancellation it returns the partial table along with the context error.
func (f *Fetcher) FetchAll(ctx context.Context, addresses []string, proposalID, spaceID string) (*Table, error) {
	table := NewTable()
	for i, address := range addresses {
		lookup, err := f.FetchPower(ctx, address, proposalID, spaceID)
		if err != nil {
			return table, fmt.Errorf("voting power stage interrupted at holder %d (%s): %w", i+1, address, err)
		}
		table.Add(lookup)
		logging.LogDebug("Voting power", zap.String("address", lookup.Address),
			zap.String("vp", lookup.Power.String()), zap.String("state", string(lookup.State)))

		if (i+1)%25 == 0 {
			logging.LogProgress(fmt.Sprintf("Voting power fetched for %d/%d holders", i+1, len(addresses)))
		}

		if _, err := f.pacer.Tick(ctx); err != nil {
			return table, fmt.Errorf("voting power stage interrupted after holder %d: %w", i+1, err)
		}
	}
	return table, nil
}
