package votes

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"holders-snapshot/internal/clients_api/snapshot"
)

// script records requests and sleeps in one timeline. Each voter has a queue of
// responses; an exhausted queue answers with power 1.
type script struct {
	timeline  []string
	responses map[string][]error
	power     map[string]decimal.Decimal
}

func newScript() *script {
	return &script{responses: map[string][]error{}, power: map[string]decimal.Decimal{}}
}

func (s *script) VotingPower(ctx context.Context, voter, proposalID, spaceID string) (snapshot.Power, error) {
	s.timeline = append(s.timeline, "query "+voter)
	if q := s.responses[voter]; len(q) > 0 {
		s.responses[voter] = q[1:]
		if q[0] != nil {
			return snapshot.Power{}, q[0]
		}
	}
	if p, ok := s.power[voter]; ok {
		return snapshot.Power{Value: p}, nil
	}
	return snapshot.Power{Value: decimal.NewFromInt(1)}, nil
}

func (s *script) Sleep(ctx context.Context, d time.Duration) error {
	s.timeline = append(s.timeline, "sleep "+d.String())
	return ctx.Err()
}

func (s *script) queries() int {
	n := 0
	for _, e := range s.timeline {
		if len(e) > 6 && e[:6] == "query " {
			n++
		}
	}
	return n
}

func missing(voter string) error {
	return &snapshot.MissingDataError{Voter: voter}
}

func TestFetchPowerResolvesOnFirstQuery(t *testing.T) {
	s := newScript()
	s.power["0xaa"] = decimal.RequireFromString("12.5")
	f := NewFetcher(s, Options{Clock: s})

	lookup, err := f.FetchPower(context.Background(), "0xAA", "p", "space.eth")
	require.NoError(t, err)
	assert.Equal(t, Resolved, lookup.State)
	assert.Equal(t, 1, lookup.Requests)
	assert.Equal(t, "12.5", lookup.Power.String())
	assert.Equal(t, []string{"query 0xaa"}, s.timeline)
}

func TestFetchPowerRetriesOnceAfterBackoff(t *testing.T) {
	s := newScript()
	s.responses["0xaa"] = []error{missing("0xaa"), nil}
	s.power["0xaa"] = decimal.NewFromInt(7)
	f := NewFetcher(s, Options{Clock: s})

	lookup, err := f.FetchPower(context.Background(), "0xaa", "p", "space.eth")
	require.NoError(t, err)
	assert.Equal(t, 2, s.queries())
	assert.Equal(t, Retried, lookup.State)
	assert.NotEqual(t, Fallback, lookup.State)
	assert.Equal(t, "7", lookup.Power.String())
	assert.Equal(t, []string{"query 0xaa", "sleep 15s", "query 0xaa"}, s.timeline)
}

func TestFetchPowerFallsBackToZero(t *testing.T) {
	s := newScript()
	s.responses["0xaa"] = []error{missing("0xaa"), missing("0xaa")}
	f := NewFetcher(s, Options{Clock: s})

	lookup, err := f.FetchPower(context.Background(), "0xaa", "p", "space.eth")
	require.NoError(t, err)
	assert.Equal(t, Fallback, lookup.State)
	assert.True(t, lookup.Power.IsZero())
	assert.Equal(t, 2, lookup.Requests)
	var me *snapshot.MissingDataError
	assert.ErrorAs(t, lookup.Err, &me)
}

func TestFetchPowerTreatsOtherErrorsAsMissing(t *testing.T) {
	s := newScript()
	s.responses["0xaa"] = []error{errors.New("breaker open")}
	f := NewFetcher(s, Options{Clock: s})

	lookup, err := f.FetchPower(context.Background(), "0xaa", "p", "space.eth")
	require.NoError(t, err)
	assert.Equal(t, Retried, lookup.State)
}

func TestFetchPowerStopsOnCancel(t *testing.T) {
	s := newScript()
	s.responses["0xaa"] = []error{missing("0xaa")}
	f := NewFetcher(s, Options{Clock: s})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.FetchPower(ctx, "0xaa", "p", "space.eth")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, s.queries())
}

func TestFetchAllPausesAfterEveryThirdHolder(t *testing.T) {
	s := newScript()
	f := NewFetcher(s, Options{Clock: s})

	addrs := []string{"0x01", "0x02", "0x03", "0x04", "0x05"}
	table, err := f.FetchAll(context.Background(), addrs, "p", "space.eth")
	require.NoError(t, err)
	assert.Equal(t, 5, table.Len())
	assert.Equal(t, []string{
		"query 0x01", "query 0x02", "query 0x03",
		"sleep 5s",
		"query 0x04", "query 0x05",
	}, s.timeline)
}

func TestFetchAllPacesByHolderNotRequest(t *testing.T) {
	s := newScript()
	s.responses["0x02"] = []error{missing("0x02"), missing("0x02")}
	f := NewFetcher(s, Options{Clock: s})

	table, err := f.FetchAll(context.Background(), []string{"0x01", "0x02", "0x03", "0x04"}, "p", "space.eth")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"query 0x01",
		"query 0x02", "sleep 15s", "query 0x02",
		"query 0x03", "sleep 5s",
		"query 0x04",
	}, s.timeline)
	assert.Equal(t, []string{"0x02"}, table.Fallbacks())
	assert.Equal(t, 1, table.Count(Fallback))
}

func TestFetchAllReturnsPartialTableOnCancel(t *testing.T) {
	s := newScript()
	ctx, cancel := context.WithCancel(context.Background())
	counting := &cancelAfter{script: s, n: 2, cancel: cancel}
	f := NewFetcher(counting, Options{Clock: s})

	table, err := f.FetchAll(ctx, []string{"0x01", "0x02", "0x03"}, "p", "space.eth")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, table.Len())
}

type cancelAfter struct {
	*script
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) VotingPower(ctx context.Context, voter, proposalID, spaceID string) (snapshot.Power, error) {
	if c.queries()+1 == c.n {
		c.cancel()
		c.timeline = append(c.timeline, "query "+voter)
		return snapshot.Power{}, fmt.Errorf("request aborted: %w", ctx.Err())
	}
	return c.script.VotingPower(ctx, voter, proposalID, spaceID)
}
