package pipeline

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"holders-snapshot/internal/clients_api/ethrpc"
	"holders-snapshot/internal/clients_api/snapshot"
	"holders-snapshot/internal/config"
	"holders-snapshot/internal/features/ledger"
	"holders-snapshot/internal/features/notify"
	"holders-snapshot/internal/features/votes"
	"holders-snapshot/internal/infra/fs"
)

var (
	token = common.HexToAddress("0x1f9840a85d5af5bf1d1762f925bdaddc4201f984")
	addrA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	addrB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	addrC = common.HexToAddress("0x000000000000000000000000000000000000000c")
)

type chain struct {
	logs  []ethrpc.Log
	fail  map[ledger.BlockRange]bool
	calls []ledger.BlockRange
}

func (c *chain) GetLogs(ctx context.Context, f ethrpc.LogFilter) ([]ethrpc.Log, error) {
	r := ledger.BlockRange{From: f.FromBlock, To: f.ToBlock}
	c.calls = append(c.calls, r)
	if c.fail[r] {
		return nil, &ethrpc.TransportError{Method: "eth_getLogs", Err: errors.New("connection reset")}
	}
	var out []ethrpc.Log
	for _, l := range c.logs {
		if uint64(l.BlockNumber) >= f.FromBlock && uint64(l.BlockNumber) <= f.ToBlock {
			out = append(out, l)
		}
	}
	return out, nil
}

func transferLog(block uint64, from, to common.Address, amount int64) ethrpc.Log {
	return ethrpc.Log{
		Address: token,
		Topics: []string{
			ledger.TransferTopic.Hex(),
			common.BytesToHash(from.Bytes()).Hex(),
			common.BytesToHash(to.Bytes()).Hex(),
		},
		Data:        common.BigToHash(big.NewInt(amount)).Hex(),
		BlockNumber: hexutil.Uint64(block),
	}
}

type hub struct {
	space   snapshot.Space
	err     error
	power   map[string]decimal.Decimal
	queries []string
}

func (h *hub) ResolveSpace(ctx context.Context, proposalID string) (snapshot.Space, error) {
	if h.err != nil {
		return snapshot.Space{}, h.err
	}
	return h.space, nil
}

func (h *hub) VotingPower(ctx context.Context, voter, proposalID, spaceID string) (snapshot.Power, error) {
	h.queries = append(h.queries, voter)
	p, ok := h.power[voter]
	if !ok {
		return snapshot.Power{}, &snapshot.MissingDataError{Voter: voter}
	}
	return snapshot.Power{Value: p}, nil
}

type instantClock struct{ slept []time.Duration }

func (c *instantClock) Sleep(ctx context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return ctx.Err()
}

type recordingNotifier struct {
	summaries []notify.Summary
	charts    [][]byte
}

func (n *recordingNotifier) SendSummary(s notify.Summary, chart []byte) error {
	n.summaries = append(n.summaries, s)
	n.charts = append(n.charts, chart)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Proposal: "0xproposal",
		Scan: config.ScanConfig{
			Token:      token,
			StartBlock: 1000,
			EndBlock:   1600,
			ChunkSize:  500,
		},
		Hub: config.HubConfig{
			RetryBackoff:  15 * time.Second,
			ThrottleEvery: 3,
			ThrottleDelay: 5 * time.Second,
		},
		App:   config.AppConfig{DataDir: t.TempDir()},
		Chart: config.ChartConfig{Enabled: true, TopN: 5},
	}
}

func TestRunSnapshot(t *testing.T) {
	cfg := testConfig(t)
	src := &chain{logs: []ethrpc.Log{
		transferLog(1001, addrA, addrB, 100),
		transferLog(1550, addrB, addrA, 40),
		transferLog(1560, ledger.ZeroAddress, addrC, 500),
	}}
	h := &hub{
		space: snapshot.Space{ID: "uniswapgovernance.eth", Name: "Uniswap"},
		power: map[string]decimal.Decimal{"0x000000000000000000000000000000000000000b": decimal.NewFromInt(60)},
	}
	clock := &instantClock{}
	notifier := &recordingNotifier{}

	p := New(cfg, Options{Logs: src, Hub: h, Clock: clock, Notifier: notifier})
	require.NoError(t, p.RunSnapshot(context.Background()))

	assert.Equal(t, []ledger.BlockRange{{From: 1000, To: 1499}, {From: 1500, To: 1600}}, src.calls)

	addrs, err := p.Store().LoadAddresses()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"0x000000000000000000000000000000000000000c",
		"0x000000000000000000000000000000000000000b",
	}, addrs)

	csv, err := os.ReadFile(p.Store().Path(fs.BalancesFile))
	require.NoError(t, err)
	assert.Equal(t, "address,balance\n"+
		"0x000000000000000000000000000000000000000c,500\n"+
		"0x000000000000000000000000000000000000000b,60\n", string(csv))

	vps, err := os.ReadFile(p.Store().Path(fs.VotingPowerFile))
	require.NoError(t, err)
	assert.JSONEq(t, `{"0x000000000000000000000000000000000000000b": 60, "0x000000000000000000000000000000000000000c": 0}`, string(vps))

	// c misses twice and falls back after one 15s backoff
	assert.Equal(t, []time.Duration{15 * time.Second}, clock.slept)
	assert.True(t, p.Store().Exists(fs.HoldersChartFile))

	require.Len(t, notifier.summaries, 1)
	s := notifier.summaries[0]
	assert.Equal(t, 2, s.Holders)
	assert.Equal(t, 1, s.Fallbacks)
	assert.Empty(t, s.SkippedChunks)
	assert.NotEmpty(t, notifier.charts[0])
}

func TestRunHoldersReportsSkippedChunks(t *testing.T) {
	cfg := testConfig(t)
	src := &chain{
		logs: []ethrpc.Log{transferLog(1100, ledger.ZeroAddress, addrA, 10), transferLog(1550, ledger.ZeroAddress, addrB, 20)},
		fail: map[ledger.BlockRange]bool{{From: 1500, To: 1600}: true},
	}
	p := New(cfg, Options{Logs: src})

	report, err := p.RunHolders(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Scan.Complete())
	assert.Equal(t, 1, report.Holders.Len())

	skipped, err := p.Store().LoadSkipped()
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, ledger.BlockRange{From: 1500, To: 1600}, skipped[0].BlockRange)
	assert.Contains(t, skipped[0].Error, "connection reset")

	// the failing range comes back
	src.fail = nil
	src.calls = nil
	report, err = p.RunRescan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ledger.BlockRange{{From: 1500, To: 1600}}, src.calls)
	assert.True(t, report.Scan.Complete())
	assert.Equal(t, 2, report.Holders.Len())

	skipped, err = p.Store().LoadSkipped()
	require.NoError(t, err)
	assert.Empty(t, skipped)

	report, err = p.RunRescan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Holders.Len())
	assert.Len(t, src.calls, 1)
}

func TestRunRescanRefusesAnotherToken(t *testing.T) {
	cfg := testConfig(t)
	other := common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f")
	src := &chain{
		logs: []ethrpc.Log{transferLog(1100, ledger.ZeroAddress, addrA, 10)},
		fail: map[ledger.BlockRange]bool{{From: 1500, To: 1600}: true},
	}
	p := New(cfg, Options{Logs: src})
	_, err := p.RunHolders(context.Background())
	require.NoError(t, err)

	before, err := os.ReadFile(p.Store().Path(fs.BalancesFile))
	require.NoError(t, err)

	src.fail = nil
	src.calls = nil
	src.logs = append(src.logs, transferLog(1550, ledger.ZeroAddress, addrC, 99))
	cfg.Scan.Token = other
	_, err = p.RunRescan(context.Background())

	var cerr *config.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Error(), fs.ScanFile)
	assert.Empty(t, src.calls)

	after, err := os.ReadFile(p.Store().Path(fs.BalancesFile))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunRescanRefusesAnotherRange(t *testing.T) {
	cfg := testConfig(t)
	src := &chain{logs: []ethrpc.Log{transferLog(1100, ledger.ZeroAddress, addrA, 10)}}
	p := New(cfg, Options{Logs: src})
	_, err := p.RunHolders(context.Background())
	require.NoError(t, err)

	cfg.Scan.EndBlock = 2000
	_, err = p.RunRescan(context.Background())
	var cerr *config.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Error(), "1000-2000")
}

func TestRunRescanRejectsLedgerNotMatchingManifest(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, Options{Logs: &chain{logs: []ethrpc.Log{transferLog(1100, ledger.ZeroAddress, addrA, 10)}}})
	_, err := p.RunHolders(context.Background())
	require.NoError(t, err)

	tampered := ledger.New()
	tampered.Apply(ledger.Transfer{From: ledger.ZeroAddress, To: addrB, Amount: big.NewInt(3)})
	require.NoError(t, p.Store().SaveLedger(tampered))

	_, err = p.RunRescan(context.Background())
	assert.ErrorContains(t, err, "balance sum 3 does not match 10")
}

func TestRunRescanWithoutManifest(t *testing.T) {
	p := New(testConfig(t), Options{Logs: &chain{}})
	_, err := p.RunRescan(context.Background())
	assert.ErrorContains(t, err, fs.ScanFile)
}

func TestRunVotesAbortsWhenProposalNotFound(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, Options{Logs: &chain{logs: []ethrpc.Log{transferLog(1100, ledger.ZeroAddress, addrA, 10)}}})
	_, err := p.RunHolders(context.Background())
	require.NoError(t, err)

	h := &hub{err: &snapshot.ProposalNotFoundError{ProposalID: cfg.Proposal}}
	p = New(cfg, Options{Hub: h, Clock: &instantClock{}})
	_, err = p.RunVotes(context.Background())

	var perr *snapshot.ProposalNotFoundError
	require.ErrorAs(t, err, &perr)
	assert.Empty(t, h.queries)
	assert.False(t, p.Store().Exists(fs.VotingPowerFile))
}

func TestRunVotesWithoutHolderList(t *testing.T) {
	p := New(testConfig(t), Options{Hub: &hub{}, Clock: &instantClock{}})
	_, err := p.RunVotes(context.Background())
	assert.ErrorContains(t, err, fs.AddressesFile)
}

func TestRunVotesPacesHolders(t *testing.T) {
	cfg := testConfig(t)
	cfg.Chart.Enabled = false
	var logs []ethrpc.Log
	power := map[string]decimal.Decimal{}
	for i := int64(1); i <= 7; i++ {
		addr := common.BigToAddress(big.NewInt(i))
		logs = append(logs, transferLog(1000+uint64(i), ledger.ZeroAddress, addr, i))
		power[hexLower(addr)] = decimal.NewFromInt(i)
	}
	p := New(cfg, Options{Logs: &chain{logs: logs}})
	_, err := p.RunHolders(context.Background())
	require.NoError(t, err)

	clock := &instantClock{}
	p = New(cfg, Options{Hub: &hub{space: snapshot.Space{ID: "s"}, power: power}, Clock: clock})
	report, err := p.RunVotes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, report.Table.Len())
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, clock.slept)
	assert.Equal(t, "0x0000000000000000000000000000000000000007", report.Table.Entries()[0].Address)
	assert.Nil(t, report.Chart)

	summary := BuildSummary("votes", cfg, nil, report)
	assert.Equal(t, 7, summary.VotersQueried)
	assert.Equal(t, "28", summary.TotalPower)
	assert.Equal(t, 0, summary.Fallbacks)
	assert.Equal(t, string(votes.Resolved), string(report.Table.Entries()[0].State))
}

func hexLower(a common.Address) string {
	b, _ := a.MarshalText()
	return string(b)
}
