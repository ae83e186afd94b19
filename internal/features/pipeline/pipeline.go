package pipeline

// Stage runners: ledger scan -> holder export -> persist -> voting power -> persist.
// Each stage reads its inputs from the previous stage's artifacts, so the voting-power
// stage can be re-run alone against a captured holder list.

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"holders-snapshot/internal/clients_api/ethrpc"
	"holders-snapshot/internal/clients_api/snapshot"
	"holders-snapshot/internal/config"
	"holders-snapshot/internal/features/holders"
	"holders-snapshot/internal/features/ledger"
	"holders-snapshot/internal/features/notify"
	"holders-snapshot/internal/features/votes"
	"holders-snapshot/internal/infra/fs"
	logging "holders-snapshot/internal/infra/log"
	"holders-snapshot/internal/infra/metrics"
	"holders-snapshot/internal/infra/pacing"
)

// Hub is what the voting-power stage needs from the Snapshot hub.
type Hub interface {
	votes.PowerSource
	ResolveSpace(ctx context.Context, proposalID string) (snapshot.Space, error)
}

// Notifier delivers the end-of-run summary.
type Notifier interface {
	SendSummary(s notify.Summary, chart []byte) error
}

// Options overrides the collaborators New would build from the config.
type Options struct {
	Logs     ledger.LogSource
	Hub      Hub
	Clock    pacing.Clock
	Notifier Notifier
	Metrics  *metrics.Metrics
}

type Pipeline struct {
	cfg      *config.Config
	store    *fs.Store
	metrics  *metrics.Metrics
	logs     ledger.LogSource
	hub      Hub
	clock    pacing.Clock
	notifier Notifier
}

// New wires the clients lazily: the RPC client is only built when a ledger stage runs
// and the hub client only when a voting-power stage runs.
func New(cfg *config.Config, opts Options) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    fs.NewStore(cfg.App.DataDir),
		metrics:  opts.Metrics,
		logs:     opts.Logs,
		hub:      opts.Hub,
		clock:    opts.Clock,
		notifier: opts.Notifier,
	}
}

func (p *Pipeline) Store() *fs.Store { return p.store }

func (p *Pipeline) logSource() ledger.LogSource {
	if p.logs == nil {
		p.logs = ethrpc.NewClient(p.cfg.RPC.URL, ethrpc.Options{
			Timeout:       p.cfg.RPC.Timeout,
			ThrottleEvery: p.cfg.RPC.ThrottleEvery,
			ThrottleDelay: p.cfg.RPC.ThrottleDelay,
			MaxRetries:    p.cfg.RPC.MaxRetries,
			MaxRPS:        p.cfg.RPC.MaxRPS,
			Clock:         p.clock,
			Metrics:       p.metrics,
		})
	}
	return p.logs
}

func (p *Pipeline) hubClient() Hub {
	if p.hub == nil {
		p.hub = snapshot.NewClient(p.cfg.Hub.URL, snapshot.Options{
			Timeout:         p.cfg.Hub.Timeout,
			MaxRetries:      p.cfg.Hub.MaxRetries,
			BreakerFailures: p.cfg.Hub.BreakerFailures,
			Metrics:         p.metrics,
		})
	}
	return p.hub
}

// HoldersReport is the outcome of the ledger stage.
type HoldersReport struct {
	Scan    *ledger.ScanResult
	Holders holders.HolderSet
}

// RunHolders scans the configured range and writes ledger.json, skipped_chunks.json,
// addresses.json and snapshot.csv.
func (p *Pipeline) RunHolders(ctx context.Context) (*HoldersReport, error) {
	start := time.Now()
	scan := p.cfg.Scan
	logging.LogProgress(fmt.Sprintf("Scanning %s transfers from block %d to %d", scan.Token.Hex(), scan.StartBlock, scan.EndBlock),
		zap.Uint64("chunk_size", scan.ChunkSize))

	builder := ledger.NewBuilder(p.logSource(), scan.ChunkSize, p.metrics)
	result, err := builder.Build(ctx, scan.Token, scan.StartBlock, scan.EndBlock)
	if err != nil {
		return nil, fmt.Errorf("ledger stage: %w", err)
	}

	report, err := p.persistLedger(result, fs.ScanManifest{
		Token:     scan.Token.Hex(),
		FromBlock: scan.StartBlock,
		ToBlock:   scan.EndBlock,
	})
	if err != nil {
		return nil, err
	}

	logging.LogSuccess(fmt.Sprintf("Found %d holders", report.Holders.Len()),
		zap.String("held_balance", report.Holders.Total().String()),
		zap.Int("chunks", result.Chunks),
		zap.Int("logs", result.Logs),
		zap.Int("skipped_chunks", len(result.Skipped)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	p.warnSkipped(result)
	return report, nil
}

// RunRescan replays the ranges listed in skipped_chunks.json into the saved ledger and
// rewrites the ledger-stage artifacts. Ranges that fail again stay listed.
// The configured token, and range when one is given, must match scan.json.
func (p *Pipeline) RunRescan(ctx context.Context) (*HoldersReport, error) {
	manifest, err := p.store.LoadScan()
	if err != nil {
		return nil, fmt.Errorf("rescan: %w", err)
	}
	if err := p.checkManifest(manifest); err != nil {
		return nil, err
	}

	skipped, err := p.store.LoadSkipped()
	if err != nil {
		return nil, fmt.Errorf("rescan: %w", err)
	}
	l, err := p.store.LoadLedger()
	if err != nil {
		return nil, fmt.Errorf("rescan: %w", err)
	}
	if sum := l.Sum().String(); sum != manifest.BalanceSum {
		return nil, fmt.Errorf("rescan: %s balance sum %s does not match %s recorded in %s",
			fs.LedgerFile, sum, manifest.BalanceSum, fs.ScanFile)
	}

	if len(skipped) == 0 {
		logging.LogSuccess("No skipped chunks to rescan")
		return &HoldersReport{Scan: &ledger.ScanResult{Ledger: l}, Holders: holders.Export(l)}, nil
	}

	ranges := ledger.Ranges(skipped)
	logging.LogProgress(fmt.Sprintf("Rescanning %d skipped ranges", len(ranges)), zap.String("token", manifest.Token))

	builder := ledger.NewBuilder(p.logSource(), p.cfg.Scan.ChunkSize, p.metrics)
	result, err := builder.Rescan(ctx, p.cfg.Scan.Token, ranges, l)
	if err != nil {
		return nil, fmt.Errorf("rescan stage: %w", err)
	}

	report, err := p.persistLedger(result, manifest)
	if err != nil {
		return nil, err
	}
	logging.LogSuccess(fmt.Sprintf("Rescan done, %d holders", report.Holders.Len()),
		zap.Int("recovered_chunks", result.Chunks),
		zap.Int("still_skipped", len(result.Skipped)))
	p.warnSkipped(result)
	return report, nil
}

func (p *Pipeline) checkManifest(m fs.ScanManifest) error {
	scan := p.cfg.Scan
	cerr := &config.ConfigError{}
	if token := strings.ToLower(scan.Token.Hex()); token != m.Token {
		cerr.Invalid = append(cerr.Invalid, fmt.Sprintf("%s %s does not match %s recorded in %s", config.FieldToken, token, m.Token, fs.ScanFile))
	}
	if scan.EndBlock > 0 && (scan.StartBlock != m.FromBlock || scan.EndBlock != m.ToBlock) {
		cerr.Invalid = append(cerr.Invalid, fmt.Sprintf("block range %d-%d does not match %d-%d recorded in %s",
			scan.StartBlock, scan.EndBlock, m.FromBlock, m.ToBlock, fs.ScanFile))
	}
	if len(cerr.Invalid) > 0 {
		return cerr
	}
	return nil
}

// persistLedger writes the ledger-stage artifacts. scan.json goes last so it only ever
// describes a ledger.json that was fully written.
func (p *Pipeline) persistLedger(result *ledger.ScanResult, manifest fs.ScanManifest) (*HoldersReport, error) {
	set := holders.Export(result.Ledger)

	if err := p.store.SaveLedger(result.Ledger); err != nil {
		return nil, err
	}
	if err := p.store.SaveSkipped(result.Skipped); err != nil {
		return nil, err
	}
	if err := p.store.SaveAddresses(set); err != nil {
		return nil, err
	}
	logging.LogSuccess(fmt.Sprintf("Addresses saved to %s", p.store.Path(fs.AddressesFile)))
	if err := p.store.SaveBalances(set); err != nil {
		return nil, err
	}
	logging.LogSuccess(fmt.Sprintf("Snapshot saved to %s", p.store.Path(fs.BalancesFile)))

	manifest.BalanceSum = result.Ledger.Sum().String()
	if err := p.store.SaveScan(manifest); err != nil {
		return nil, err
	}

	return &HoldersReport{Scan: result, Holders: set}, nil
}

func (p *Pipeline) warnSkipped(result *ledger.ScanResult) {
	if result.Complete() {
		return
	}
	ranges := make([]string, 0, len(result.Skipped))
	for _, s := range result.Skipped {
		ranges = append(ranges, s.String())
	}
	logging.LogWarn(fmt.Sprintf("%d chunks were skipped, balances are incomplete; run rescan to fill them in", len(result.Skipped)),
		zap.Strings("ranges", ranges),
		zap.String("file", p.store.Path(fs.SkippedFile)))
}

// VotesReport is the outcome of the voting-power stage.
type VotesReport struct {
	Space snapshot.Space
	Table *votes.Table
	Chart []byte
}

// RunVotes reads addresses.json, resolves the proposal's space and looks up every
// holder. A proposal that cannot be resolved aborts the stage before any lookup.
func (p *Pipeline) RunVotes(ctx context.Context) (*VotesReport, error) {
	start := time.Now()
	addresses, err := p.store.LoadAddresses()
	if err != nil {
		return nil, fmt.Errorf("voting power stage: %w", err)
	}

	hub := p.hubClient()
	space, err := hub.ResolveSpace(ctx, p.cfg.Proposal)
	if err != nil {
		return nil, fmt.Errorf("voting power stage: %w", err)
	}
	logging.LogProgress(fmt.Sprintf("Fetching voting power for %d holders in space %s", len(addresses), space.ID),
		zap.String("space_name", space.Name), zap.String("proposal", p.cfg.Proposal))

	fetcher := votes.NewFetcher(hub, votes.Options{
		RetryBackoff:  p.cfg.Hub.RetryBackoff,
		ThrottleEvery: p.cfg.Hub.ThrottleEvery,
		ThrottleDelay: p.cfg.Hub.ThrottleDelay,
		Clock:         p.clock,
		Metrics:       p.metrics,
	})
	table, err := fetcher.FetchAll(ctx, addresses, p.cfg.Proposal, space.ID)
	if err != nil {
		return nil, err
	}

	if err := p.store.SaveVotingPower(table); err != nil {
		return nil, err
	}
	logging.LogSuccess(fmt.Sprintf("Voting powers saved to %s", p.store.Path(fs.VotingPowerFile)),
		zap.Int("holders", table.Len()),
		zap.Int("fallbacks", table.Count(votes.Fallback)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	if fallbacks := table.Fallbacks(); len(fallbacks) > 0 {
		logging.LogWarn(fmt.Sprintf("%d holders have fallback voting power 0", len(fallbacks)), zap.Strings("addresses", fallbacks))
	}

	report := &VotesReport{Space: space, Table: table}
	if p.cfg.Chart.Enabled && table.Len() > 0 {
		chart, err := RenderChart(table, space, p.cfg.Proposal, p.cfg.Chart.TopN)
		if err != nil {
			logging.LogWarn("Failed to render voting power chart", zap.Error(err))
		} else if err := p.store.SaveFile(fs.HoldersChartFile, chart); err != nil {
			logging.LogWarn("Failed to save voting power chart", zap.Error(err))
		} else {
			report.Chart = chart
		}
	}
	return report, nil
}

// RunSnapshot runs both stages and sends the summary.
func (p *Pipeline) RunSnapshot(ctx context.Context) error {
	holdersReport, err := p.RunHolders(ctx)
	if err != nil {
		return err
	}
	votesReport, err := p.RunVotes(ctx)
	if err != nil {
		return err
	}
	p.Notify(BuildSummary("snapshot", p.cfg, holdersReport, votesReport), chartOf(votesReport))
	return nil
}

// Notify sends the summary if a notifier is configured. Delivery failures are warnings.
func (p *Pipeline) Notify(s notify.Summary, chart []byte) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.SendSummary(s, chart); err != nil {
		logging.LogWarn("Failed to send run summary", zap.Error(err))
	}
}

func chartOf(r *VotesReport) []byte {
	if r == nil {
		return nil
	}
	return r.Chart
}
