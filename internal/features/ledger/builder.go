package ledger

// Chunked replay of Transfer logs into a Ledger.
// A chunk whose request fails is skipped and reported, never retried here: the scan is
// best-effort and the skipped ranges are handed back so they can be rescanned later.

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"holders-snapshot/internal/clients_api/ethrpc"
	logging "holders-snapshot/internal/infra/log"
	"holders-snapshot/internal/infra/metrics"
)

const DefaultChunkSize = 500

// BlockRange is an inclusive range of block numbers.
type BlockRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

func (r BlockRange) String() string { return fmt.Sprintf("%d-%d", r.From, r.To) }

// Chunks splits [from, to] into consecutive ranges of size blocks, the last one clipped.
// from > to yields no chunks.
func Chunks(from, to, size uint64) []BlockRange {
	if from > to {
		return nil
	}
	if size == 0 {
		size = DefaultChunkSize
	}
	var out []BlockRange
	for start := from; ; {
		end := to
		if to-start >= size {
			end = start + size - 1
		}
		out = append(out, BlockRange{From: start, To: end})
		if end == to {
			return out
		}
		start = end + 1
	}
}

// LogSource is what the builder needs from an RPC client.
type LogSource interface {
	GetLogs(ctx context.Context, filter ethrpc.LogFilter) ([]ethrpc.Log, error)
}

// SkippedChunk is a range whose logs were never applied.
type SkippedChunk struct {
	BlockRange
	Error string `json:"error"`
}

// ScanResult is the outcome of a scan. Skipped is empty only if every chunk succeeded.
type ScanResult struct {
	Ledger    *Ledger
	Chunks    int
	Logs      int
	Malformed int
	Skipped   []SkippedChunk
}

// Complete reports whether every chunk was applied.
func (r *ScanResult) Complete() bool { return len(r.Skipped) == 0 }

// Ranges returns just the block ranges of skipped chunks.
func Ranges(skipped []SkippedChunk) []BlockRange {
	out := make([]BlockRange, 0, len(skipped))
	for _, s := range skipped {
		out = append(out, s.BlockRange)
	}
	return out
}

type Builder struct {
	source    LogSource
	chunkSize uint64
	metrics   *metrics.Metrics
}

func NewBuilder(source LogSource, chunkSize uint64, m *metrics.Metrics) *Builder {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	return &Builder{source: source, chunkSize: chunkSize, metrics: m}
}

// Build scans [from, to] for Transfer logs of token into a fresh ledger.
// The returned error is non-nil only when ctx ends; chunk failures land in Skipped.
func (b *Builder) Build(ctx context.Context, token common.Address, from, to uint64) (*ScanResult, error) {
	return b.scan(ctx, token, Chunks(from, to, b.chunkSize), New())
}

// Rescan replays the given ranges into an existing ledger, typically the Skipped
// ranges of an earlier run. The ledger must not already contain those ranges.
// The ranges are scanned into a fresh ledger that is merged into into only once the
// scan finishes, so an interrupted rescan leaves into unchanged.
func (b *Builder) Rescan(ctx context.Context, token common.Address, ranges []BlockRange, into *Ledger) (*ScanResult, error) {
	var chunks []BlockRange
	for _, r := range ranges {
		chunks = append(chunks, Chunks(r.From, r.To, b.chunkSize)...)
	}
	if into == nil {
		into = New()
	}

	result, err := b.scan(ctx, token, chunks, New())
	if err != nil {
		return result, err
	}
	into.Merge(result.Ledger)
	result.Ledger = into
	return result, nil
}

func (b *Builder) scan(ctx context.Context, token common.Address, chunks []BlockRange, l *Ledger) (*ScanResult, error) {
	result := &ScanResult{Ledger: l}

	for i, chunk := range chunks {
		logging.LogProgress(fmt.Sprintf("Fetching logs from block %d to %d", chunk.From, chunk.To),
			zap.Int("chunk", i+1), zap.Int("chunks", len(chunks)))

		logs, err := b.source.GetLogs(ctx, ethrpc.LogFilter{
			FromBlock: chunk.From,
			ToBlock:   chunk.To,
			Address:   token,
			Topics:    []common.Hash{TransferTopic},
		})
		if err != nil {
			if ctx.Err() != nil {
				return result, fmt.Errorf("ledger scan interrupted at blocks %s: %w", chunk, ctx.Err())
			}
			logging.LogWarn("Skipping chunk after failed log request",
				zap.Uint64("from", chunk.From), zap.Uint64("to", chunk.To), zap.Error(err))
			result.Skipped = append(result.Skipped, SkippedChunk{BlockRange: chunk, Error: err.Error()})
			b.metrics.ObserveChunk("skipped", 0, 0)
			continue
		}

		applied, malformed := 0, 0
		for _, raw := range logs {
			transfer, err := Decode(raw)
			if err != nil {
				malformed++
				logging.LogWarn("Ignoring malformed transfer log", zap.String("range", chunk.String()), zap.Error(err))
				continue
			}
			l.Apply(transfer)
			applied++
		}

		result.Chunks++
		result.Logs += applied
		result.Malformed += malformed
		b.metrics.ObserveChunk("ok", applied, malformed)

		logging.LogProgress(fmt.Sprintf(" → %d logs", len(logs)), zap.String("range", chunk.String()))
	}

	return result, nil
}
