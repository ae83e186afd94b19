package pipeline

import (
	"fmt"
	"strings"

	"holders-snapshot/internal/clients_api/snapshot"
	"holders-snapshot/internal/config"
	"holders-snapshot/internal/features/notify"
	"holders-snapshot/internal/features/tg_charts"
	"holders-snapshot/internal/features/votes"
)

const summaryTopN = 10

// BuildSummary collects whatever stages ran into one notification. Either report may be nil.
func BuildSummary(stage string, cfg *config.Config, h *HoldersReport, v *VotesReport) notify.Summary {
	s := notify.Summary{Stage: stage}
	if cfg.Scan.EndBlock > 0 {
		s.Token = strings.ToLower(cfg.Scan.Token.Hex())
		s.FromBlock = cfg.Scan.StartBlock
		s.ToBlock = cfg.Scan.EndBlock
	}

	if h != nil {
		s.Holders = h.Holders.Len()
		if h.Scan != nil {
			s.Malformed = h.Scan.Malformed
			for _, sk := range h.Scan.Skipped {
				s.SkippedChunks = append(s.SkippedChunks, sk.String())
			}
		}
		if v == nil {
			for _, hd := range h.Holders.Top(summaryTopN) {
				s.Top = append(s.Top, notify.TopEntry{Address: hd.Address, Value: hd.Balance.String()})
			}
		}
	}

	if v != nil {
		s.Proposal = cfg.Proposal
		s.Space = v.Space.ID
		if v.Space.Name != "" && v.Space.Name != v.Space.ID {
			s.Space = fmt.Sprintf("%s (%s)", v.Space.Name, v.Space.ID)
		}
		s.VotersQueried = v.Table.Len()
		s.Fallbacks = v.Table.Count(votes.Fallback)
		s.TotalPower = v.Table.Total().String()
		if h == nil {
			s.Holders = v.Table.Len()
		}
		for i, e := range v.Table.Entries() {
			if i == summaryTopN {
				break
			}
			s.Top = append(s.Top, notify.TopEntry{Address: e.Address, Value: e.Power.String()})
		}
	}
	return s
}

// RenderChart draws the top-N voting power chart as PNG.
func RenderChart(table *votes.Table, space snapshot.Space, proposal string, topN int) ([]byte, error) {
	entries := table.Entries()
	if topN > 0 && len(entries) > topN {
		entries = entries[:topN]
	}

	bars := make([]tg_charts.Bar, 0, len(entries))
	for _, e := range entries {
		bars = append(bars, tg_charts.Bar{
			Label:    e.Address,
			Value:    e.Power.InexactFloat64(),
			Display:  e.Power.StringFixed(2),
			Fallback: e.State == votes.Fallback,
		})
	}

	title := fmt.Sprintf("Top %d holders by voting power", len(bars))
	subtitle := fmt.Sprintf("%s · proposal %s", space.ID, shortID(proposal))
	return tg_charts.RenderBarChart(title, subtitle, bars)
}

func shortID(id string) string {
	if len(id) > 14 {
		return id[:8] + "…" + id[len(id)-4:]
	}
	return id
}
