package fs

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"holders-snapshot/internal/features/holders"
	"holders-snapshot/internal/features/ledger"
	"holders-snapshot/internal/features/votes"
	logging "holders-snapshot/internal/infra/log"
)

const DefaultDataDir = "data_out"

// Artifact file names inside the data directory.
const (
	AddressesFile     = "addresses.json"
	BalancesFile      = "snapshot.csv"
	LedgerFile        = "ledger.json"
	SkippedFile       = "skipped_chunks.json"
	ScanFile          = "scan.json"
	VotingPowerFile   = "vps.json"
	RankedPowerFile   = "vps_ranked.json"
	HoldersChartFile  = "holders_chart.png"
	balancesCSVHeader = "address,balance"
)

// Store reads and writes run artifacts under one directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDataDir
	}
	return &Store{dir: dir}
}

// Path joins name onto the data directory.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// Exists reports whether the artifact name is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// writeFile writes through a temp file and a rename so readers never see a torn artifact.
func (s *Store) writeFile(name string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	fullPath := s.Path(name)
	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary %s: %w", name, err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary file to %s: %w", name, err)
	}

	logging.LogDebug("Saved artifact", zap.String("file", fullPath), zap.Int("bytes", len(data)))
	return nil
}

func (s *Store) saveJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return s.writeFile(name, data)
}

func (s *Store) loadJSON(name string, v any) error {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}
	return nil
}

// SaveAddresses writes the holder address list in holder order.
func (s *Store) SaveAddresses(set holders.HolderSet) error {
	addresses := set.Addresses()
	if addresses == nil {
		addresses = []string{}
	}
	return s.saveJSON(AddressesFile, addresses)
}

// LoadAddresses reads the holder address list, validating and lowercasing each entry.
func (s *Store) LoadAddresses() ([]string, error) {
	var raw []string
	if err := s.loadJSON(AddressesFile, &raw); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for i, a := range raw {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("%s: entry %d is not an address: %q", AddressesFile, i, a)
		}
		out = append(out, strings.ToLower(a))
	}
	return out, nil
}

// SaveBalances writes the address,balance table with base-10 integer balances.
func (s *Store) SaveBalances(set holders.HolderSet) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(strings.Split(balancesCSVHeader, ",")); err != nil {
		return fmt.Errorf("failed to write %s header: %w", BalancesFile, err)
	}
	for _, h := range set.Holders() {
		if err := w.Write([]string{h.Address, h.Balance.String()}); err != nil {
			return fmt.Errorf("failed to write %s row: %w", BalancesFile, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to encode %s: %w", BalancesFile, err)
	}
	return s.writeFile(BalancesFile, buf.Bytes())
}

func (s *Store) SaveLedger(l *ledger.Ledger) error {
	return s.saveJSON(LedgerFile, l)
}

func (s *Store) LoadLedger() (*ledger.Ledger, error) {
	l := ledger.New()
	if err := s.loadJSON(LedgerFile, l); err != nil {
		return nil, err
	}
	return l, nil
}

// ScanManifest identifies the scan that produced ledger.json: the token, the requested
// range and the net balance sum of the ledger as written.
type ScanManifest struct {
	Token      string `json:"token"`
	FromBlock  uint64 `json:"from_block"`
	ToBlock    uint64 `json:"to_block"`
	BalanceSum string `json:"balance_sum"`
}

func (s *Store) SaveScan(m ScanManifest) error {
	m.Token = strings.ToLower(m.Token)
	return s.saveJSON(ScanFile, m)
}

func (s *Store) LoadScan() (ScanManifest, error) {
	var m ScanManifest
	if err := s.loadJSON(ScanFile, &m); err != nil {
		return ScanManifest{}, err
	}
	return m, nil
}

// SaveSkipped always writes the file, an empty array meaning the scan was gap-free.
func (s *Store) SaveSkipped(skipped []ledger.SkippedChunk) error {
	if skipped == nil {
		skipped = []ledger.SkippedChunk{}
	}
	return s.saveJSON(SkippedFile, skipped)
}

// LoadSkipped returns no ranges when the file does not exist.
func (s *Store) LoadSkipped() ([]ledger.SkippedChunk, error) {
	if !s.Exists(SkippedFile) {
		logging.LogDebug("Skipped chunks file does not exist, returning empty list", zap.String("file", s.Path(SkippedFile)))
		return nil, nil
	}
	var skipped []ledger.SkippedChunk
	if err := s.loadJSON(SkippedFile, &skipped); err != nil {
		return nil, err
	}
	return skipped, nil
}

// SaveVotingPower writes vps.json, an object whose keys follow the table order, and
// vps_ranked.json, the same data as an explicit ordered list.
func (s *Store) SaveVotingPower(table *votes.Table) error {
	entries := table.Entries()

	var buf bytes.Buffer
	buf.WriteString("{")
	for i, e := range entries {
		if i > 0 {
			buf.WriteString(",")
		}
		key, err := json.Marshal(e.Address)
		if err != nil {
			return fmt.Errorf("failed to marshal %s key: %w", VotingPowerFile, err)
		}
		fmt.Fprintf(&buf, "\n  %s: %s", key, e.Power.String())
	}
	if len(entries) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}")
	if err := s.writeFile(VotingPowerFile, buf.Bytes()); err != nil {
		return err
	}

	if entries == nil {
		entries = []votes.Entry{}
	}
	return s.saveJSON(RankedPowerFile, entries)
}

// LoadVotingPower reads vps_ranked.json.
func (s *Store) LoadVotingPower() (*votes.Table, error) {
	var entries []votes.Entry
	if err := s.loadJSON(RankedPowerFile, &entries); err != nil {
		return nil, err
	}
	table := votes.NewTable()
	for _, e := range entries {
		table.Set(e.Address, e.Power, e.State)
	}
	return table, nil
}

// SaveFile writes raw bytes such as a rendered chart.
func (s *Store) SaveFile(name string, data []byte) error {
	return s.writeFile(name, data)
}
