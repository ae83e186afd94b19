package holders

// Derives the positive-balance holder set from a finished ledger.

import (
	"math/big"
	"sort"
	"strings"

	"holders-snapshot/internal/features/ledger"
)

// Holder is one address with a strictly positive balance.
type Holder struct {
	Address string // lowercase 0x hex
	Balance *big.Int
}

// HolderSet is read-only once exported: holders ordered by balance descending,
// ties by ascending address.
type HolderSet struct {
	holders []Holder
}

// Export keeps balances > 0. Zero and negative balances (round trips, supply minted
// before the scanned range) are dropped silently.
func Export(l *ledger.Ledger) HolderSet {
	var out []Holder
	for _, e := range l.Entries() {
		if e.Balance.Sign() <= 0 {
			continue
		}
		out = append(out, Holder{Address: strings.ToLower(e.Address.Hex()), Balance: e.Balance})
	}
	sortHolders(out)
	return HolderSet{holders: out}
}

func sortHolders(hs []Holder) {
	sort.SliceStable(hs, func(i, j int) bool {
		if c := hs[i].Balance.Cmp(hs[j].Balance); c != 0 {
			return c > 0
		}
		return hs[i].Address < hs[j].Address
	})
}

func (s HolderSet) Len() int { return len(s.holders) }

// Holders returns copies in set order.
func (s HolderSet) Holders() []Holder {
	out := make([]Holder, len(s.holders))
	for i, h := range s.holders {
		out[i] = Holder{Address: h.Address, Balance: new(big.Int).Set(h.Balance)}
	}
	return out
}

// Addresses returns the holder addresses in set order.
func (s HolderSet) Addresses() []string {
	out := make([]string, len(s.holders))
	for i, h := range s.holders {
		out[i] = h.Address
	}
	return out
}

// Total is the sum of all holder balances.
func (s HolderSet) Total() *big.Int {
	total := new(big.Int)
	for _, h := range s.holders {
		total.Add(total, h.Balance)
	}
	return total
}

// Top returns at most n holders from the head of the set.
func (s HolderSet) Top(n int) []Holder {
	all := s.Holders()
	if n >= 0 && n < len(all) {
		return all[:n]
	}
	return all
}
