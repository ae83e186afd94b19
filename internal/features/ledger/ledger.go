package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroAddress is the mint/burn endpoint; it never gets a ledger entry.
var ZeroAddress = common.Address{}

// Ledger maps addresses to signed balances. Absent addresses have balance 0.
// Only the goroutine that builds it may mutate it.
type Ledger struct {
	balances map[common.Address]*big.Int
}

func New() *Ledger {
	return &Ledger{balances: make(map[common.Address]*big.Int)}
}

// Apply debits the sender and credits the recipient, skipping the zero address on either side.
func (l *Ledger) Apply(t Transfer) {
	if t.From != ZeroAddress {
		l.add(t.From, new(big.Int).Neg(t.Amount))
	}
	if t.To != ZeroAddress {
		l.add(t.To, t.Amount)
	}
}

func (l *Ledger) add(addr common.Address, delta *big.Int) {
	bal, ok := l.balances[addr]
	if !ok {
		bal = new(big.Int)
		l.balances[addr] = bal
	}
	bal.Add(bal, delta)
}

// Balance returns a copy of the balance of addr (0 if absent).
func (l *Ledger) Balance(addr common.Address) *big.Int {
	if bal, ok := l.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (l *Ledger) Len() int { return len(l.balances) }

// Sum is the net of all entries: minted minus burned within the scanned range.
func (l *Ledger) Sum() *big.Int {
	sum := new(big.Int)
	for _, bal := range l.balances {
		sum.Add(sum, bal)
	}
	return sum
}

// Entry is one address and its signed balance.
type Entry struct {
	Address common.Address
	Balance *big.Int
}

// Entries returns copies of every entry ordered by address bytes.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l.balances))
	for addr, bal := range l.balances {
		out = append(out, Entry{Address: addr, Balance: new(big.Int).Set(bal)})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}

// Merge adds every balance of other into l. Transfers commute, so merging the ledgers
// of disjoint block ranges equals scanning their union.
func (l *Ledger) Merge(other *Ledger) {
	for addr, bal := range other.balances {
		l.add(addr, bal)
	}
}

// MarshalJSON writes {"0xaddr": "-123", ...} with base-10 balances and sorted keys.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	m := make(map[string]string, len(l.balances))
	for addr, bal := range l.balances {
		m[strings.ToLower(addr.Hex())] = bal.String()
	}
	return json.Marshal(m)
}

func (l *Ledger) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	l.balances = make(map[common.Address]*big.Int, len(m))
	for key, value := range m {
		if !common.IsHexAddress(key) {
			return fmt.Errorf("invalid ledger address %q", key)
		}
		bal, ok := new(big.Int).SetString(value, 10)
		if !ok {
			return fmt.Errorf("invalid ledger balance %q for %s", value, key)
		}
		l.balances[common.HexToAddress(key)] = bal
	}
	return nil
}
