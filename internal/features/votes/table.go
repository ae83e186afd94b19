package votes

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Entry is one row of the voting-power table.
type Entry struct {
	Address string          `json:"address"`
	Power   decimal.Decimal `json:"vp"`
	State   State           `json:"state"`
}

// Table holds one entry per holder. An address added twice keeps the last lookup.
type Table struct {
	rows map[string]Entry
}

func NewTable() *Table {
	return &Table{rows: make(map[string]Entry)}
}

func (t *Table) Add(l Lookup) {
	t.Set(l.Address, l.Power, l.State)
}

// Set records power for address; negative values are stored as zero.
func (t *Table) Set(address string, power decimal.Decimal, state State) {
	if power.IsNegative() {
		power = decimal.Zero
	}
	address = strings.ToLower(address)
	t.rows[address] = Entry{Address: address, Power: power, State: state}
}

func (t *Table) Len() int { return len(t.rows) }

// Get returns the power of address, zero if absent.
func (t *Table) Get(address string) decimal.Decimal {
	if e, ok := t.rows[strings.ToLower(address)]; ok {
		return e.Power
	}
	return decimal.Zero
}

// Entries returns rows ordered by power descending, ties by ascending address.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.rows))
	for _, e := range t.rows {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Power.Cmp(out[j].Power); c != 0 {
			return c > 0
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Total sums every power in the table.
func (t *Table) Total() decimal.Decimal {
	total := decimal.Zero
	for _, e := range t.rows {
		total = total.Add(e.Power)
	}
	return total
}

// Count returns how many rows ended in state.
func (t *Table) Count(state State) int {
	n := 0
	for _, e := range t.rows {
		if e.State == state {
			n++
		}
	}
	return n
}

// Fallbacks lists the addresses whose power is a fallback zero, sorted.
func (t *Table) Fallbacks() []string {
	var out []string
	for _, e := range t.rows {
		if e.State == Fallback {
			out = append(out, e.Address)
		}
	}
	sort.Strings(out)
	return out
}
