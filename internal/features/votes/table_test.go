package votes

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTableOrdersByPowerThenAddress(t *testing.T) {
	table := NewTable()
	table.Set("0x0C", decimal.NewFromInt(5), Resolved)
	table.Set("0x0a", decimal.RequireFromString("100.25"), Resolved)
	table.Set("0x0b", decimal.NewFromInt(5), Retried)
	table.Set("0x0d", decimal.Zero, Fallback)

	var got []string
	for _, e := range table.Entries() {
		got = append(got, e.Address)
	}
	assert.Equal(t, []string{"0x0a", "0x0b", "0x0c", "0x0d"}, got)
	assert.Equal(t, "110.25", table.Total().String())
	assert.Equal(t, "5", table.Get("0x0C").String())
	assert.True(t, table.Get("0xff").IsZero())
}

func TestTableClampsNegativePower(t *testing.T) {
	table := NewTable()
	table.Set("0x01", decimal.NewFromInt(-3), Resolved)
	assert.True(t, table.Get("0x01").IsZero())
}

func TestTableKeepsLastLookup(t *testing.T) {
	table := NewTable()
	table.Add(Lookup{Address: "0x01", Power: decimal.Zero, State: Fallback})
	table.Add(Lookup{Address: "0x01", Power: decimal.NewFromInt(2), State: Resolved})
	assert.Equal(t, 1, table.Len())
	assert.Empty(t, table.Fallbacks())
}
