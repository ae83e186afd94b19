package ledger

import (
	"encoding/json"
	"math/big"
	"math/rand/v2"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	addrB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	addrC = common.HexToAddress("0x000000000000000000000000000000000000000c")
)

// balances flattens a ledger for comparisons in tests.
func balances(l *Ledger) map[common.Address]string {
	out := make(map[common.Address]string, l.Len())
	for _, e := range l.Entries() {
		out[e.Address] = e.Balance.String()
	}
	return out
}

func transfer(from, to common.Address, amount int64) Transfer {
	return Transfer{From: from, To: to, Amount: big.NewInt(amount)}
}

func TestApplyRoundTrip(t *testing.T) {
	l := New()
	l.Apply(transfer(addrA, addrB, 100))
	l.Apply(transfer(addrB, addrA, 40))

	assert.Equal(t, "-60", l.Balance(addrA).String())
	assert.Equal(t, "60", l.Balance(addrB).String())
	assert.Equal(t, 0, l.Sum().Sign())
}

func TestApplyMintSkipsZeroAddress(t *testing.T) {
	l := New()
	l.Apply(transfer(ZeroAddress, addrC, 500))

	assert.Equal(t, "500", l.Balance(addrC).String())
	assert.NotContains(t, balances(l), ZeroAddress)
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, "500", l.Sum().String())
}

func TestApplyBurnSkipsZeroAddress(t *testing.T) {
	l := New()
	l.Apply(transfer(ZeroAddress, addrC, 500))
	l.Apply(transfer(addrC, ZeroAddress, 200))

	assert.Equal(t, "300", l.Balance(addrC).String())
	assert.NotContains(t, balances(l), ZeroAddress)
	assert.Equal(t, "300", l.Sum().String())
}

func TestBalanceIsACopy(t *testing.T) {
	l := New()
	l.Apply(transfer(ZeroAddress, addrA, 10))
	l.Balance(addrA).SetInt64(999)
	assert.Equal(t, "10", l.Balance(addrA).String())
	assert.Equal(t, "0", l.Balance(addrB).String())
}

func TestApplyDoesNotAliasAmount(t *testing.T) {
	amount := big.NewInt(7)
	l := New()
	l.Apply(Transfer{From: ZeroAddress, To: addrA, Amount: amount})
	l.Apply(Transfer{From: ZeroAddress, To: addrA, Amount: amount})
	assert.Equal(t, "7", amount.String())
	assert.Equal(t, "14", l.Balance(addrA).String())
}

func TestConservationWithoutZeroAddress(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	addrs := make([]common.Address, 12)
	for i := range addrs {
		addrs[i] = common.BigToAddress(big.NewInt(int64(i + 1)))
	}

	for round := 0; round < 50; round++ {
		l := New()
		for i := 0; i < 200; i++ {
			from := addrs[rng.IntN(len(addrs))]
			to := addrs[rng.IntN(len(addrs))]
			l.Apply(transfer(from, to, rng.Int64N(1_000_000)))
		}
		require.Equal(t, 0, l.Sum().Sign(), "round %d", round)
	}
}

func TestOrderDoesNotMatter(t *testing.T) {
	transfers := []Transfer{
		transfer(ZeroAddress, addrA, 1000),
		transfer(addrA, addrB, 300),
		transfer(addrB, addrC, 100),
		transfer(addrC, ZeroAddress, 50),
	}

	forward := New()
	for _, tr := range transfers {
		forward.Apply(tr)
	}
	backward := New()
	for i := len(transfers) - 1; i >= 0; i-- {
		backward.Apply(transfers[i])
	}
	assert.Equal(t, balances(forward), balances(backward))
}

func TestMerge(t *testing.T) {
	first := New()
	first.Apply(transfer(ZeroAddress, addrA, 100))
	second := New()
	second.Apply(transfer(addrA, addrB, 30))

	first.Merge(second)
	assert.Equal(t, "70", first.Balance(addrA).String())
	assert.Equal(t, "30", first.Balance(addrB).String())
}

func TestLedgerJSON(t *testing.T) {
	l := New()
	l.Apply(transfer(addrA, addrB, 100))
	l.Apply(Transfer{From: ZeroAddress, To: addrC, Amount: new(big.Int).Lsh(big.NewInt(1), 200)})

	data, err := json.Marshal(l)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"0x000000000000000000000000000000000000000a":"-100"`)
	assert.NotContains(t, string(data), "e+")

	restored := New()
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, balances(l), balances(restored))

	assert.Error(t, json.Unmarshal([]byte(`{"nope":"1"}`), New()))
	assert.Error(t, json.Unmarshal([]byte(`{"0x000000000000000000000000000000000000000a":"1.5"}`), New()))
}

func TestEntriesSortedByAddress(t *testing.T) {
	l := New()
	l.Apply(transfer(addrC, addrA, 1))
	l.Apply(transfer(ZeroAddress, addrB, 1))

	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, addrA, entries[0].Address)
	assert.Equal(t, addrB, entries[1].Address)
	assert.Equal(t, addrC, entries[2].Address)
}
