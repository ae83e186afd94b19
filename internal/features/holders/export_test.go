package holders

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"holders-snapshot/internal/features/ledger"
)

var (
	addrA = common.HexToAddress("0x000000000000000000000000000000000000000A")
	addrB = common.HexToAddress("0x000000000000000000000000000000000000000B")
	addrC = common.HexToAddress("0x000000000000000000000000000000000000000C")
	addrD = common.HexToAddress("0x000000000000000000000000000000000000000D")
)

func apply(l *ledger.Ledger, from, to common.Address, amount int64) {
	l.Apply(ledger.Transfer{From: from, To: to, Amount: big.NewInt(amount)})
}

func TestExportKeepsOnlyPositiveBalances(t *testing.T) {
	l := ledger.New()
	apply(l, addrA, addrB, 100)
	apply(l, addrB, addrA, 40)
	apply(l, ledger.ZeroAddress, addrC, 5)
	apply(l, addrC, addrD, 5)
	apply(l, addrD, ledger.ZeroAddress, 5)

	require.Equal(t, "-60", l.Balance(addrA).String())
	require.Equal(t, "0", l.Balance(addrC).String())
	require.Equal(t, "0", l.Balance(addrD).String())

	set := Export(l)
	assert.Equal(t, []string{"0x000000000000000000000000000000000000000b"}, set.Addresses())
	assert.Equal(t, "60", set.Total().String())
}

func TestExportDropsNetNegativeBalances(t *testing.T) {
	l := ledger.New()
	apply(l, ledger.ZeroAddress, addrA, 10)
	apply(l, addrA, addrB, 25)
	apply(l, addrC, addrD, 1)

	set := Export(l)
	assert.Equal(t, []string{
		"0x000000000000000000000000000000000000000b",
		"0x000000000000000000000000000000000000000d",
	}, set.Addresses())
	assert.Equal(t, "26", set.Total().String())
}

func TestExportOrdersByBalanceThenAddress(t *testing.T) {
	l := ledger.New()
	apply(l, ledger.ZeroAddress, addrD, 10)
	apply(l, ledger.ZeroAddress, addrB, 50)
	apply(l, ledger.ZeroAddress, addrC, 10)
	apply(l, ledger.ZeroAddress, addrA, 10)

	set := Export(l)
	require.Equal(t, 4, set.Len())
	assert.Equal(t, []string{
		"0x000000000000000000000000000000000000000b",
		"0x000000000000000000000000000000000000000a",
		"0x000000000000000000000000000000000000000c",
		"0x000000000000000000000000000000000000000d",
	}, set.Addresses())

	hs := set.Holders()
	for i := 1; i < len(hs); i++ {
		assert.True(t, hs[i-1].Balance.Cmp(hs[i].Balance) >= 0)
	}
}

func TestExportIsDeterministic(t *testing.T) {
	build := func() []string {
		l := ledger.New()
		for i := int64(1); i <= 40; i++ {
			apply(l, ledger.ZeroAddress, common.BigToAddress(big.NewInt(i)), i%4+1)
		}
		return Export(l).Addresses()
	}
	first := build()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, build())
	}
}

func TestHoldersAreCopies(t *testing.T) {
	l := ledger.New()
	apply(l, ledger.ZeroAddress, addrA, 10)
	set := Export(l)
	set.Holders()[0].Balance.SetInt64(0)
	assert.Equal(t, "10", set.Holders()[0].Balance.String())
}

func TestTop(t *testing.T) {
	l := ledger.New()
	apply(l, ledger.ZeroAddress, addrC, 3)
	apply(l, ledger.ZeroAddress, addrA, 9)

	set := Export(l)
	require.Len(t, set.Top(1), 1)
	assert.Equal(t, "0x000000000000000000000000000000000000000a", set.Top(1)[0].Address)
	assert.Len(t, set.Top(10), 2)
}
