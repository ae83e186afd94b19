package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"holders-snapshot/internal/clients_api/ethrpc"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Transfer is one decoded ERC-20 Transfer event.
type Transfer struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// MalformedLogError means a log does not have the shape of an ERC-20 Transfer.
type MalformedLogError struct {
	TxHash   common.Hash
	LogIndex uint
	Block    uint64
	Reason   string
}

func (e *MalformedLogError) Error() string {
	return fmt.Sprintf("malformed transfer log (block %d, tx %s, index %d): %s", e.Block, e.TxHash.Hex(), e.LogIndex, e.Reason)
}

// Decode turns a log into a Transfer. The event signature is not checked; callers
// filter by topic and contract when requesting logs.
func Decode(log ethrpc.Log) (Transfer, error) {
	malformed := func(format string, args ...any) error {
		return &MalformedLogError{
			TxHash:   log.TxHash,
			LogIndex: uint(log.LogIndex),
			Block:    uint64(log.BlockNumber),
			Reason:   fmt.Sprintf(format, args...),
		}
	}

	if len(log.Topics) < 3 {
		return Transfer{}, malformed("expected 3 topics, got %d", len(log.Topics))
	}

	from, err := topicAddress(log.Topics[1])
	if err != nil {
		return Transfer{}, malformed("sender topic: %v", err)
	}
	to, err := topicAddress(log.Topics[2])
	if err != nil {
		return Transfer{}, malformed("recipient topic: %v", err)
	}

	raw, err := hexutil.Decode(log.Data)
	if err != nil {
		return Transfer{}, malformed("data %q: %v", log.Data, err)
	}
	if len(raw) == 0 {
		return Transfer{}, malformed("empty data")
	}

	amount := new(big.Int).SetBytes(raw)
	if _, overflow := uint256.FromBig(amount); overflow {
		return Transfer{}, malformed("amount exceeds 256 bits")
	}

	return Transfer{From: from, To: to, Amount: amount}, nil
}

// topicAddress takes the low 20 bytes of a 32-byte topic slot.
func topicAddress(topic string) (common.Address, error) {
	b, err := hexutil.Decode(topic)
	if err != nil {
		return common.Address{}, err
	}
	if len(b) != common.HashLength {
		return common.Address{}, fmt.Errorf("expected %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToAddress(b[common.HashLength-common.AddressLength:]), nil
}
