package ethrpc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Log is an eth_getLogs entry. Topics and Data stay as raw hex strings so a record with
// a bad payload is rejected by the decoder alone. The metadata fields are strictly typed:
// a bad blockNumber, transactionHash or logIndex fails the whole response.
type Log struct {
	Address     common.Address `json:"address"`
	Topics      []string       `json:"topics"`
	Data        string         `json:"data"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	TxHash      common.Hash    `json:"transactionHash"`
	LogIndex    hexutil.Uint   `json:"logIndex"`
	Removed     bool           `json:"removed"`
}

// LogFilter is the eth_getLogs filter object; block bounds are inclusive.
type LogFilter struct {
	FromBlock uint64
	ToBlock   uint64
	Address   common.Address
	Topics    []common.Hash
}

func (f LogFilter) MarshalJSON() ([]byte, error) {
	topics := make([]string, 0, len(f.Topics))
	for _, t := range f.Topics {
		topics = append(topics, t.Hex())
	}
	return json.Marshal(struct {
		FromBlock string   `json:"fromBlock"`
		ToBlock   string   `json:"toBlock"`
		Address   string   `json:"address"`
		Topics    []string `json:"topics"`
	}{
		FromBlock: hexutil.EncodeUint64(f.FromBlock),
		ToBlock:   hexutil.EncodeUint64(f.ToBlock),
		Address:   strings.ToLower(f.Address.Hex()),
		Topics:    topics,
	})
}

// GetLogs calls eth_getLogs with a single filter object.
func (c *Client) GetLogs(ctx context.Context, filter LogFilter) ([]Log, error) {
	var logs []Log
	if err := c.Call(ctx, "eth_getLogs", &logs, filter); err != nil {
		return nil, err
	}
	return logs, nil
}
