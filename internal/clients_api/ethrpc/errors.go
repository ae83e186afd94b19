package ethrpc

import (
	"encoding/json"
	"fmt"
)

// RPCError is the error object a node returned in a JSON-RPC response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`

	Method string `json:"-"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("%s: rpc error %d: %s (%s)", e.Method, e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("%s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

// TransportError covers everything between us and a well-formed JSON-RPC response:
// dial, TLS, HTTP status, body read and JSON decoding.
type TransportError struct {
	Method   string
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s via %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
