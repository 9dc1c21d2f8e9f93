// Package rpc talks to the coin daemon's JSON-RPC interface: network
// difficulty, batched shielded sends and their operation results, and
// unspent-output listing for input selection.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/shopspring/decimal"

	"github.com/NicolasHaas/poolproxy/pkg/model"
)

// DefaultMaxInFlight is used when Config.MaxInFlight is not positive.
const DefaultMaxInFlight = 16

var (
	ErrInvalidDifficulty = errors.New("rpc: invalid difficulty")
	ErrNoInputs          = errors.New("rpc: no spendable inputs")
)

// Config holds coin daemon connection settings.
type Config struct {
	Host string // host:port of the daemon RPC endpoint
	User string
	Pass string
	TLS  bool

	// MaxInFlight caps requests awaiting a reply. The HTTP client has no
	// request timeout, so a hung daemon holds a slot until it answers;
	// callers whose context ends first give up without freeing it.
	MaxInFlight int
}

// Client is a coin daemon JSON-RPC client. It is safe for concurrent use.
type Client struct {
	rpc   *rpcclient.Client
	slots chan struct{}
}

// New creates an HTTP POST mode client; no connection is made until the first call.
func New(cfg Config) (*Client, error) {
	c, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   !cfg.TLS,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: new client: %w", err)
	}
	limit := cfg.MaxInFlight
	if limit <= 0 {
		limit = DefaultMaxInFlight
	}
	return &Client{rpc: c, slots: make(chan struct{}, limit)}, nil
}

// Close stops the client's request handler.
func (c *Client) Close() {
	c.rpc.Shutdown()
	c.rpc.WaitForShutdown()
}

type rawResult struct {
	data json.RawMessage
	err  error
}

// call issues one request and waits for its reply or ctx cancellation.
// At most MaxInFlight requests are outstanding; a cancelled caller leaves its
// request to finish in the background.
func (c *Client) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("rpc: %s: marshal params: %w", method, err)
		}
		raw = append(raw, b)
	}

	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("rpc: %s: waiting for a free slot: %w", method, ctx.Err())
	}

	future := c.rpc.RawRequestAsync(method, raw)
	done := make(chan rawResult, 1)
	go func() {
		defer func() { <-c.slots }()
		data, err := future.Receive()
		done <- rawResult{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("rpc: %s: %w", method, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("rpc: %s: %w", method, r.err)
		}
		return r.data, nil
	}
}

// InFlight returns the number of requests still awaiting a reply.
func (c *Client) InFlight() int {
	return len(c.slots)
}

// Difficulty returns the current network difficulty without passing it
// through a float.
func (c *Client) Difficulty(ctx context.Context) (*big.Rat, error) {
	data, err := c.call(ctx, "getdifficulty")
	if err != nil {
		return nil, err
	}
	return parseDifficulty(data)
}

func parseDifficulty(data json.RawMessage) (*big.Rat, error) {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	d, ok := new(big.Rat).SetString(s)
	if !ok || d.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDifficulty, s)
	}
	return d, nil
}

type sendAmount struct {
	Address string      `json:"address"`
	Amount  json.Number `json:"amount"`
}

// SendMany submits one batched disbursement (z_sendmany) and returns its operation id.
func (c *Client) SendMany(ctx context.Context, from string, recipients []model.Recipient, minConf int, fee decimal.Decimal) (string, error) {
	amounts := make([]sendAmount, 0, len(recipients))
	for _, r := range recipients {
		amounts = append(amounts, sendAmount{
			Address: r.Address,
			Amount:  json.Number(model.FormatAmount(r.Amount)),
		})
	}

	data, err := c.call(ctx, "z_sendmany", from, amounts, minConf, json.Number(model.FormatAmount(fee)))
	if err != nil {
		return "", err
	}
	var opid string
	if err := json.Unmarshal(data, &opid); err != nil {
		return "", fmt.Errorf("rpc: z_sendmany: decode operation id: %w", err)
	}
	return opid, nil
}

// OperationResults returns (and clears on the daemon) every finished operation.
func (c *Client) OperationResults(ctx context.Context) ([]model.Operation, error) {
	data, err := c.call(ctx, "z_getoperationresult")
	if err != nil {
		return nil, err
	}
	var ops []model.Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("rpc: z_getoperationresult: decode: %w", err)
	}
	return ops, nil
}

// Unspent is one entry of listunspent.
type Unspent struct {
	TxID          string          `json:"txid"`
	Vout          uint32          `json:"vout"`
	Address       string          `json:"address"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations int64           `json:"confirmations"`
	Spendable     bool            `json:"spendable"`
}

// ListUnspent returns transparent outputs with at least minConf confirmations.
func (c *Client) ListUnspent(ctx context.Context, minConf int) ([]Unspent, error) {
	data, err := c.call(ctx, "listunspent", minConf)
	if err != nil {
		return nil, err
	}
	var utxos []Unspent
	if err := json.Unmarshal(data, &utxos); err != nil {
		return nil, fmt.Errorf("rpc: listunspent: decode: %w", err)
	}
	return utxos, nil
}
