package rpc

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// InputSelector picks the address a batched send debits from.
type InputSelector struct {
	client  *Client
	minConf int
}

// NewInputSelector selects among outputs with at least minConf confirmations.
func NewInputSelector(c *Client, minConf int) *InputSelector {
	return &InputSelector{client: c, minConf: minConf}
}

// FindInputs returns the spendable address holding the largest confirmed balance.
func (s *InputSelector) FindInputs(ctx context.Context) (string, error) {
	utxos, err := s.client.ListUnspent(ctx, s.minConf)
	if err != nil {
		return "", err
	}
	address, _, err := largestBalance(utxos)
	return address, err
}

func largestBalance(utxos []Unspent) (string, decimal.Decimal, error) {
	balances := make(map[string]decimal.Decimal)
	var order []string
	for _, u := range utxos {
		if !u.Spendable || u.Address == "" {
			continue
		}
		if _, seen := balances[u.Address]; !seen {
			order = append(order, u.Address)
		}
		balances[u.Address] = balances[u.Address].Add(u.Amount)
	}

	var (
		best    string
		bestBal decimal.Decimal
	)
	for _, addr := range order {
		if best == "" || balances[addr].GreaterThan(bestBal) {
			best, bestBal = addr, balances[addr]
		}
	}
	if best == "" {
		return "", decimal.Zero, fmt.Errorf("%w (%d outputs)", ErrNoInputs, len(utxos))
	}
	return best, bestBal, nil
}
