// Package model defines the core domain types for the payout proxy.
package model

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AmountDecimals is the number of fractional digits carried by every payout amount.
const AmountDecimals = 8

var ErrAddressEmpty = errors.New("payout address must not be empty")
var ErrAmountNegative = errors.New("payout amount must not be negative")

// PayoutRecord is one earned, not-yet-disbursed amount for an address.
// The proxy creates it unprocessed; the payout daemon later sets
// Processed/ProcessedAt/OperationID and finally TransactionID.
type PayoutRecord struct {
	ID            int64           `json:"id"`
	Address       string          `json:"address"`
	Amount        decimal.Decimal `json:"amount"`
	Processed     bool            `json:"processed"`
	ProcessedAt   time.Time       `json:"processed_at"`   // zero until processed
	OperationID   string          `json:"operation_id"`   // empty until sent
	TransactionID string          `json:"transaction_id"` // empty until reconciled
	CreatedAt     time.Time       `json:"created_at"`
}

// NewPayoutRecord returns an unprocessed record with the amount truncated to AmountDecimals.
func NewPayoutRecord(address string, amount decimal.Decimal) *PayoutRecord {
	return &PayoutRecord{
		Address: address,
		Amount:  amount.Truncate(AmountDecimals),
	}
}

// Validate checks the fields every stored record must carry.
func (r *PayoutRecord) Validate() error {
	if strings.TrimSpace(r.Address) == "" {
		return ErrAddressEmpty
	}
	if r.Amount.IsNegative() {
		return ErrAmountNegative
	}
	return nil
}

// MarkProcessed records that the amount was included in the disbursement operationID.
func (r *PayoutRecord) MarkProcessed(operationID string, at time.Time) {
	r.Processed = true
	r.ProcessedAt = at.UTC()
	r.OperationID = operationID
}

// Reset returns the record to the unpaid pool, e.g. after its operation failed.
func (r *PayoutRecord) Reset() {
	r.Processed = false
	r.ProcessedAt = time.Time{}
	r.OperationID = ""
	r.TransactionID = ""
}

// PayoutFilter narrows a payout query. Nil fields are not filtered on.
type PayoutFilter struct {
	Processed   *bool
	OperationID *string
	Address     *string
}

// Unpaid is the filter used by the payout daemon's send phase.
func Unpaid() PayoutFilter {
	processed := false
	return PayoutFilter{Processed: &processed}
}

// ByOperation matches records disbursed by a single operation.
func ByOperation(operationID string) PayoutFilter {
	return PayoutFilter{OperationID: &operationID}
}

// Match reports whether a record satisfies the filter.
func (f PayoutFilter) Match(r *PayoutRecord) bool {
	if f.Processed != nil && r.Processed != *f.Processed {
		return false
	}
	if f.OperationID != nil && r.OperationID != *f.OperationID {
		return false
	}
	if f.Address != nil && r.Address != *f.Address {
		return false
	}
	return true
}

// Recipient is one entry of a batched disbursement.
type Recipient struct {
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
}

// FormatAmount renders an amount with exactly AmountDecimals fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(AmountDecimals)
}
