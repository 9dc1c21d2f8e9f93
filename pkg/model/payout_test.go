package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewPayoutRecordTruncates(t *testing.T) {
	r := NewPayoutRecord("t1abc", decimal.RequireFromString("0.123456789"))
	if got := FormatAmount(r.Amount); got != "0.12345678" {
		t.Fatalf("amount = %s, want 0.12345678", got)
	}
	if r.Processed {
		t.Fatalf("new record must be unprocessed")
	}
}

func TestPayoutRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     PayoutRecord
		wantErr error
	}{
		{"valid", PayoutRecord{Address: "t1abc", Amount: decimal.NewFromInt(1)}, nil},
		{"zero amount", PayoutRecord{Address: "t1abc"}, nil},
		{"empty address", PayoutRecord{Amount: decimal.NewFromInt(1)}, ErrAddressEmpty},
		{"blank address", PayoutRecord{Address: "  ", Amount: decimal.NewFromInt(1)}, ErrAddressEmpty},
		{"negative", PayoutRecord{Address: "t1abc", Amount: decimal.NewFromInt(-1)}, ErrAmountNegative},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.rec.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMarkProcessedAndReset(t *testing.T) {
	r := NewPayoutRecord("t1abc", decimal.NewFromInt(1))
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	r.MarkProcessed("opid-1", at)
	if !r.Processed || r.OperationID != "opid-1" || !r.ProcessedAt.Equal(at) {
		t.Fatalf("MarkProcessed: got %+v", r)
	}

	r.TransactionID = "tx"
	r.Reset()
	if r.Processed || r.OperationID != "" || !r.ProcessedAt.IsZero() || r.TransactionID != "" {
		t.Fatalf("Reset: got %+v", r)
	}
}

func TestPayoutFilterMatch(t *testing.T) {
	unpaid := &PayoutRecord{Address: "A"}
	paid := &PayoutRecord{Address: "B", Processed: true, OperationID: "op"}
	addr := "A"

	tests := []struct {
		name   string
		filter PayoutFilter
		rec    *PayoutRecord
		want   bool
	}{
		{"empty filter matches unpaid", PayoutFilter{}, unpaid, true},
		{"empty filter matches paid", PayoutFilter{}, paid, true},
		{"unpaid filter", Unpaid(), unpaid, true},
		{"unpaid filter rejects paid", Unpaid(), paid, false},
		{"by operation", ByOperation("op"), paid, true},
		{"by operation mismatch", ByOperation("other"), paid, false},
		{"by address", PayoutFilter{Address: &addr}, unpaid, true},
		{"by address mismatch", PayoutFilter{Address: &addr}, paid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(tt.rec); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}
