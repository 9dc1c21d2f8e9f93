package payout

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/poolproxy/pkg/model"
)

func rec(addr, amount string) model.PayoutRecord {
	return model.PayoutRecord{Address: addr, Amount: decimal.RequireFromString(amount)}
}

type formatted struct {
	Address string
	Amount  string
}

func format(list []model.Recipient) []formatted {
	out := make([]formatted, 0, len(list))
	for _, r := range list {
		out = append(out, formatted{r.Address, model.FormatAmount(r.Amount)})
	}
	return out
}

func TestBuildSendListAggregatesInFirstSeenOrder(t *testing.T) {
	list := BuildSendList([]model.PayoutRecord{
		rec("B", "0.5"),
		rec("A", "3"),
		rec("B", "0.25"),
		rec("A", "2"),
	})
	assert.Equal(t, []formatted{{"B", "0.75000000"}, {"A", "5.00000000"}}, format(list))
}

func TestApplyFeeSplitsEvenly(t *testing.T) {
	list := BuildSendList([]model.PayoutRecord{rec("A", "3"), rec("A", "2"), rec("B", "5")})

	send, deferred := ApplyFee(list, decimal.RequireFromString("0.0001"))
	assert.Empty(t, deferred)
	assert.Equal(t, []formatted{{"A", "4.99995000"}, {"B", "4.99995000"}}, format(send))
}

func TestApplyFeeTruncatesUnevenSplit(t *testing.T) {
	list := []model.Recipient{
		{Address: "A", Amount: decimal.NewFromInt(1)},
		{Address: "B", Amount: decimal.NewFromInt(1)},
		{Address: "C", Amount: decimal.NewFromInt(1)},
	}
	send, _ := ApplyFee(list, decimal.RequireFromString("0.0001"))
	require.Len(t, send, 3)

	total := decimal.Zero
	for _, r := range send {
		assert.Equal(t, "0.99996666", model.FormatAmount(r.Amount))
		total = total.Add(r.Amount)
	}
	// Truncation never sends more than was owed minus the fee.
	assert.True(t, total.Add(decimal.RequireFromString("0.0001")).LessThanOrEqual(decimal.NewFromInt(3)))
}

func TestApplyFeeDefersDust(t *testing.T) {
	list := []model.Recipient{
		{Address: "A", Amount: decimal.RequireFromString("1")},
		{Address: "dust", Amount: decimal.RequireFromString("0.00003")},
		{Address: "B", Amount: decimal.RequireFromString("2")},
	}
	send, deferred := ApplyFee(list, decimal.RequireFromString("0.0001"))

	assert.Equal(t, []string{"dust"}, deferred)
	assert.Equal(t, []formatted{{"A", "0.99995000"}, {"B", "1.99995000"}}, format(send))
}

func TestApplyFeeAllDust(t *testing.T) {
	list := []model.Recipient{{Address: "A", Amount: decimal.RequireFromString("0.0001")}}
	send, deferred := ApplyFee(list, decimal.RequireFromString("0.0001"))
	assert.Empty(t, send)
	assert.Equal(t, []string{"A"}, deferred)
}

func TestApplyFeeZeroFee(t *testing.T) {
	list := []model.Recipient{{Address: "A", Amount: decimal.RequireFromString("0.123456789")}}
	send, deferred := ApplyFee(list, decimal.Zero)
	assert.Empty(t, deferred)
	assert.Equal(t, []formatted{{"A", "0.12345678"}}, format(send))
}
