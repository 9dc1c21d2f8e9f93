package payout

import (
	"github.com/shopspring/decimal"

	"github.com/NicolasHaas/poolproxy/pkg/model"
)

// BuildSendList sums record amounts per address. Addresses keep the order in
// which they first appear in records.
func BuildSendList(records []model.PayoutRecord) []model.Recipient {
	index := make(map[string]int)
	var list []model.Recipient
	for _, r := range records {
		i, ok := index[r.Address]
		if !ok {
			index[r.Address] = len(list)
			list = append(list, model.Recipient{Address: r.Address, Amount: decimal.Zero})
			i = len(list) - 1
		}
		list[i].Amount = list[i].Amount.Add(r.Amount)
	}
	return list
}

// ApplyFee charges the flat fee split evenly across the recipients and
// truncates each net amount to model.AmountDecimals digits.
//
// A recipient whose total does not exceed its fee share is deferred: it is
// left out of this send and the fee is re-split across the rest.
func ApplyFee(list []model.Recipient, fee decimal.Decimal) (send []model.Recipient, deferred []string) {
	for len(list) > 0 {
		share := fee.Div(decimal.NewFromInt(int64(len(list))))
		kept := list[:0:0]
		for _, r := range list {
			if r.Amount.GreaterThan(share) {
				kept = append(kept, r)
			} else {
				deferred = append(deferred, r.Address)
			}
		}
		if len(kept) == len(list) {
			send = make([]model.Recipient, 0, len(kept))
			for _, r := range kept {
				send = append(send, model.Recipient{
					Address: r.Address,
					Amount:  r.Amount.Sub(share).Truncate(model.AmountDecimals),
				})
			}
			return send, deferred
		}
		list = kept
	}
	return nil, deferred
}
