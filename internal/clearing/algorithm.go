package clearing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/voltmesh/auction-engine/internal/model"
)

// partition splits a pending set into buy and sell books in price-time
// priority: buys by price descending (most aggressive buyer first), sells
// by price ascending (cheapest seller first). Ties break by earliest
// created_at, then by bid ID, so the ordering is total and two runs over
// the same set always walk the books identically.
func partition(bids []model.Bid) (buys, sells []model.Bid) {
	for _, b := range bids {
		if b.Side == model.SideBuy {
			buys = append(buys, b)
		} else {
			sells = append(sells, b)
		}
	}

	sort.Slice(buys, func(i, j int) bool {
		if !buys[i].Price.Equal(buys[j].Price) {
			return buys[i].Price.GreaterThan(buys[j].Price)
		}
		if !buys[i].CreatedAt.Equal(buys[j].CreatedAt) {
			return buys[i].CreatedAt.Before(buys[j].CreatedAt)
		}
		return buys[i].ID < buys[j].ID
	})
	sort.Slice(sells, func(i, j int) bool {
		if !sells[i].Price.Equal(sells[j].Price) {
			return sells[i].Price.LessThan(sells[j].Price)
		}
		if !sells[i].CreatedAt.Equal(sells[j].CreatedAt) {
			return sells[i].CreatedAt.Before(sells[j].CreatedAt)
		}
		return sells[i].ID < sells[j].ID
	})
	return buys, sells
}

// findCross walks cumulative buy quantity against cumulative sell quantity
// and returns the uniform clearing price: the midpoint between the marginal
// buy and marginal sell price at the point where cumulative sell quantity
// first reaches or exceeds cumulative buy quantity. A cross additionally
// requires the marginal buyer to meet the marginal seller (buy ≥ sell);
// otherwise there is no liquidity overlap and the caller falls back to the
// reference price.
func findCross(buys, sells []model.Bid) (decimal.Decimal, bool) {
	if len(buys) == 0 || len(sells) == 0 {
		return decimal.Zero, false
	}

	two := decimal.NewFromInt(2)
	buyCum := decimal.Zero
	sellCum := decimal.Zero
	si := 0

	for _, buy := range buys {
		buyCum = buyCum.Add(buy.Quantity)

		for si < len(sells) && sellCum.LessThan(buyCum) {
			sellCum = sellCum.Add(sells[si].Quantity)
			si++
		}

		if sellCum.GreaterThanOrEqual(buyCum) {
			marginalSell := sells[si-1]
			if buy.Price.LessThan(marginalSell.Price) {
				return decimal.Zero, false
			}
			return buy.Price.Add(marginalSell.Price).Div(two).Round(2), true
		}
	}

	// Sell book exhausted before covering buy demand: no crossing point.
	return decimal.Zero, false
}

// clears reports whether a bid executes at the clearing price: a buy
// clears iff its limit is at or above the price, a sell iff at or below.
// All-or-nothing — no partial fills.
func clears(b *model.Bid, clearingPrice decimal.Decimal) bool {
	if b.Side == model.SideBuy {
		return b.Price.GreaterThanOrEqual(clearingPrice)
	}
	return b.Price.LessThanOrEqual(clearingPrice)
}
