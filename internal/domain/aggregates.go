package domain

// RecomputeAggregates derives portfolio-level totals from the current
// holdings and the latest known quotes. It is the only way aggregate fields
// are produced: callers overwrite Portfolio.Totals with the result after every
// mirror update, so stored and derived state cannot drift apart.
//
// A holding with no quote is valued at its average price (zero gain), matching
// the offline behavior where the purchase price is the best known price.
func RecomputeAggregates(holdings []Holding, quotes map[string]QuoteInfo) Aggregates {
	var agg Aggregates

	for _, h := range holdings {
		price := h.AveragePrice
		dayChange := 0.0
		if info, ok := quotes[h.Ticker]; ok && info.Price > 0 {
			price = info.Price
			dayChange = info.DayChange
		}

		agg.TotalValue += price * h.Shares
		agg.TotalCost += h.AveragePrice * h.Shares
		agg.TodayGain += dayChange * h.Shares
	}

	agg.TotalGain = agg.TotalValue - agg.TotalCost
	if agg.TotalCost > 0 {
		agg.TotalGainPct = (agg.TotalGain / agg.TotalCost) * 100
	}
	if agg.TotalValue > 0 {
		agg.TodayGainPct = (agg.TodayGain / agg.TotalValue) * 100
	}

	return agg
}
