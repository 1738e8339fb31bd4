package app

import "tradebridge/internal/domain"

// TradeStats summarizes trade history for the dashboard endpoints.
// TotalPNL and the win/loss split cover closed trades only; unrealized
// P&L on open trades is reported separately.
type TradeStats struct {
	Total         int     `json:"total"`
	Open          int     `json:"open"`
	Closed        int     `json:"closed"`
	Simulated     int     `json:"simulated"`
	Errored       int     `json:"errored"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	TotalPNL      float64 `json:"totalPnl"`
	UnrealizedPNL float64 `json:"unrealizedPnl"`
	WinRate       float64 `json:"winRate"`
}

// BuildStats computes aggregate statistics over a set of trades.
func BuildStats(trades []*domain.Trade) TradeStats {
	var stats TradeStats
	stats.Total = len(trades)

	for _, t := range trades {
		switch t.Status {
		case domain.StatusOpen:
			stats.Open++
			if t.PNL != nil {
				stats.UnrealizedPNL += *t.PNL
			}
		case domain.StatusClosed:
			stats.Closed++
			if t.PNL != nil {
				stats.TotalPNL += *t.PNL
				if *t.PNL > 0 {
					stats.Wins++
				} else if *t.PNL < 0 {
					stats.Losses++
				}
			}
		case domain.StatusSimulated:
			stats.Simulated++
		case domain.StatusError:
			stats.Errored++
		}
	}

	if decided := stats.Wins + stats.Losses; decided > 0 {
		stats.WinRate = float64(stats.Wins) / float64(decided) * 100
	}
	return stats
}
