package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cascade/internal/domain"
)

// OutcomeView is an outcome with its current odds.
type OutcomeView struct {
	domain.Outcome
	Odds               decimal.Decimal `json:"odds"`
	ImpliedProbability decimal.Decimal `json:"implied_probability"`
}

// MarketView is the read representation of a market. Expired reports
// whether the expiry time has passed; the stored status is left as is.
type MarketView struct {
	domain.Market
	Outcomes []OutcomeView `json:"outcomes"`
	Expired  bool          `json:"expired"`
}

// NewMarketView decorates m as seen at now (microseconds).
func NewMarketView(m domain.Market, now uint64) MarketView {
	outcomes := make([]OutcomeView, len(m.Outcomes))
	for i, o := range m.Outcomes {
		outcomes[i] = OutcomeView{
			Outcome:            o,
			Odds:               m.Odds(o.ID),
			ImpliedProbability: m.ImpliedProbability(o.ID),
		}
	}
	return MarketView{
		Market:   m,
		Outcomes: outcomes,
		Expired:  m.IsExpired(now),
	}
}

// NewMarketViews decorates a list of markets.
func NewMarketViews(markets []domain.Market, now uint64) []MarketView {
	out := make([]MarketView, len(markets))
	for i, m := range markets {
		out[i] = NewMarketView(m, now)
	}
	return out
}
