package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarketOdds(t *testing.T) {
	m := Market{
		Outcomes: []Outcome{
			{ID: "a", TotalStaked: 1000},
			{ID: "b", TotalStaked: 3000},
			{ID: "c"},
		},
		TotalStaked: 4000,
	}
	assert.Equal(t, "4", m.Odds("a").String())
	assert.Equal(t, "1.3333", m.Odds("b").String())
	assert.True(t, m.Odds("c").IsZero())
	assert.True(t, m.Odds("missing").IsZero())
	assert.Equal(t, "75", m.ImpliedProbability("b").String())
	assert.True(t, m.StakeBalanced())

	m.TotalStaked++
	assert.False(t, m.StakeBalanced())
}

func TestMarketCloneIsDeep(t *testing.T) {
	w := "a"
	m := Market{Outcomes: []Outcome{{ID: "a"}}, WinningOutcomeID: &w}
	c := m.Clone()
	c.Outcomes[0].TotalStaked = 9
	*c.WinningOutcomeID = "b"
	assert.Zero(t, m.Outcomes[0].TotalStaked)
	assert.Equal(t, "a", *m.WinningOutcomeID)
}

func TestIsExpired(t *testing.T) {
	m := Market{ExpiryTime: 100}
	assert.False(t, m.IsExpired(99))
	assert.True(t, m.IsExpired(100))
}

func TestCategoryValid(t *testing.T) {
	assert.True(t, CategoryEconomics.Valid())
	assert.False(t, MarketCategory("weather").Valid())
	assert.False(t, MarketCategory("").Valid())
}
