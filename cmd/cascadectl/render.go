package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/alanyoungcy/cascade/internal/domain"
	"github.com/alanyoungcy/cascade/internal/ledger"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	activeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	resolvedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	expiredStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	winnerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	lossStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	errorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))

	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

// printer renders API results as styled tables, or as JSON with -json.
type printer struct {
	json bool
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func (p printer) markets(markets []ledger.MarketView, total int) error {
	if p.json {
		return printJSON(markets)
	}
	t := newTable("ID", "QUESTION", "CATEGORY", "STATUS", "POOL", "EXPIRES", "PARENT")
	for _, m := range markets {
		parent := ""
		if m.ParentID != nil {
			parent = *m.ParentID
		}
		t.Row(m.ID, m.Question, string(m.Category), statusText(m), fmtAmount(m.TotalStaked), fmtMicros(m.ExpiryTime), parent)
	}
	fmt.Println(titleStyle.Render(fmt.Sprintf("Markets (%d of %d)", len(markets), total)))
	fmt.Println(t.Render())
	return nil
}

func (p printer) market(m ledger.MarketView) error {
	if p.json {
		return printJSON(m)
	}
	fmt.Println(titleStyle.Render(m.ID + "  " + m.Question))
	fmt.Println(labelStyle.Render("status   ") + statusText(m))
	fmt.Println(labelStyle.Render("category ") + string(m.Category))
	fmt.Println(labelStyle.Render("pool     ") + fmtAmount(m.TotalStaked))
	fmt.Println(labelStyle.Render("expires  ") + fmtMicros(m.ExpiryTime))
	if m.ParentID != nil {
		fmt.Println(labelStyle.Render("parent   ") + *m.ParentID)
	}

	winner := ""
	if m.WinningOutcomeID != nil {
		winner = *m.WinningOutcomeID
	}
	t := newTable("OUTCOME", "NAME", "STAKED", "ODDS", "PROB %")
	for _, o := range m.Outcomes {
		name := o.Name
		if o.ID == winner {
			name = winnerStyle.Render(name + " ✓")
		}
		t.Row(o.ID, name, fmtAmount(o.TotalStaked), o.Odds.String(), o.ImpliedProbability.String())
	}
	fmt.Println(t.Render())
	return nil
}

func (p printer) bets(bets []domain.Bet) error {
	if p.json {
		return printJSON(bets)
	}
	t := newTable("BET", "OWNER", "MARKET", "OUTCOME", "AMOUNT", "CLAIMED")
	for _, b := range bets {
		claimed := "no"
		if b.Claimed {
			claimed = "yes"
		}
		t.Row(b.ID, string(b.Owner), b.MarketID, b.OutcomeID, fmtAmount(b.Amount), claimed)
	}
	fmt.Println(titleStyle.Render(fmt.Sprintf("Bets (%d)", len(bets))))
	fmt.Println(t.Render())
	return nil
}

func (p printer) estimate(e ledger.Estimate) error {
	if p.json {
		return printJSON(e)
	}
	fmt.Println(titleStyle.Render("Estimate " + e.MarketID + " / " + e.OutcomeID))
	fmt.Println(labelStyle.Render("stake            ") + fmtAmount(e.Amount))
	fmt.Println(labelStyle.Render("payout if it wins ") + winnerStyle.Render(fmtAmount(e.Payout)))
	fmt.Println(labelStyle.Render("odds after stake ") + e.Odds.String())
	fmt.Println(labelStyle.Render("probability %    ") + e.ImpliedProbability.String())
	return nil
}

func (p printer) receipt(r ledger.Receipt) error {
	if p.json {
		return printJSON(r)
	}
	fmt.Println(titleStyle.Render(string(r.Operation)))
	rows := [][2]string{
		{"market", r.MarketID},
		{"bet", r.BetID},
		{"outcome", r.OutcomeID},
	}
	if r.Amount > 0 {
		rows = append(rows, [2]string{"amount", fmtAmount(r.Amount)})
	}
	if r.Payout > 0 {
		rows = append(rows, [2]string{"payout", winnerStyle.Render(fmtAmount(r.Payout))})
	}
	for _, row := range rows {
		if row[1] != "" {
			fmt.Println(labelStyle.Render(fmt.Sprintf("%-8s", row[0])) + row[1])
		}
	}
	return nil
}

func (p printer) leaderboard(entries []ledger.LeaderboardEntry) error {
	if p.json {
		return printJSON(entries)
	}
	t := newTable("#", "OWNER", "BETS", "WINS", "WIN %", "VOLUME", "PROFIT")
	for i, e := range entries {
		profit := e.Profit.String()
		if e.Profit.IsNegative() {
			profit = lossStyle.Render(profit)
		} else if e.Profit.IsPositive() {
			profit = winnerStyle.Render(profit)
		}
		t.Row(strconv.Itoa(i+1), string(e.Owner), strconv.Itoa(e.Bets), strconv.Itoa(e.Wins),
			e.WinRate.String(), fmtAmount(e.Volume), profit)
	}
	fmt.Println(titleStyle.Render("Leaderboard"))
	fmt.Println(t.Render())
	return nil
}

func (p printer) kv(fields map[string]any) error {
	if p.json {
		return printJSON(fields)
	}
	keys := make([]string, 0, len(fields))
	width := 0
	for k := range fields {
		keys = append(keys, k)
		width = max(width, len(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Println(labelStyle.Render(fmt.Sprintf("%-*s ", width, k)) + fmt.Sprint(fields[k]))
	}
	return nil
}

func statusText(m ledger.MarketView) string {
	switch {
	case m.Status == domain.MarketStatusResolved:
		return resolvedStyle.Render(string(m.Status))
	case m.Expired:
		return expiredStyle.Render(string(m.Status) + " (expired)")
	default:
		return activeStyle.Render(string(m.Status))
	}
}

func fmtMicros(us uint64) string {
	return time.UnixMicro(int64(us)).UTC().Format("2006-01-02 15:04 MST")
}

// fmtAmount groups digits in thousands.
func fmtAmount(v uint64) string {
	s := strconv.FormatUint(v, 10)
	if len(s) <= 3 {
		return s
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	lead := len(s) % 3
	if lead > 0 {
		out = append(out, s[:lead]...)
	}
	for i := lead; i < len(s); i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}
