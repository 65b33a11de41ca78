// Package report renders console tables of ledger and backtest results.
package report

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/alanyoungcy/polypaper/internal/backtest"
	"github.com/alanyoungcy/polypaper/internal/paper"
)

// Overview writes one row per tier.
func Overview(w io.Writer, rows []paper.Overview) error {
	tbl := tablewriter.NewWriter(w)
	tbl.Header("Tier", "Bet$", "Start$", "Bankroll$", "Open", "Unreal$", "Real$", "Total$", "Win%")
	for _, r := range rows {
		if err := tbl.Append(
			string(r.Tier),
			usd(r.BetUSD),
			usd(r.BankrollStartUSD),
			usd(r.BankrollUSD),
			fmt.Sprintf("%d", r.OpenPositions),
			signed(r.UnrealizedPnlUSD),
			signed(r.RealizedPnlUSD),
			signed(r.TotalPnlUSD),
			pct(r.WinRatePct),
		); err != nil {
			return fmt.Errorf("report: overview row: %w", err)
		}
	}
	if err := tbl.Render(); err != nil {
		return fmt.Errorf("report: overview: %w", err)
	}
	return nil
}

// Backtest writes the per-tier summary followed by the trade list.
func Backtest(w io.Writer, res backtest.Result) error {
	fmt.Fprintf(w, "windows: %d  traded: %d  skipped: %d\n\n", res.Windows, len(res.Trades), res.Skipped)

	tbl := tablewriter.NewWriter(w)
	tbl.Header("Tier", "Bet$", "Trades", "Wins", "Losses", "Push", "Win%", "PnL$", "Avg$")
	for _, t := range res.Tiers {
		avg := "-"
		if t.AvgPnlUSD != nil {
			avg = signed(*t.AvgPnlUSD)
		}
		if err := tbl.Append(
			string(t.Tier),
			usd(t.BetUSD),
			fmt.Sprintf("%d", t.Trades),
			fmt.Sprintf("%d", t.Wins),
			fmt.Sprintf("%d", t.Losses),
			fmt.Sprintf("%d", t.Pushes),
			pct(t.WinRatePct),
			signed(t.PnlUSD),
			avg,
		); err != nil {
			return fmt.Errorf("report: backtest row: %w", err)
		}
	}
	if err := tbl.Render(); err != nil {
		return fmt.Errorf("report: backtest: %w", err)
	}
	if len(res.Trades) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	trades := tablewriter.NewWriter(w)
	trades.Header("Window", "Entered", "Side", "Entry", "Edge", "Start", "End", "Result")
	for _, tr := range res.Trades {
		result := "loss"
		switch {
		case tr.Push:
			result = "push"
		case tr.Won:
			result = "win"
		}
		if err := trades.Append(
			tr.WindowID,
			tr.EnteredAt.UTC().Format("01-02 15:04:05"),
			string(tr.Side),
			fmt.Sprintf("%.3f", tr.EntryPrice),
			fmt.Sprintf("%.3f", tr.ModelEdge),
			fmt.Sprintf("%.2f", tr.StartPrice),
			fmt.Sprintf("%.2f", tr.EndPrice),
			result,
		); err != nil {
			return fmt.Errorf("report: trade row: %w", err)
		}
	}
	if err := trades.Render(); err != nil {
		return fmt.Errorf("report: trades: %w", err)
	}
	return nil
}

func usd(v float64) string { return fmt.Sprintf("%.2f", v) }

func signed(v float64) string { return fmt.Sprintf("%+.2f", v) }

func pct(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}
