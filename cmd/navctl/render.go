package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/warp/nav-engine/valuation"
)

// inr formats a rupee amount, rounded to paise.
func inr(amount decimal.Decimal) string {
	cur := money.New(0, money.INR).Currency()
	minor := amount.Round(int32(cur.Fraction)).Shift(int32(cur.Fraction)).IntPart()
	return money.New(minor, money.INR).Display()
}

func renderValue(w io.Writer, report *valuation.ValueReport) error {
	r := report.Rounded()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SCHEME\tUNITS\tNAV\tCURRENT\tINVESTED\tP&L\tNAV DATE\t")
	for _, h := range r.Holdings {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			h.Code, h.Units.String(), h.Price.StringFixed(4),
			inr(h.CurrentValue), inr(h.InvestedValue), inr(h.ProfitLoss), h.NavDate)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nCurrent value:    %s\n", inr(r.CurrentValue))
	fmt.Fprintf(w, "Total investment: %s\n", inr(r.TotalInvestment))
	fmt.Fprintf(w, "Profit/loss:      %s (%s%%)\n", inr(r.ProfitLoss), r.ProfitLossPercent.StringFixed(2))
	fmt.Fprintf(w, "As on:            %s\n", r.AsOn)
	return nil
}

func renderHistory(w io.Writer, report *valuation.HistoryReport) error {
	fmt.Fprintf(w, "%d %s\n", report.Code, report.Name)
	fmt.Fprintf(w, "Current NAV %s as on %s\n\n", report.CurrentNAV.StringFixed(4), report.AsOn)

	if len(report.History) == 0 {
		fmt.Fprintln(w, "no history available")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tNAV")
	for _, p := range report.History {
		fmt.Fprintf(tw, "%s\t%s\n", p.Date.String(), p.Price.StringFixed(4))
	}
	return tw.Flush()
}
