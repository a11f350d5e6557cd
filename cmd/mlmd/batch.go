package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const atFlagName = "at"

func init() {
	rootCmd.AddCommand(dailyTickCmd, matureCmd, reconcileCmd)
	dailyTickCmd.Flags().String(atFlagName, "", "Run as of this RFC 3339 time instead of now")
	matureCmd.Flags().String(atFlagName, "", "Run as of this RFC 3339 time instead of now")
}

func asOf(cmd *cobra.Command) (time.Time, error) {
	at, err := cmd.Flags().GetString(atFlagName)
	if err != nil || at == "" {
		return time.Now(), err
	}
	return time.Parse(time.RFC3339, at)
}

var dailyTickCmd = &cobra.Command{
	Use:   "daily-tick",
	Short: "Pay daily and daily team income to every active member not yet paid today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		now, err := asOf(cmd)
		if err != nil {
			return err
		}
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.engine.OnDailyTick(cmd.Context(), now)
		fmt.Fprintf(cmd.OutOrStdout(), "day %s: %d members, %d daily credits, %d team credits (₹%s), %d blocked, %d failed\n",
			report.Day, report.Members, report.DailyCredits, report.TeamCredits, report.TeamIncomeTotal.StringFixed(2), report.Blocked, report.Failed)
		return err
	},
}

var matureCmd = &cobra.Command{
	Use:   "mature-investments",
	Short: "Pay out every investment that has reached its maturity date",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		now, err := asOf(cmd)
		if err != nil {
			return err
		}
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.investments.MatureDue(cmd.Context(), now)
		fmt.Fprintf(cmd.OutOrStdout(), "%d investments matured\n", n)
		return err
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <member-id>",
	Short: "Recompute a member's matrix counters from the referral tree and pay what is owed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.engine.Reconcile(cmd.Context(), args[0])
		out := cmd.OutOrStdout()
		for _, r := range results {
			status := "open"
			if r.Completed {
				status = "completed"
			}
			fmt.Fprintf(out, "level %d: %d/%d %s", r.Level, r.Count, a.engine.Matrix().Capacity(r.Level), status)
			if r.Paid != nil {
				fmt.Fprintf(out, ", paid ₹%s", r.Paid.Amount.StringFixed(2))
			}
			fmt.Fprintln(out)
		}
		return err
	},
}
