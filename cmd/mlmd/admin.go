package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

const reasonFlagName = "reason"

func init() {
	rootCmd.AddCommand(issueCodesCmd, approveWithdrawalCmd, rejectWithdrawalCmd, blockCmd, unblockCmd)
	issueCodesCmd.Flags().String(reasonFlagName, "", "Why the codes were issued, kept for audit")
}

var issueCodesCmd = &cobra.Command{
	Use:   "issue-codes <member-id> <count>",
	Short: "Issue activation codes to a member",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("count must be a number: %w", err)
		}
		reason, err := cmd.Flags().GetString(reasonFlagName)
		if err != nil {
			return err
		}
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		codes, err := a.members.IssueCodes(cmd.Context(), args[0], n, reason)
		if err != nil {
			return err
		}
		for _, c := range codes {
			fmt.Fprintln(cmd.OutOrStdout(), c.Code)
		}
		return nil
	},
}

var approveWithdrawalCmd = &cobra.Command{
	Use:   "approve-withdrawal <withdrawal-id> <payment-reference>",
	Short: "Mark a pending withdrawal as paid out",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		w, err := a.engine.Withdrawals().Approve(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "withdrawal %s approved, ₹%s\n", w.ID, w.Amount.StringFixed(2))
		return nil
	},
}

var rejectWithdrawalCmd = &cobra.Command{
	Use:   "reject-withdrawal <withdrawal-id> <reason>",
	Short: "Reject a pending withdrawal and refund the member",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		w, err := a.engine.OnWithdrawalRejected(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "withdrawal %s rejected, ₹%s refunded\n", w.ID, w.Amount.StringFixed(2))
		return nil
	},
}

var blockCmd = &cobra.Command{
	Use:   "block <member-id> <reason>",
	Short: "Block a member from the bot and from daily income",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.members.Block(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "member %s (%s) blocked: %s\n", m.ID, m.Name, m.BlockReason)
		return nil
	},
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <member-id>",
	Short: "Lift a member's block",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.members.Unblock(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "member %s (%s) unblocked\n", m.ID, m.Name)
		return nil
	},
}
