package main

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func quoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quote [currency] [amount]",
		Short: "Show the fee and total for a requested amount",
		Example: `  paywatch quote USDC 100
  paywatch quote SOL 0.25 --config paywatch.yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fees, err := cfg.FeeCalculator()
			if err != nil {
				return err
			}

			currency := strings.ToUpper(args[0])
			amount, err := decimal.NewFromString(args[1])
			if err != nil || !amount.IsPositive() {
				return fmt.Errorf("amount must be a positive decimal, got %q", args[1])
			}

			quote, err := fees.Quote(currency, amount)
			if err != nil {
				return err
			}
			breakdown, err := fees.Settle(currency, amount, quote.Total)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Customer pays:\n")
			fmt.Fprintf(out, "  requested  %s %s\n", quote.Requested, currency)
			fmt.Fprintf(out, "  fee        %s %s\n", quote.FeeAmount, currency)
			fmt.Fprintf(out, "  total      %s %s\n", quote.Total, currency)
			fmt.Fprintf(out, "Settles as:\n")
			fmt.Fprintf(out, "  gross      %s %s\n", breakdown.GrossAmount, currency)
			fmt.Fprintf(out, "  fee        %s %s\n", breakdown.FeeAmount, currency)
			fmt.Fprintf(out, "  net        %s %s\n", breakdown.NetAmount, currency)
			return nil
		},
	}
}
