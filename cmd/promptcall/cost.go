package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/aschepis/backscratcher/promptcall/cost"
	"github.com/spf13/cobra"
)

var costCmd = &cobra.Command{
	Use:   "cost <provider> [model] [input_tokens output_tokens]",
	Short: "Look up model prices",
	Long: `Without a model, list the priced models of a provider.
With a model, print its price per million tokens, and the cost of the given
token counts when they are supplied.`,
	Args: cobra.RangeArgs(1, 4),
	// pricing needs neither config nor logger
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE:              runCost,
}

func init() {
	rootCmd.AddCommand(costCmd)
}

func runCost(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	provider := args[0]

	if len(args) == 1 {
		models := cost.Models(provider)
		if len(models) == 0 {
			return fmt.Errorf("no prices for provider %q (known: %v)", provider, cost.Providers())
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tINPUT $/1M\tOUTPUT $/1M")
		for _, m := range models {
			p, _ := cost.Lookup(provider, m)
			fmt.Fprintf(w, "%s\t%.3f\t%.3f\n", m, p.Input, p.Output)
		}
		return w.Flush()
	}

	model := args[1]
	price, ok := cost.Lookup(provider, model)
	if !ok {
		return fmt.Errorf("no price for %s/%s", provider, model)
	}
	if len(args) == 2 {
		fmt.Fprintf(out, "%s/%s: $%.3f input, $%.3f output per 1M tokens\n", provider, model, price.Input, price.Output)
		return nil
	}
	if len(args) != 4 {
		return fmt.Errorf("need both input and output token counts")
	}

	in, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("input tokens: %w", err)
	}
	outTokens, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil {
		return fmt.Errorf("output tokens: %w", err)
	}
	fmt.Fprintf(out, "$%.6f\n", price.Cost(in, outTokens))
	return nil
}
