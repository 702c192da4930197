package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/aschepis/backscratcher/promptcall/callstore"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded calls and their total cost",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "number of calls to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := callstore.Open(ctx, cfg.Store.Path, log)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	total, err := store.TotalCost(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tPROVIDER\tMODEL\tTOKENS\tCOST\tRESULT")
	for _, r := range recs {
		costStr := "-"
		if r.Cost != nil {
			costStr = fmt.Sprintf("$%.6f", *r.Cost)
		}
		result := "ok"
		if r.Error != "" {
			result = "error: " + r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			r.CreatedAt.Format(time.DateTime), r.Provider, r.Model, r.InputTokens, r.OutputTokens, costStr, result)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "total: $%.6f\n", total)
	return nil
}
