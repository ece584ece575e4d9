package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"printshop-checkout/internal/repo"
)

func reviewCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "review",
		Short: "List payment confirmations that need manual review",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, health, err := openDatabase(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer health.Close()

			items, err := repo.NewConfirmationRepo(db).ListForReview(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("Nothing to review.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RECEIVED\tOUTCOME\tORDER\tAMOUNT\tREFERENCE\tPAID AT")
			for _, c := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					c.ReceivedAt.Format("2006-01-02 15:04"), c.Outcome, c.OrderID,
					c.Amount.StringFixed(2), c.Reference, c.PaidAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum rows")
	return cmd
}
