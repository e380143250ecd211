package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacentio/trellis-odm/store"
	"github.com/jacentio/trellis-odm/txn"
)

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <resource> <id>...",
		Short: "Delete documents in one transaction",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := txn.New(a.store,
				txn.WithAnalytics(a.sink),
				txn.WithLogger(a.logger),
			)
			for _, id := range args[1:] {
				if err := h.Delete(store.Ref(args[0], id)); err != nil {
					return err
				}
			}

			results, err := h.Run(cmd.Context(), a.cfg.Transaction.MaxAttempts)
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", r.Ref)
			}
			return nil
		},
	}
}
