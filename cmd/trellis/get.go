package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/jacentio/trellis-odm/analytics"
	"github.com/jacentio/trellis-odm/store"
)

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <resource> <id>",
		Short: "Print a document as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := store.Ref(args[0], args[1])
			if err := ref.Validate(); err != nil {
				return err
			}

			translator := store.NewTranslator(a.logger)
			a.sink.Add(ref.Resource, analytics.OpGet, ref.ID)
			snap, err := a.store.Get(cmd.Context(), ref)
			if err != nil {
				return translator.Translate(err)
			}
			if !snap.Exists {
				return store.Errorf(store.KindNotFound, "Document with id: %s not found!", ref.ID)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(snap.Data)
		},
	}
}
