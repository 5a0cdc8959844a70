package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func (a *app) reembedCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reembed",
		Short: "Compute missing photo embeddings and match the items",
		Long: `Find items that have a photo but no embedding, for example because the
extractor was unavailable when they were posted, embed them and run matching
for the ones that are still open. Match emails are sent as usual.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			database, err := openDatabase(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			emb, err := newEmbedder(a.cfg)
			if err != nil {
				return err
			}
			if err := emb.Warm(ctx); err != nil {
				return fmt.Errorf("loading embedding extractor: %w", err)
			}
			checkEmbeddingModel(ctx, database, emb)

			start := time.Now()
			n, err := newIntake(a.cfg, database, emb, nil).Reembed(ctx, limit)
			if err != nil {
				return err
			}

			fmt.Printf("Embedded %d item(s) in %s.\n", n, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 1000, "maximum number of items to process")
	return cmd
}
