package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stemsi/exstem-guard/internal/database"
	"github.com/stemsi/exstem-guard/internal/service"
)

func regradeCmd() *cobra.Command {
	var adminID int
	cmd := &cobra.Command{
		Use:   "regrade <exam-id>",
		Short: "Queue a regrade of every submission of an exam",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			examID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid exam id: %w", err)
			}

			cfg, log := setup()
			ctx := context.Background()
			rdb, err := database.NewRedisClient(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer rdb.Close()

			// Enqueueing only touches Redis; a running server does the work.
			err = service.NewRegradeService(rdb, nil).Enqueue(ctx, examID, adminID)
			if errors.Is(err, service.ErrRegradeInProgress) {
				return fmt.Errorf("a regrade of exam %s is already queued", examID)
			}
			if err != nil {
				return err
			}
			log.Info().Str("exam_id", examID.String()).Msg("Regrade queued")
			return nil
		},
	}
	cmd.Flags().IntVar(&adminID, "admin-id", 0, "Admin recorded as requesting the regrade")
	return cmd
}
