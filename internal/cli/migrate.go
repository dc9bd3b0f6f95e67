package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"datamask/internal/storage"
)

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the session and upload tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			driver := opts.cfg.BasicConfig.Database
			db, err := storage.Open(driver, opts.cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := storage.Migrate(db, driver); err != nil {
				return err
			}
			opts.logger.Info("database migrated", zap.String("driver", driver))
			return nil
		},
	}
}
