package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/ShopDrop/internal/activity"
)

func newActivityCmd(env *cliEnv) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Print the activity log of a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := activity.Open(cmd.Context(), activity.Config{
				Driver:      cfg.ActivityStore,
				DatabaseURL: cfg.DatabaseURL,
				Redis: activity.RedisConfig{
					Addr:     cfg.RedisAddr,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				},
			})
			if err != nil {
				return fmt.Errorf("open activity store: %w", err)
			}
			defer store.Close(context.Background())

			entries, err := activity.NewLog(store).Entries(cmd.Context(), session)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []activity.Entry{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		},
	}
	cmd.Flags().StringVar(&session, "session", defaultCLISession, "Session key to list")
	return cmd
}
