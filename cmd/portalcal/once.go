package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	appLog "portalcal/internal/log"
)

func newOnceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single reconciliation cycle and print the merged view as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			sess, err := a.openSession(false)
			if err != nil {
				return err
			}
			defer sess.Close()

			events, anns := sess.SyncNow(ctx)
			appLog.Info("sync finished", "events", string(events), "announcements", string(anns))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sess.Snapshot())
		},
	}
}
