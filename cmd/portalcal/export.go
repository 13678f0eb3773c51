package main

import (
	"bytes"
	"os"

	"github.com/spf13/cobra"

	"portalcal/internal/ics"
	appLog "portalcal/internal/log"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		out  string
		sync bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the merged events as an iCalendar file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := a.openSession(!sync)
			if err != nil {
				return err
			}
			defer sess.Close()

			if sync {
				ctx, cancel := signalContext()
				defer cancel()
				events, _ := sess.SyncNow(ctx)
				appLog.Info("sync before export", "events", string(events))
			}

			opts := ics.ExportOptions{Location: a.cfg.Location()}
			if out == "" || out == "-" {
				return ics.Write(cmd.OutOrStdout(), sess.Events(), opts)
			}

			var buf bytes.Buffer
			if err := ics.Write(&buf, sess.Events(), opts); err != nil {
				return err
			}
			if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
				return err
			}
			appLog.Info("calendar exported", "path", out, "events", len(sess.Events()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (stdout when empty)")
	cmd.Flags().BoolVar(&sync, "sync", false, "Fetch from the backend before exporting")
	return cmd
}
