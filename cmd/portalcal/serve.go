package main

import (
	"github.com/spf13/cobra"

	appLog "portalcal/internal/log"
	"portalcal/internal/session"
	"portalcal/internal/web"
)

func newServeCmd(a *app) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API; polling runs while a student session is active",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			sess, err := a.openSession(false)
			if err != nil {
				return err
			}
			defer sess.Close()

			if role != "" {
				if err := sess.Begin(ctx, session.Role(role)); err != nil {
					return err
				}
			}

			appLog.Info("portalcal starting", "version", version, "listen", a.cfg.Listen)
			err = web.Run(ctx, a.cfg, sess)
			appLog.Info("portalcal exiting")
			return err
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Begin a session at startup (student or admin)")
	return cmd
}
