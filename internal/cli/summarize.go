package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newSummarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize [app_id...]",
		Short: "Distill stored conversations into workspace memory",
		Long:  `Runs the summarization job over every conversation of the named personas, or of all personas when none is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				for _, p := range a.Config().Personas {
					args = append(args, p.AppID)
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var failed int
			for _, appID := range args {
				added, err := a.SummarizeWorkspace(ctx, appID)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", appID, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d new facts (%d total)\n", appID, added, len(a.Memory().GetAll(appID)))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d workspaces failed", failed, len(args))
			}
			return nil
		},
	}
}
