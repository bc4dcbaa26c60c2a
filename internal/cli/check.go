package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"slackmind/internal/security"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Show the resolved configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.Config()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "data dir:        %s\n", cfg.DataDir)
			fmt.Fprintf(out, "listen addr:     %s\n", cfg.ListenAddr)
			fmt.Fprintf(out, "history size:    %d exchanges\n", cfg.MaxHistorySize)
			fmt.Fprintf(out, "summarize every: %d turns\n", cfg.SummarizeEvery)
			if cfg.SummarizeSchedule != "" {
				fmt.Fprintf(out, "schedule:        %s\n", cfg.SummarizeSchedule)
			}
			fmt.Fprintln(out)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "APP\tTEAM\tPROVIDER\tMODEL\tAPI KEY\tSLACK\tTELEGRAM\tSTATUS")
			for _, p := range cfg.Personas {
				status := "ok"
				if !p.Usable() {
					status = "skipped"
				} else if _, err := a.Bots().ByApp(p.AppID); err != nil {
					status = "error"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					p.AppID, p.TeamID, p.LLM.Provider, p.LLM.Model,
					mask(p.LLM.APIKey),
					mask(p.BotToken),
					mask(p.TelegramToken),
					status,
				)
			}
			return tw.Flush()
		},
	}
}

func mask(secret string) string {
	if secret == "" {
		return "-"
	}
	return security.MaskKey(secret)
}
