package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or delete stored conversations",
	}
	cmd.AddCommand(newHistoryListCmd(), newHistoryClearCmd())
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored conversation keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			keys, err := a.History().Keys()
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d turns\n", k, len(a.History().Load(k)))
			}
			return nil
		},
	}
}

func newHistoryClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <app_id> <user_id|channel_ID>",
		Short: "Delete one conversation's history",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			cleared, err := a.ClearHistory(args[0], args[1])
			if err != nil {
				return err
			}
			if cleared {
				fmt.Fprintf(cmd.OutOrStdout(), "Chat history cleared for %s/%s\n", args[0], args[1])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "No chat history found for %s/%s\n", args[0], args[1])
			}
			return nil
		},
	}
}
