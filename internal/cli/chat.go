package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"slackmind/internal/channel"
	"slackmind/internal/config"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to a persona from the terminal",
		Long: `Starts an interactive session with a persona, sharing its history and
memory with the other channels. With an argument, sends one message and
prints the reply.

Type "clear" to delete your history, "exit" to quit.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}
	cmd.Flags().String("app", config.DefaultAppID, "persona app id")
	cmd.Flags().String("user", "local", "user id the conversation is stored under")
	cmd.Flags().String("name", "User", "display name of the user")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	appID, _ := cmd.Flags().GetString("app")
	userID, _ := cmd.Flags().GetString("user")
	userName, _ := cmd.Flags().GetString("name")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	p, ok := a.Persona(appID)
	if !ok {
		return fmt.Errorf("no persona with app id %q", appID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	console := channel.NewConsoleChannel(channel.ConsoleConfig{
		In:       cmd.InOrStdin(),
		Out:      cmd.OutOrStdout(),
		UserID:   userID,
		UserName: userName,
		BotName:  p.AppID,
	})
	mgr := channel.NewManager(p.AppID)
	mgr.Register(console)

	ag, err := a.NewAgent(p, mgr)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		reply := ag.Reply(ctx, channel.InboundMessage{
			ChannelName: console.Name(),
			SenderID:    userID,
			SenderName:  userName,
			ChatID:      console.Name(),
			ChannelID:   console.Name(),
			Scope:       channel.ScopeUser,
			Text:        args[0],
			Timestamp:   time.Now(),
		})
		fmt.Fprintln(cmd.OutOrStdout(), reply)
		ag.Shutdown(ctx)
		return nil
	}

	console.OnClear(func() string {
		cleared, err := a.ClearHistory(p.AppID, userID)
		switch {
		case err != nil:
			return "Error clearing history: " + err.Error()
		case cleared:
			return "Chat history cleared."
		default:
			return "No chat history found."
		}
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Chatting with %s. Type \"exit\" to quit.\n", p.AppID)
	ag.Start(ctx)
	if err := mgr.StartAll(ctx); err != nil {
		return err
	}

	select {
	case <-console.Done():
	case <-ctx.Done():
	}
	ag.Shutdown(context.Background())
	return nil
}
