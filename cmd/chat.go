package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Converse with the corpus interactively",
		Long: `Open a conversation thread and read questions from stdin, one per
line. Follow-up questions are resolved against earlier turns. Type
'exit' or press Ctrl-D to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd)
		},
	}
}

func runChat(cmd *cobra.Command) error {
	ctx := cmd.Context()
	app, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	out := cmd.OutOrStdout()
	tty := isTerminal(out)

	started := app.Convos.Start()
	fmt.Fprintln(out, started.Response)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		if tty {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		result, err := app.Convos.Send(ctx, started.ThreadID, line)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			continue
		}

		fmt.Fprintln(out, result.Response)
		if tty && len(result.Suggestions) > 0 {
			fmt.Fprintf(out, "(try: %s)\n", strings.Join(result.Suggestions, " | "))
		}
	}
	return scanner.Err()
}
