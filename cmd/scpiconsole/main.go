package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ergochat/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const historySize = 500

var (
	promptColor = color.New(color.FgMagenta).SprintFunc()
	replyColor  = color.New(color.FgGreen).SprintFunc()
	infoColor   = color.New(color.FgCyan).SprintFunc()
	warnColor   = color.New(color.FgYellow).SprintFunc()
	errorColor  = color.New(color.FgRed).SprintFunc()
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:          "scpiconsole",
		Short:        "Interactive console for an SCPI bridge.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := Dial(addr, timeout)
			if err != nil {
				return err
			}
			defer client.Close()
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return runScript(client, os.Stdin, os.Stdout)
			}
			return repl(client, addr)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "localhost:5025", "server address")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", time.Second, "how long to wait for a query reply")
	return cmd
}

func repl(client *Client, addr string) error {
	rl, err := readline.NewFromConfig(&readline.Config{
		Prompt:       promptColor(addr + "> "),
		HistoryLimit: historySize,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println(infoColor("Connected to " + addr + ". EXIT or Ctrl-D to quit."))

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		replies, done, err := client.Send(line)
		printReplies(os.Stdout, replies)
		if err != nil {
			fmt.Fprintln(os.Stderr, errorColor("connection: "+err.Error()))
			return err
		}
		if done {
			return nil
		}
	}
}

// runScript sends each non-empty line of r and prints the replies without
// prompts, for piped input.
func runScript(client *Client, r io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		replies, done, err := client.Send(line)
		printReplies(out, replies)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return scanner.Err()
}

func printReplies(w io.Writer, replies []Reply) {
	for _, r := range replies {
		if r.Err != nil {
			fmt.Fprintln(w, warnColor(r.Query+": "+r.Err.Error()))
			continue
		}
		fmt.Fprintln(w, replyColor(r.Text))
	}
}
