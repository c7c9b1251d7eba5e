package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/client"
	"github.com/tokligence/chatrelay/internal/config"
	"github.com/tokligence/chatrelay/internal/conversation"
	"github.com/tokligence/chatrelay/internal/logging"
	"github.com/tokligence/chatrelay/internal/version"
)

var (
	relayURL   string
	logLevel   string
	noColor    bool
	configRoot string
)

var rootCmd = &cobra.Command{
	Use:           "chat",
	Short:         "Talk to a chat relay from the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		return runREPL(cmd.Context(), cmd.InOrStdin(), app)
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send one message and print the streamed reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		return app.ask(cmd.Context(), strings.Join(args, " "))
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show the relay's usage ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		return app.usage(cmd.Context(), limit)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the relay is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		return app.health(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.FullInfo())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&relayURL, "relay-url", "", "relay base URL (defaults to client.relay_url)")
	flags.StringVar(&logLevel, "log-level", "warn", "log level written to stderr")
	flags.BoolVar(&noColor, "no-color", false, "disable styled output")
	flags.StringVar(&configRoot, "root", ".", "directory holding .env and config/relay.yaml")
	usageCmd.Flags().Int("limit", 10, "number of recent exchanges to list")
	rootCmd.AddCommand(askCmd, usageCmd, healthCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "chat:", err)
		os.Exit(1)
	}
}

type app struct {
	client   *client.ChatClient
	session  *chat.Session
	renderer *chat.TerminalRenderer
	out      io.Writer
}

func newApp(out io.Writer) (*app, error) {
	cfg, err := config.LoadClient(configRoot)
	if err != nil {
		return nil, err
	}
	logger, _, err := logging.New(logging.Config{Level: logLevel, Output: os.Stderr, Service: "chat"})
	if err != nil {
		return nil, err
	}
	base := relayURL
	if strings.TrimSpace(base) == "" {
		base = cfg.Client.RelayURL
	}
	// streams have no overall deadline; the relay ends them
	c, err := client.New(base, &http.Client{}, client.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return newAppWith(c, out, styledOutput(out), logger), nil
}

func newAppWith(c *client.ChatClient, out io.Writer, styled bool, logger zerolog.Logger) *app {
	log := conversation.NewLog()
	renderer := chat.NewTerminalRenderer(out, styled)
	renderer.Follow(log)
	return &app{
		client:   c,
		session:  chat.NewSession(log, c, logger),
		renderer: renderer,
		out:      out,
	}
}

func styledOutput(w io.Writer) bool {
	if noColor {
		return false
	}
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// submit runs one exchange and renders it; failures are shown, not returned,
// unless the input itself was rejected.
func (a *app) submit(ctx context.Context, text string) error {
	a.renderer.Begin()
	_, err := a.session.Submit(ctx, text, a.renderer.Update)
	switch {
	case err == nil:
		a.renderer.End()
		return nil
	case errors.Is(err, chat.ErrEmptyInput), errors.Is(err, chat.ErrExchangeInFlight):
		return err
	default:
		a.renderer.Error(err)
		return err
	}
}

func (a *app) ask(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return chat.ErrEmptyInput
	}
	return a.submit(ctx, text)
}

func runREPL(ctx context.Context, in io.Reader, a *app) error {
	a.renderer.Info("connected to %s, /quit to exit", a.client.BaseURL())
	scanner := bufio.NewScanner(in)
	for {
		a.renderer.Prompt()
		if !scanner.Scan() {
			fmt.Fprintln(a.out)
			return scanner.Err()
		}
		line := scanner.Text()
		switch strings.TrimSpace(line) {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/history":
			for _, m := range a.session.Log().Messages() {
				a.renderer.Info("%s: %s", m.Role, m.Content)
			}
			continue
		}
		// the exchange failure has been rendered; keep the conversation going
		_ = a.submit(ctx, line)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (a *app) usage(ctx context.Context, limit int) error {
	summary, err := a.client.UsageSummary(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "exchanges=%d completed=%d interrupted=%d aborted=%d tokens=%d\n",
		summary.Exchanges, summary.Completed, summary.Interrupted, summary.Aborted, summary.TotalTokens)
	entries, err := a.client.RecentUsage(ctx, limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(a.out, "%s  %-11s  %-12s  fragments=%d tokens=%d/%d  %dms\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.Outcome, e.Model,
			e.Fragments, e.PromptTokens, e.CompletionTokens, e.DurationMs)
	}
	return nil
}

func (a *app) health(ctx context.Context) error {
	status, err := a.client.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "status=%s model=%s version=%s ledger=%t\n", status.Status, status.Model, status.Version, status.Ledger)
	return nil
}
