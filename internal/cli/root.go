// Package cli implements the noveltracker command line: the server commands
// and the client commands that drive a running server the way its page does.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/cobra"

	"github.com/bryan-buckman/noveltracker/internal/client"
	"github.com/bryan-buckman/noveltracker/internal/config"
	"github.com/bryan-buckman/noveltracker/internal/model"
	"github.com/bryan-buckman/noveltracker/internal/view"
)

// errNotified is returned by client commands after an error notification
// has already been printed.
var errNotified = errors.New("request failed")

type rootOptions struct {
	server string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "noveltracker",
		Short:         "Track web novels against a local EPUB library",
		Long:          "noveltracker serves the novel tracker and drives a running tracker from the command line.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", "", "Tracker server URL (default $NOVEL_SERVER or "+client.DefaultServer+")")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newAddCmd(opts))
	cmd.AddCommand(newEditCmd(opts))
	cmd.AddCommand(newUpdateCmd(opts))
	cmd.AddCommand(newUpdateAllCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newScanCmd(opts))
	cmd.AddCommand(newImportCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newInfoCmd(opts))
	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx := context.Background()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errNotified) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

func (o *rootOptions) serverURL() string {
	if o.server != "" {
		return o.server
	}
	if v := os.Getenv("NOVEL_SERVER"); v != "" {
		return v
	}
	return config.Default().ServerURL
}

// session is one client command's view of the server page.
type session struct {
	ui  *client.UI
	out io.Writer

	mu     sync.Mutex
	failed int
}

// printNotifier prints notifications as "[category] message" lines.
type printNotifier struct {
	s *session
}

func (n printNotifier) Notify(message, category string) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	if category == model.CategoryError || category == model.CategoryWarning {
		n.s.failed++
	}
	for _, line := range strings.Split(message, "\n") {
		fmt.Fprintf(n.s.out, "[%s] %s\n", category, line)
	}
}

// promptConfirmer asks on stderr and reads y/N from stdin.
type promptConfirmer struct {
	in   *bufio.Reader
	errw io.Writer
	yes  bool
}

func (c promptConfirmer) Confirm(prompt string) bool {
	if c.yes {
		return true
	}
	fmt.Fprint(c.errw, prompt+" (y/N) ")
	answer, err := c.in.ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func openSession(cmd *cobra.Command, opts *rootOptions, yes bool) (*session, error) {
	s := &session{out: cmd.OutOrStdout()}
	api := client.NewAPI(opts.serverURL(), nil)
	confirm := promptConfirmer{in: bufio.NewReader(cmd.InOrStdin()), errw: cmd.ErrOrStderr(), yes: yes}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	ui, err := client.Open(cmd.Context(), api, printNotifier{s: s}, confirm, client.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.serverURL(), err)
	}
	s.ui = ui
	return s, nil
}

// reload loads the table and fails the command when the server did not answer.
func (s *session) reload(ctx context.Context) error {
	if !s.ui.Reload(ctx) {
		return errNotified
	}
	return nil
}

// failures counts the error and warning notifications printed so far.
func (s *session) failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// result turns printed error and warning notifications into the command's
// exit status.
func (s *session) result() error {
	if s.failures() > 0 {
		return errNotified
	}
	return nil
}

// click finds selector on the page and clicks it.
func (s *session) click(ctx context.Context, selector string) {
	s.ui.Click(ctx, s.ui.Page().Find(selector))
}

// button returns the action button of kind for the novel id. When the row
// is not on the rendered page every row is rendered first.
func (s *session) button(kind, id string) (*goquery.Selection, error) {
	if _, ok := s.ui.Table().Find(id); !ok {
		return nil, fmt.Errorf("novel %s not found", id)
	}
	if b := s.ui.Button(kind, id); b.Length() > 0 {
		return b, nil
	}
	if err := s.ui.Table().SetLength(view.LengthAll); err != nil {
		return nil, err
	}
	s.ui.Render()
	b := s.ui.Button(kind, id)
	if b.Length() == 0 {
		return nil, fmt.Errorf("novel %s is filtered out of the table", id)
	}
	return b, nil
}
