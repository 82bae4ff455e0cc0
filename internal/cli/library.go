package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/cobra"

	"github.com/bryan-buckman/noveltracker/internal/client"
)

func newScanCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List library EPUBs that are not tracked yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, root, false)
			if err != nil {
				return err
			}
			s.ui.ScanNewFiles(cmd.Context())
			printNewFiles(cmd, s)
			return s.result()
		},
	}
}

func newImportCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Import every untracked library EPUB",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(cmd, root, false)
			if err != nil {
				return err
			}
			s.ui.ScanNewFiles(ctx)
			if !s.ui.Page().Visible(client.NewFilesModal) {
				return s.result()
			}
			printNewFiles(cmd, s)
			s.ui.ImportAll(ctx)
			return s.result()
		},
	}
}

func printNewFiles(cmd *cobra.Command, s *session) {
	page := s.ui.Page()
	if !page.Visible(client.NewFilesModal) {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "New files %s\n", page.Text("span-newfiles-info"))
	for _, f := range s.ui.NewFiles() {
		fmt.Fprintf(out, "  %s\n", f)
	}
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check whether the server is online",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			api := client.NewAPI(root.serverURL(), nil)
			page, err := client.NewPage(strings.NewReader(statusPage))
			if err != nil {
				return err
			}
			ui := client.New(page, api, client.NotifierFunc(func(string, string) {}), client.ConfirmerFunc(func(string) bool { return false }))
			out := cmd.OutOrStdout()

			report := func() bool {
				online := ui.CheckServer(ctx)
				fmt.Fprintf(out, "%s %s\n", time.Now().Format(time.TimeOnly), page.Text(client.StatusTile))
				return online
			}
			if !watch {
				if !report() {
					return errNotified
				}
				return nil
			}
			if interval <= 0 {
				interval = client.LivenessInterval
			}
			last := report()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					online := ui.CheckServer(ctx)
					if ctx.Err() != nil {
						return nil
					}
					if online != last {
						last = online
						fmt.Fprintf(out, "%s %s\n", time.Now().Format(time.TimeOnly), page.Text(client.StatusTile))
					}
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep checking and print every change")
	cmd.Flags().DurationVar(&interval, "interval", client.LivenessInterval, "Time between checks with --watch")
	return cmd
}

// statusPage hosts the status tile without fetching the index page.
const statusPage = `<html><body><div id="tile_server_stat"></div><table id="table"><tbody></tbody></table></body></html>`

func newInfoCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Show a novel's cover, author and description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, root, false)
			if err != nil {
				return err
			}
			if err := s.reload(cmd.Context()); err != nil {
				return err
			}
			if _, err := s.button(client.EditButton, args[0]); err != nil {
				return err
			}
			trigger := s.ui.Page().Find(fmt.Sprintf(`#table tbody tr:has(%s[data-id="%s"]) .novel-hover`, client.EditButton, args[0]))
			if trigger.Length() == 0 {
				return fmt.Errorf("novel %s has no name cell", args[0])
			}
			s.ui.HoverEnter(trigger, 0, 0)
			defer s.ui.HoverLeave()

			popup, err := goquery.NewDocumentFromReader(strings.NewReader(s.ui.Popup().HTML()))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:        %s\n", strings.TrimSpace(trigger.Text()))
			if src, ok := popup.Find("img").Attr("src"); ok {
				fmt.Fprintf(out, "Cover:       %s/%s\n", strings.TrimSuffix(root.serverURL(), "/"), strings.TrimPrefix(src, "/"))
			}
			fmt.Fprintf(out, "Author:      %s\n", popup.Find("b").First().Text())
			if desc := popup.Find("div").First().Text(); desc != "" {
				fmt.Fprintf(out, "Description: %s\n", desc)
			}
			return nil
		},
	}
}
