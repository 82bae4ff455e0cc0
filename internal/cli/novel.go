package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bryan-buckman/noveltracker/internal/client"
)

// novelFields are the add and edit form inputs, by name.
var novelFields = []struct{ name, usage string }{
	{"name", "Novel name"},
	{"url", "Novel page URL"},
	{"source", "Source site (webnovel, royalroad, ...)"},
	{"localchap", "Chapters in the local EPUB"},
	{"onlinechap", "Chapters published online"},
	{"status", "Reading status"},
	{"notes", "Notes"},
	{"filepath", "EPUB file in the library"},
}

func addNovelFlags(cmd *cobra.Command) map[string]*string {
	values := make(map[string]*string, len(novelFields))
	for _, f := range novelFields {
		values[f.name] = cmd.Flags().String(f.name, "", f.usage)
	}
	return values
}

// fillForm copies the flags the user set into the form.
func fillForm(cmd *cobra.Command, s *session, formID string, values map[string]*string) error {
	for _, f := range novelFields {
		if !cmd.Flags().Changed(f.name) {
			continue
		}
		if err := s.ui.Page().SetNamed(formID, f.name, *values[f.name]); err != nil {
			return err
		}
	}
	return nil
}

func newAddCmd(root *rootOptions) *cobra.Command {
	var values map[string]*string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a novel",
		Example: `  noveltracker add --name "Lord of the Mysteries" --source webnovel \
    --url https://www.webnovel.com/book/lord-of-the-mysteries_11022733006234505`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, root, false)
			if err != nil {
				return err
			}
			s.click(cmd.Context(), "#btn-add")
			if err := fillForm(cmd, s, client.AddForm, values); err != nil {
				return err
			}
			s.ui.SubmitAdd(cmd.Context())
			return s.result()
		},
	}
	values = addNovelFlags(cmd)
	return cmd
}

func newEditCmd(root *rootOptions) *cobra.Command {
	var (
		values   map[string]*string
		fromEPUB string
	)
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a novel",
		Long: `Edit a novel. Fields not given keep their current value.

--from-epub fills fields from the novel's EPUB before the flags are applied:
title, source, url, lchap, ochap or all.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(cmd, root, false)
			if err != nil {
				return err
			}
			if err := s.reload(ctx); err != nil {
				return err
			}
			b, err := s.button(client.EditButton, args[0])
			if err != nil {
				return err
			}
			s.ui.Click(ctx, b)

			if fromEPUB != "" {
				if cmd.Flags().Changed("filepath") {
					if err := s.ui.Page().SetNamed(client.EditForm, "filepath", *values["filepath"]); err != nil {
						return err
					}
				}
				before := s.failures()
				s.ui.FetchEPUBInfo(ctx, fromEPUB)
				if s.failures() > before {
					return errNotified
				}
			}
			if err := fillForm(cmd, s, client.EditForm, values); err != nil {
				return err
			}
			s.ui.SubmitEdit(ctx)
			return s.result()
		},
	}
	values = addNovelFlags(cmd)
	cmd.Flags().StringVar(&fromEPUB, "from-epub", "", "Fill fields from the EPUB first (title, source, url, lchap, ochap or all)")
	return cmd
}

func newUpdateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <id>",
		Short: "Refresh one novel's chapter counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, root, false)
			if err != nil {
				return err
			}
			if err := s.reload(cmd.Context()); err != nil {
				return err
			}
			b, err := s.button(client.UpdateButton, args[0])
			if err != nil {
				return err
			}
			s.ui.Click(cmd.Context(), b)
			return s.result()
		},
	}
}

// updateAllChecks maps update-all flags to the update form checkboxes.
var updateAllChecks = []struct{ flag, name, usage string }{
	{"online", "onlinechap", "Refresh online chapter counts"},
	{"local", "localchap", "Refresh local chapter counts from the EPUBs"},
	{"title", "title", "Take titles from the EPUBs"},
	{"url", "url", "Take URLs from the EPUBs"},
	{"audeco", "audeco", "Take author, description and cover from the EPUBs"},
	{"cover", "cover", "Take covers from the EPUBs"},
	{"check-epub", "checkepub", "Check that every EPUB file exists"},
}

func newUpdateAllCmd(root *rootOptions) *cobra.Command {
	var (
		checks  = make(map[string]*bool, len(updateAllChecks))
		startID int
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "update-all",
		Short: "Refresh every novel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(cmd, root, false)
			if err != nil {
				return err
			}
			s.click(ctx, "#btn-updall")
			page := s.ui.Page()
			for _, c := range updateAllChecks {
				v := ""
				if *checks[c.flag] {
					v = "1"
				}
				if err := page.SetNamed(client.UpdateForm, c.name, v); err != nil {
					return err
				}
			}
			if startID > 0 {
				if err := page.SetNamed(client.UpdateForm, "startId", strconv.Itoa(startID)); err != nil {
					return err
				}
			}
			if limit > 0 {
				if err := page.SetNamed(client.UpdateForm, "limit", strconv.Itoa(limit)); err != nil {
					return err
				}
			}
			s.ui.SubmitUpdateAll(ctx)
			return s.result()
		},
	}
	for _, c := range updateAllChecks {
		checks[c.flag] = cmd.Flags().Bool(c.flag, false, c.usage)
	}
	cmd.Flags().IntVar(&startID, "start-id", 0, "Skip novels with a lower id")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many novels")
	return cmd
}

func newDeleteCmd(root *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a novel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, root, yes)
			if err != nil {
				return err
			}
			if err := s.reload(cmd.Context()); err != nil {
				return err
			}
			b, err := s.button(client.DeleteButton, args[0])
			if err != nil {
				return err
			}
			s.ui.Click(cmd.Context(), b)
			if err := s.result(); err != nil {
				return err
			}
			if _, ok := s.ui.Table().Find(args[0]); ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}
