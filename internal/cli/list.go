package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/bryan-buckman/noveltracker/internal/view"
)

type listOptions struct {
	format  string
	search  string
	where   []string
	order   []string
	length  int
	page    int
	show    []string
	hide    []string
	width   int
}

func newListCmd(root *rootOptions) *cobra.Command {
	opts := &listOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the novel table",
		Long: `Show the novel table as the page renders it.

Columns: id, name, localchap, onlinechap, diff, timeago, source, status, notes.
Orders are column[:asc|desc]; --where filters one column as column=text.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, root, false)
			if err != nil {
				return err
			}
			if err := s.reload(cmd.Context()); err != nil {
				return err
			}
			if err := applyListOptions(s.ui.Table(), opts); err != nil {
				return err
			}
			return writeList(cmd, s.ui.Table(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.format, "format", "table", "Output format: table, csv, markdown, copy or json")
	f.StringVar(&opts.search, "search", "", "Search every searchable column")
	f.StringArrayVar(&opts.where, "where", nil, "Search one column, as column=text (repeatable)")
	f.StringArrayVar(&opts.order, "order", nil, "Sort by column[:desc] (repeatable, default name)")
	f.IntVar(&opts.length, "length", view.DefaultState().Length, "Rows per page (10, 15, 25, 30, 40, 50, 70, 100, 150 or -1 for all)")
	f.IntVar(&opts.page, "page", 1, "Page number")
	f.StringSliceVar(&opts.show, "show", nil, "Show hidden columns (e.g. id,notes)")
	f.StringSliceVar(&opts.hide, "hide", nil, "Hide columns")
	f.IntVar(&opts.width, "width", 0, "Table width (default $COLUMNS or 120)")
	return cmd
}

func columnIndex(key string) (int, error) {
	i := view.ColumnIndex(strings.ToLower(strings.TrimSpace(key)))
	if i < 0 {
		return -1, fmt.Errorf("unknown column %q", key)
	}
	return i, nil
}

func applyListOptions(t *view.Table, opts *listOptions) error {
	if len(opts.order) > 0 {
		orders := make([]view.Order, 0, len(opts.order))
		for _, o := range opts.order {
			key, dir, _ := strings.Cut(o, ":")
			i, err := columnIndex(key)
			if err != nil {
				return err
			}
			switch strings.ToLower(dir) {
			case "", "asc":
				orders = append(orders, view.Order{Column: i})
			case "desc":
				orders = append(orders, view.Order{Column: i, Desc: true})
			default:
				return fmt.Errorf("invalid order direction %q", dir)
			}
		}
		if err := t.SetOrder(orders...); err != nil {
			return err
		}
	}
	t.SetSearch(opts.search)
	for _, w := range opts.where {
		key, q, ok := strings.Cut(w, "=")
		if !ok {
			return fmt.Errorf("invalid --where %q, want column=text", w)
		}
		i, err := columnIndex(key)
		if err != nil {
			return err
		}
		if err := t.SetColumnSearch(i, q); err != nil {
			return err
		}
	}
	for _, key := range opts.show {
		i, err := columnIndex(key)
		if err != nil {
			return err
		}
		if err := t.SetVisible(i, true); err != nil {
			return err
		}
	}
	for _, key := range opts.hide {
		i, err := columnIndex(key)
		if err != nil {
			return err
		}
		if err := t.SetVisible(i, false); err != nil {
			return err
		}
	}
	if opts.length != t.State().Length {
		if err := t.SetLength(opts.length); err != nil {
			return err
		}
	}
	t.SetPage(opts.page - 1)
	return nil
}

type listRow struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	URL        string  `json:"url"`
	LocalChap  string  `json:"localchap"`
	OnlineChap string  `json:"onlinechap"`
	Diff       float64 `json:"diff"`
	TimeAgo    string  `json:"timeago"`
	Source     string  `json:"source"`
	Status     string  `json:"status"`
	Notes      string  `json:"notes"`
	Filepath   string  `json:"filepath"`
}

func writeList(cmd *cobra.Command, t *view.Table, opts *listOptions) error {
	out := cmd.OutOrStdout()
	switch opts.format {
	case "csv":
		fmt.Fprintln(out, t.CSV())
	case "copy":
		fmt.Fprintln(out, t.Copy())
	case "markdown":
		fmt.Fprintln(out, t.Writer().RenderMarkdown())
	case "json":
		rows := t.Page().Rows
		output := make([]listRow, 0, len(rows))
		for _, r := range rows {
			output = append(output, listRow{
				ID: r.ID.Value, Name: r.Name.Value, URL: r.URL.Value,
				LocalChap: r.LocalChap.Value, OnlineChap: r.OnlineChap.Value, Diff: r.Diff(),
				TimeAgo: r.TimeAgo.Value, Source: r.Source.Value, Status: r.Status.Value,
				Notes: r.Notes.Value, Filepath: r.Filepath.Value,
			})
		}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(output)
	case "table":
		outputTable(cmd, t, tableWidth(opts.width))
	default:
		return fmt.Errorf("invalid format: %s (valid values: table, csv, markdown, copy, json)", opts.format)
	}
	return nil
}

func tableWidth(flag int) int {
	if flag > 0 {
		return flag
	}
	if n, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && n > 0 {
		return n
	}
	return 120
}

// outputTable prints the current page. Every column except the name keeps
// its full width; the name is truncated to what is left.
func outputTable(cmd *cobra.Command, t *view.Table, termWidth int) {
	page := t.Page()
	var cols []view.Column
	for _, c := range t.VisibleColumns() {
		if c.Key != view.ColActions {
			cols = append(cols, c)
		}
	}

	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = runewidth.StringWidth(c.Title)
		for _, r := range page.Rows {
			widths[i] = max(widths[i], runewidth.StringWidth(c.Text(r)))
		}
	}
	nameWidth := termWidth - len(cols)*3 - 1
	for i, c := range cols {
		if c.Key != view.ColName {
			nameWidth -= widths[i]
		}
	}
	nameWidth = max(nameWidth, 15)

	w := table.NewWriter()
	w.SetOutputMirror(cmd.OutOrStdout())
	w.SetStyle(table.StyleLight)
	header := make(table.Row, len(cols))
	for i, c := range cols {
		header[i] = c.Title
	}
	w.AppendHeader(header)
	var configs []table.ColumnConfig
	for i, c := range cols {
		if c.Numeric {
			configs = append(configs, table.ColumnConfig{Number: i + 1, Align: text.AlignRight})
		}
	}
	w.SetColumnConfigs(configs)
	for _, r := range page.Rows {
		line := make(table.Row, len(cols))
		for i, c := range cols {
			v := c.Text(r)
			if c.Key == view.ColName {
				v = runewidth.Truncate(v, nameWidth, "...")
			}
			line[i] = v
		}
		w.AppendRow(line)
	}
	w.SetCaption(page.Info())
	w.Render()
}
