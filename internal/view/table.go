package view

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Column keys.
const (
	ColID         = "id"
	ColName       = "name"
	ColLocalChap  = "localchap"
	ColOnlineChap = "onlinechap"
	ColDiff       = "diff"
	ColTimeAgo    = "timeago"
	ColSource     = "source"
	ColStatus     = "status"
	ColNotes      = "notes"
	ColActions    = "actions"
)

// Column describes one table column.
type Column struct {
	Key        string
	Title      string
	Numeric    bool
	Orderable  bool
	Searchable bool
	Hidden     bool // hidden by default
}

// Columns are the table columns in display order.
var Columns = []Column{
	{Key: ColID, Title: "ID", Numeric: true, Orderable: true, Searchable: true, Hidden: true},
	{Key: ColName, Title: "Name", Orderable: true, Searchable: true},
	{Key: ColLocalChap, Title: "Local", Numeric: true, Orderable: true, Searchable: true},
	{Key: ColOnlineChap, Title: "Online", Numeric: true, Orderable: true, Searchable: true},
	{Key: ColDiff, Title: "Diff", Numeric: true, Orderable: true, Searchable: true},
	{Key: ColTimeAgo, Title: "Days", Numeric: true, Orderable: true, Searchable: true},
	{Key: ColSource, Title: "Source", Orderable: true, Searchable: true},
	{Key: ColStatus, Title: "Status", Orderable: true, Searchable: true},
	{Key: ColNotes, Title: "Notes", Orderable: true, Searchable: true, Hidden: true},
	{Key: ColActions, Title: "Actions"},
}

// ColumnIndex returns the position of the column with key, or -1.
func ColumnIndex(key string) int {
	return slices.IndexFunc(Columns, func(c Column) bool { return c.Key == key })
}

// Text is the plain value of the column for r, used for search, sort and export.
func (c Column) Text(r Row) string {
	switch c.Key {
	case ColID:
		return r.ID.Value
	case ColName:
		return r.Name.Value
	case ColLocalChap:
		return r.LocalChap.Value
	case ColOnlineChap:
		return r.OnlineChap.Value
	case ColDiff:
		return FormatNumber(r.Diff())
	case ColTimeAgo:
		return r.TimeAgo.Value
	case ColSource:
		return r.Source.Value
	case ColStatus:
		return r.Status.Value
	case ColNotes:
		return r.Notes.Value
	}
	return ""
}

// LengthAll is the page length that shows every row.
const LengthAll = -1

// LengthMenu lists the selectable page lengths.
var LengthMenu = []int{10, 15, 25, 30, 40, 50, 70, 100, 150, LengthAll}

// Order sorts by one column.
type Order struct {
	Column int
	Desc   bool
}

// State is the part of the table that survives reloads.
type State struct {
	Start        int
	Length       int
	Order        []Order
	Search       string
	ColumnSearch map[int]string
	Visible      []bool
}

// DefaultState orders by name ascending, 20 rows per page, id and notes hidden.
func DefaultState() State {
	visible := make([]bool, len(Columns))
	for i, c := range Columns {
		visible[i] = !c.Hidden
	}
	return State{
		Length:       20,
		Order:        []Order{{Column: ColumnIndex(ColName)}},
		ColumnSearch: map[int]string{},
		Visible:      visible,
	}
}

// Page is one rendered page of rows.
type Page struct {
	Rows     []Row
	Start    int
	End      int
	Filtered int
	Total    int
}

// Info describes the page the way the table footer does.
func (p Page) Info() string {
	if p.Filtered == 0 {
		s := "Showing 0 to 0 of 0 entries"
		if p.Total > 0 {
			s += fmt.Sprintf(" (filtered from %d total entries)", p.Total)
		}
		return s
	}
	s := fmt.Sprintf("Showing %d to %d of %d entries", p.Start+1, p.End, p.Filtered)
	if p.Filtered != p.Total {
		s += fmt.Sprintf(" (filtered from %d total entries)", p.Total)
	}
	return s
}

// Table holds the rows of the last reload and the view state.
type Table struct {
	mu    sync.Mutex
	rows  []Row
	state State
}

// NewTable returns an empty table in the default state.
func NewTable() *Table {
	return &Table{state: DefaultState()}
}

// Load replaces every row. The state is kept; the start moves back when
// the current page no longer exists.
func (t *Table) Load(rows []Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = slices.Clone(rows)
	t.clampStart()
}

// Rows returns the rows of the last reload in server order.
func (t *Table) Rows() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.rows)
}

// Find returns the row with the given id.
func (t *Table) Find(id string) (Row, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.rows {
		if r.ID.Value == id {
			return r, true
		}
	}
	return Row{}, false
}

// State returns a copy of the view state.
func (t *Table) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state
	s.Order = slices.Clone(s.Order)
	s.Visible = slices.Clone(s.Visible)
	s.ColumnSearch = make(map[int]string, len(t.state.ColumnSearch))
	for k, v := range t.state.ColumnSearch {
		s.ColumnSearch[k] = v
	}
	return s
}

// SetOrder sorts by the given columns. Columns that cannot be ordered are rejected.
func (t *Table) SetOrder(orders ...Order) error {
	for _, o := range orders {
		if o.Column < 0 || o.Column >= len(Columns) || !Columns[o.Column].Orderable {
			return fmt.Errorf("column %d is not orderable", o.Column)
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Order = slices.Clone(orders)
	return nil
}

// SetSearch sets the global search and returns to the first page.
func (t *Table) SetSearch(q string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Search = q
	t.state.Start = 0
}

// SetColumnSearch filters one column; an empty query removes the filter.
func (t *Table) SetColumnSearch(col int, q string) error {
	if col < 0 || col >= len(Columns) || !Columns[col].Searchable {
		return fmt.Errorf("column %d is not searchable", col)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if q == "" {
		delete(t.state.ColumnSearch, col)
	} else {
		t.state.ColumnSearch[col] = q
	}
	t.state.Start = 0
	return nil
}

// SetVisible shows or hides a column.
func (t *Table) SetVisible(col int, visible bool) error {
	if col < 0 || col >= len(Columns) {
		return fmt.Errorf("no column %d", col)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Visible[col] = visible
	return nil
}

// SetLength changes the page length to one of LengthMenu.
func (t *Table) SetLength(n int) error {
	if !slices.Contains(LengthMenu, n) {
		return fmt.Errorf("page length %d is not offered", n)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Length = n
	if n == LengthAll {
		t.state.Start = 0
	} else {
		t.state.Start -= t.state.Start % n
	}
	return nil
}

// SetPage moves to the zero-based page p, clamped to the last page.
func (t *Table) SetPage(p int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p < 0 || t.state.Length == LengthAll {
		p = 0
	}
	t.state.Start = p * max(t.state.Length, 0)
	t.clampStart()
}

// VisibleColumns returns the columns currently shown.
func (t *Table) VisibleColumns() []Column {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visibleColumns(false)
}

func (t *Table) visibleColumns(export bool) []Column {
	var cols []Column
	for i, c := range Columns {
		if !t.state.Visible[i] || (export && c.Key == ColActions) {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

// Filtered returns every row matching the searches, in display order.
func (t *Table) Filtered() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.filtered()
}

// Page returns the current page.
func (t *Table) Page() Page {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.page()
}

func (t *Table) page() Page {
	rows := t.filtered()
	start := min(t.state.Start, len(rows))
	end := len(rows)
	if t.state.Length != LengthAll {
		end = min(start+t.state.Length, len(rows))
	}
	return Page{Rows: rows[start:end], Start: start, End: end, Filtered: len(rows), Total: len(t.rows)}
}

// HTML renders the visible columns of the current page as table rows.
func (t *Table) HTML() string {
	t.mu.Lock()
	page := t.page()
	cols := t.visibleColumns(false)
	t.mu.Unlock()

	var b strings.Builder
	for _, r := range page.Rows {
		b.WriteString("<tr>")
		for _, c := range cols {
			b.WriteString("<td>")
			b.WriteString(Cell(c, r))
			b.WriteString("</td>")
		}
		b.WriteString("</tr>")
	}
	return b.String()
}

// Writer returns a go-pretty table of the filtered rows in the visible
// columns, without the actions column.
func (t *Table) Writer() table.Writer {
	t.mu.Lock()
	rows := t.filtered()
	cols := t.visibleColumns(true)
	t.mu.Unlock()

	w := table.NewWriter()
	header := make(table.Row, len(cols))
	for i, c := range cols {
		header[i] = c.Title
	}
	w.AppendHeader(header)
	for _, r := range rows {
		line := make(table.Row, len(cols))
		for i, c := range cols {
			line[i] = c.Text(r)
		}
		w.AppendRow(line)
	}
	return w
}

// CSV exports the filtered rows of the visible columns.
func (t *Table) CSV() string {
	return t.Writer().RenderCSV()
}

// Copy exports the filtered rows of the visible columns as tab separated lines.
func (t *Table) Copy() string {
	t.mu.Lock()
	rows := t.filtered()
	cols := t.visibleColumns(true)
	t.mu.Unlock()

	clean := strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ")
	lines := make([]string, 0, len(rows)+1)
	fields := make([]string, len(cols))
	for i, c := range cols {
		fields[i] = c.Title
	}
	lines = append(lines, strings.Join(fields, "\t"))
	for _, r := range rows {
		for i, c := range cols {
			fields[i] = clean.Replace(c.Text(r))
		}
		lines = append(lines, strings.Join(fields, "\t"))
	}
	return strings.Join(lines, "\n")
}

func (t *Table) clampStart() {
	if t.state.Length == LengthAll || t.state.Start < 0 {
		t.state.Start = 0
		return
	}
	n := len(t.filtered())
	for t.state.Start > 0 && t.state.Start >= n {
		t.state.Start = max(t.state.Start-t.state.Length, 0)
	}
}

func (t *Table) filtered() []Row {
	words := strings.Fields(strings.ToLower(t.state.Search))
	var out []Row
	for _, r := range t.rows {
		if t.matches(r, words) {
			out = append(out, r)
		}
	}
	t.sort(out)
	return out
}

func (t *Table) matches(r Row, words []string) bool {
	for col, q := range t.state.ColumnSearch {
		if !strings.Contains(strings.ToLower(Columns[col].Text(r)), strings.ToLower(q)) {
			return false
		}
	}
	if len(words) == 0 {
		return true
	}
	var texts []string
	for _, c := range Columns {
		if c.Searchable {
			texts = append(texts, strings.ToLower(c.Text(r)))
		}
	}
	haystack := strings.Join(texts, " ")
	for _, w := range words {
		if !strings.Contains(haystack, w) {
			return false
		}
	}
	return true
}

func (t *Table) sort(rows []Row) {
	if len(t.state.Order) == 0 {
		return
	}
	slices.SortStableFunc(rows, func(a, b Row) int {
		for _, o := range t.state.Order {
			c := compare(Columns[o.Column], a, b)
			if o.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

// compare orders numeric columns by value with blanks first, and text
// columns case-insensitively.
func compare(col Column, a, b Row) int {
	ta, tb := col.Text(a), col.Text(b)
	if col.Numeric {
		return cmpFloat(sortNumber(ta), sortNumber(tb))
	}
	return strings.Compare(strings.ToLower(ta), strings.ToLower(tb))
}

func sortNumber(s string) float64 {
	if strings.TrimSpace(s) == "" {
		return math.Inf(-1)
	}
	return Number(s)
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
