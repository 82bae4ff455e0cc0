package view

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestDiff(t *testing.T) {
	tests := []struct {
		local, online string
		want          float64
	}{
		{"10", "15", 5},
		{"abc", "5", 5},
		{"", "", 0},
		{" 3 ", "4.5", 1.5},
		{"5", "", -5},
		{"1e2", "150", 50},
		{"0x10", "20", 4},
		{"12abc", "20", 20},
		{"NaN", "7", 7},
		{"Infinity", "5", 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q-%q", tt.local, tt.online), func(t *testing.T) {
			got := Diff(tt.local, tt.online)
			if tt.local == "Infinity" {
				if got > -1e308 {
					t.Errorf("Diff() = %v, want -Infinity", got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Diff() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEscape(t *testing.T) {
	if got := Escape(`Foo & <Bar>`); got != "Foo &amp; &lt;Bar&gt;" {
		t.Errorf("Escape() = %q", got)
	}
	if got := Escape(`"it's"`); got != "&quot;it&#039;s&quot;" {
		t.Errorf("Escape() = %q", got)
	}
	if Escape("") != "" {
		t.Error("Escape(\"\") not empty")
	}
}

func hostileRow() Row {
	evil := `<script>alert("x")</script>&'`
	return Row{
		ID: F("7"), Name: F(evil), URL: F(`javascript:"` + evil), LocalChap: F(evil), OnlineChap: F("5"),
		Source: F(evil), Status: F(evil), Notes: F(evil), Filepath: F(evil),
		Author: F(evil), Description: F(evil), CoverPath: F(evil), TimeAgo: F(evil),
	}
}

// unescaped reports raw markup characters in html outside of the tags the cell itself writes.
func assertEscaped(t *testing.T, html string) {
	t.Helper()
	for _, bad := range []string{"<script>", `"x"`, "&'", `javascript:"`} {
		if strings.Contains(html, bad) {
			t.Errorf("output contains unescaped %q:\n%s", bad, html)
		}
	}
}

func TestCellsEscapeEveryValue(t *testing.T) {
	r := hostileRow()
	assertEscaped(t, Render(NameCell(r)))
	assertEscaped(t, Render(ActionsCell(r)))
	assertEscaped(t, Render(PopupContent(r.CoverPath.Value, r.Author.Value, r.Description.Value)))
	for _, c := range Columns {
		assertEscaped(t, Cell(c, r))
	}
}

func TestNameCell(t *testing.T) {
	got := Render(NameCell(Row{Name: F("Foo & <Bar>"), CoverPath: F("1.webp"), Author: F("A")}))
	for _, want := range []string{
		`>Foo &amp; &lt;Bar&gt;</a>`,
		`href="#"`,
		`data-img="static/img/cover/1.webp"`,
		`data-author="A"`,
		`class="novel-hover"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("NameCell() missing %q:\n%s", want, got)
		}
	}
}

func TestActionsCellCarriesUpdateFields(t *testing.T) {
	r := Row{ID: F("3"), Name: F("N"), URL: F("u"), Source: F("webnovel"), LocalChap: F("1"), OnlineChap: F("2"), Filepath: F("n.epub")}
	got := Render(ActionsCell(r))
	i := strings.Index(got, "btn-update")
	j := strings.Index(got, "btn-del")
	if i < 0 || j < i {
		t.Fatalf("buttons missing or out of order:\n%s", got)
	}
	update := got[i:j]
	for _, want := range []string{`data-id="3"`, `data-url="u"`, `data-source="webnovel"`, `data-localchap="1"`, `data-onlinechap="2"`, `data-filepath="n.epub"`} {
		if !strings.Contains(update, want) {
			t.Errorf("update button missing %s", want)
		}
	}
}

func TestPopupContent(t *testing.T) {
	got := Render(PopupContent("", "", ""))
	if got != "<b>Unknown</b><br><div></div>" {
		t.Errorf("PopupContent(empty) = %q", got)
	}
	long := strings.Repeat("é", 250)
	got = Render(PopupContent("static/img/cover/1.webp", "Author", long))
	if !strings.Contains(got, `<img src="static/img/cover/1.webp">`) {
		t.Errorf("missing image: %q", got)
	}
	if !strings.Contains(got, strings.Repeat("é", 200)+"…</div>") || strings.Contains(got, strings.Repeat("é", 201)) {
		t.Errorf("description not cut at 200 characters")
	}
	if got := PopupDescription("short"); got != "short…" {
		t.Errorf("PopupDescription() = %q", got)
	}
}

func TestRowDecodesMixedTypes(t *testing.T) {
	var rows []Row
	err := json.Unmarshal([]byte(`[{"id":1,"name":"A","localchap":12.5,"onlinechap":"20","timeago":null,"notes":true}]`), &rows)
	if err != nil {
		t.Fatal(err)
	}
	r := rows[0]
	if r.ID.Value != "1" || r.LocalChap.Value != "12.5" || r.OnlineChap.Value != "20" || r.Notes.Value != "true" {
		t.Errorf("row = %+v", r)
	}
	if r.TimeAgo.Valid || r.Status.Valid {
		t.Error("null or missing fields decoded as valid")
	}
	if r.Diff() != 7.5 {
		t.Errorf("Diff() = %v, want 7.5", r.Diff())
	}
}

func rows(n int) []Row {
	out := make([]Row, n)
	for i := range out {
		out[i] = Row{
			ID:         F(fmt.Sprint(i + 1)),
			Name:       F(fmt.Sprintf("Novel %02d", n-i)),
			LocalChap:  F(fmt.Sprint(i)),
			OnlineChap: F(fmt.Sprint(i * 2)),
			Source:     F([]string{"webnovel", "royalroad"}[i%2]),
			Notes:      F("note"),
		}
	}
	return out
}

func TestTableDefaults(t *testing.T) {
	tbl := NewTable()
	tbl.Load(rows(25))
	page := tbl.Page()
	if len(page.Rows) != 20 || page.Filtered != 25 {
		t.Fatalf("page = %d rows of %d", len(page.Rows), page.Filtered)
	}
	if page.Rows[0].Name.Value != "Novel 01" {
		t.Errorf("first row = %q, want name ascending", page.Rows[0].Name.Value)
	}
	for _, c := range tbl.VisibleColumns() {
		if c.Key == ColID || c.Key == ColNotes {
			t.Errorf("column %s visible by default", c.Key)
		}
	}
	if got := page.Info(); got != "Showing 1 to 20 of 25 entries" {
		t.Errorf("Info() = %q", got)
	}
}

func TestTableStateSurvivesReload(t *testing.T) {
	tbl := NewTable()
	tbl.Load(rows(30))
	if err := tbl.SetLength(10); err != nil {
		t.Fatal(err)
	}
	tbl.SetPage(2)
	if err := tbl.SetOrder(Order{Column: ColumnIndex(ColDiff), Desc: true}); err != nil {
		t.Fatal(err)
	}
	tbl.Load(rows(30))
	st := tbl.State()
	if st.Start != 20 || st.Length != 10 || !st.Order[0].Desc {
		t.Errorf("state after reload = %+v", st)
	}
	if got := tbl.Page().Rows[0].Diff(); got != 9 {
		t.Errorf("first diff on page 3 = %v, want 9", got)
	}

	tbl.Load(rows(12))
	if st := tbl.State(); st.Start != 10 {
		t.Errorf("start after shrink = %d, want 10", st.Start)
	}
}

func TestTableSearch(t *testing.T) {
	tbl := NewTable()
	tbl.Load(rows(10))
	tbl.SetSearch("ROYAL novel")
	if got := len(tbl.Filtered()); got != 5 {
		t.Errorf("global search matched %d rows, want 5", got)
	}
	tbl.SetSearch("")
	if err := tbl.SetColumnSearch(ColumnIndex(ColName), "novel 1"); err != nil {
		t.Fatal(err)
	}
	if got := tbl.Filtered(); len(got) != 1 || got[0].Name.Value != "Novel 10" {
		t.Errorf("column search = %+v", got)
	}
	if err := tbl.SetColumnSearch(ColumnIndex(ColActions), "x"); err == nil {
		t.Error("actions column accepted a search")
	}
	if page := tbl.Page(); page.Info() != "Showing 1 to 1 of 1 entries (filtered from 10 total entries)" {
		t.Errorf("Info() = %q", page.Info())
	}
}

func TestTableLengthMenu(t *testing.T) {
	tbl := NewTable()
	tbl.Load(rows(200))
	if err := tbl.SetLength(20); err == nil {
		t.Error("SetLength(20) accepted a length that is not in the menu")
	}
	if err := tbl.SetLength(LengthAll); err != nil {
		t.Fatal(err)
	}
	if got := len(tbl.Page().Rows); got != 200 {
		t.Errorf("All shows %d rows", got)
	}
}

func TestTableExport(t *testing.T) {
	tbl := NewTable()
	tbl.Load([]Row{
		{ID: F("1"), Name: F("B, the second"), LocalChap: F("1"), OnlineChap: F("3"), Source: F("s")},
		{ID: F("2"), Name: F("A\tfirst"), LocalChap: F("x"), OnlineChap: F("2")},
	})
	tbl.SetVisible(ColumnIndex(ColTimeAgo), false)
	tbl.SetVisible(ColumnIndex(ColStatus), false)

	lines := strings.Split(tbl.Copy(), "\n")
	if lines[0] != "Name\tLocal\tOnline\tDiff\tSource" {
		t.Errorf("copy header = %q", lines[0])
	}
	if lines[1] != "A first\tx\t2\t2\t" {
		t.Errorf("copy row = %q", lines[1])
	}

	csv := tbl.CSV()
	if !strings.Contains(csv, `"B, the second"`) {
		t.Errorf("CSV does not quote commas:\n%s", csv)
	}
	if strings.Contains(csv, "Actions") {
		t.Error("CSV exports the actions column")
	}
}

func TestTableHTML(t *testing.T) {
	tbl := NewTable()
	tbl.Load([]Row{{ID: F("1"), Name: F("<b>"), LocalChap: F("1"), OnlineChap: F("4")}})
	html := tbl.HTML()
	if !strings.Contains(html, "<td>3</td>") || !strings.Contains(html, "&lt;b&gt;") || !strings.Contains(html, "btn-edit") {
		t.Errorf("HTML() = %s", html)
	}
}

func TestTableHTMLConcurrentVisibility(t *testing.T) {
	tbl := NewTable()
	var rows []Row
	for i := range 30 {
		rows = append(rows, Row{ID: F(fmt.Sprint(i + 1)), Name: F(fmt.Sprintf("N%02d", i)), Notes: F("n")})
	}
	tbl.Load(rows)
	notes := ColumnIndex(ColNotes)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 200 {
			if err := tbl.SetVisible(notes, i%2 == 0); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	for range 200 {
		html := tbl.HTML()
		var cells []int
		for _, tr := range strings.Split(html, "<tr>")[1:] {
			cells = append(cells, strings.Count(tr, "<td>"))
		}
		for _, n := range cells {
			if n != cells[0] || (n != 8 && n != 9) {
				t.Fatalf("rendered rows with %v cells", cells)
			}
		}
	}
	<-done
}

func TestCellsSanitizeURLs(t *testing.T) {
	got := Render(NameCell(Row{Name: F("x"), URL: F("javascript:alert(1)")}))
	if strings.Contains(got, "javascript:") || !strings.Contains(got, `href="about:invalid#TemplFailedSanitizationURL"`) {
		t.Errorf("NameCell() kept a script URL:\n%s", got)
	}
	got = Render(NameCell(Row{Name: F("x"), URL: F("https://example.com/a?b=1&c=2")}))
	if !strings.Contains(got, `href="https://example.com/a?b=1&amp;c=2"`) {
		t.Errorf("NameCell() href:\n%s", got)
	}
	got = Render(PopupContent("javascript:alert(1)", "", ""))
	if strings.Contains(got, "javascript:") {
		t.Errorf("PopupContent() kept a script URL:\n%s", got)
	}
	got = Render(PopupContent(CoverPrefix+"1.webp", "", ""))
	if !strings.Contains(got, `<img src="static/img/cover/1.webp">`) {
		t.Errorf("PopupContent() cover:\n%s", got)
	}
}
