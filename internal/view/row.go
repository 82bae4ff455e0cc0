// Package view renders novel rows for the browser table and keeps the table's
// sort, filter, paging and visibility state.
package view

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Field is a record value as the API delivers it: a string, a number or null.
// Numbers keep their JSON text.
type Field struct {
	Value string
	Valid bool
}

// F returns a non-null field.
func F(v string) Field { return Field{Value: v, Valid: true} }

// UnmarshalJSON accepts strings, numbers, booleans and null.
func (f *Field) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = Field{}
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = F(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err == nil {
			*f = F(n.String())
			return nil
		}
		var v bool
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = F(strconv.FormatBool(v))
		return nil
	}
}

// MarshalJSON writes null for an absent value.
func (f Field) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// String returns the value, "" when null.
func (f Field) String() string { return f.Value }

// Row is one novel as the table sees it.
type Row struct {
	ID             Field `json:"id"`
	Name           Field `json:"name"`
	URL            Field `json:"url"`
	LocalChap      Field `json:"localchap"`
	OnlineChap     Field `json:"onlinechap"`
	LatestChapTime Field `json:"latestchaptime"`
	TimeAgo        Field `json:"timeago"`
	Status         Field `json:"status"`
	Source         Field `json:"source"`
	Notes          Field `json:"notes"`
	Filepath       Field `json:"filepath"`
	EpubExists     Field `json:"epubexists"`
	Author         Field `json:"author"`
	Description    Field `json:"description"`
	CoverPath      Field `json:"cover_path"`
}

// Diff is the online minus the local chapter count of the row.
func (r Row) Diff() float64 { return Diff(r.LocalChap.Value, r.OnlineChap.Value) }

var decimalNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// Number converts s the way a browser's Number() does, mapping NaN to 0.
func Number(s string) float64 {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return 0
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil {
				return 0
			}
			return float64(n)
		}
	}
	if !decimalNumber.MatchString(s) {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Diff returns Number(online) - Number(local).
func Diff(local, online string) float64 {
	d := Number(online) - Number(local)
	if math.IsNaN(d) {
		return 0
	}
	return d
}

// FormatNumber prints f like the browser prints a number.
func FormatNumber(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
