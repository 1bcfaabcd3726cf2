package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"visitorlog/internal/model"
)

// Row is one raw training record. Problem is set when the line could not be
// read as CSV; the other fields are then empty.
type Row struct {
	Line         int
	Name         string
	Email        string
	Phone        string
	Company      string
	TrainingDate string
	Problem      string
}

// Parsed is an upload split into rows, in file order.
type Parsed struct {
	Rows     []Row
	Warnings []string
}

type column int

const (
	colName column = iota
	colEmail
	colPhone
	colCompany
	colDate
	numColumns
)

var headerAliases = map[string]column{
	"name":               colName,
	"full name":          colName,
	"fullname":           colName,
	"full_name":          colName,
	"email":              colEmail,
	"e-mail":             colEmail,
	"email address":      colEmail,
	"phone":              colPhone,
	"phone number":       colPhone,
	"telephone":          colPhone,
	"company":            colCompany,
	"organization":       colCompany,
	"training date":      colDate,
	"training_date":      colDate,
	"trainingdate":       colDate,
	"training completed": colDate,
	"completion date":    colDate,
	"date completed":     colDate,
	"date":               colDate,
	"completed":          colDate,
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Normalize strips a leading byte-order mark and converts CRLF and lone CR
// line endings to LF. It does not convert encodings.
func Normalize(raw []byte) []byte {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	raw = bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(raw, []byte("\r"), []byte("\n"))
}

// IsHeader reports whether a record looks like a header line.
func IsHeader(record []string) bool {
	line := strings.ToLower(strings.Join(record, ","))
	return strings.Contains(line, "name") || strings.Contains(line, "email")
}

// ParseRows splits normalized text into lines and reads each line as one CSV
// record, so a malformed line cannot run into the lines after it. Only the
// first non-blank line is considered as a header. When a header names its
// columns they are mapped by name; otherwise the order is name, email, phone,
// company, date.
func ParseRows(raw []byte) Parsed {
	var (
		out    Parsed
		layout = positional()
		first  = true
	)
	for i, line := range strings.Split(string(Normalize(raw)), "\n") {
		lineNo := i + 1
		if strings.TrimSpace(line) == "" {
			continue
		}
		record, err := readLine(line)
		if err != nil {
			first = false
			out.Rows = append(out.Rows, Row{Line: lineNo, Problem: "unreadable line: " + lineError(err)})
			continue
		}
		if blank(record) {
			continue
		}
		if first {
			first = false
			if IsHeader(record) {
				var warning string
				layout, warning = fromHeader(record)
				if warning != "" {
					out.Warnings = append(out.Warnings, warning)
				}
				continue
			}
		}
		out.Rows = append(out.Rows, Row{
			Line:         lineNo,
			Name:         field(record, layout[colName]),
			Email:        field(record, layout[colEmail]),
			Phone:        field(record, layout[colPhone]),
			Company:      field(record, layout[colCompany]),
			TrainingDate: field(record, layout[colDate]),
		})
	}
	return out
}

func readLine(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	return r.Read()
}

func lineError(err error) string {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	return err.Error()
}

func positional() [numColumns]int {
	var layout [numColumns]int
	for c := colName; c < numColumns; c++ {
		layout[c] = int(c)
	}
	return layout
}

// fromHeader maps columns by header alias. When the header names other
// columns but not the training date, dates are read from the positional
// date column if that column is otherwise unclaimed, and a warning says so.
func fromHeader(record []string) ([numColumns]int, string) {
	layout := [numColumns]int{-1, -1, -1, -1, -1}
	claimed := map[int]bool{}
	matched := false
	for i, h := range record {
		c, ok := headerAliases[strings.ToLower(strings.TrimSpace(h))]
		if ok && layout[c] == -1 {
			layout[c] = i
			claimed[i] = true
			matched = true
		}
	}
	if !matched {
		return positional(), ""
	}
	if layout[colDate] != -1 {
		return layout, ""
	}
	pos := int(colDate)
	if pos < len(record) && !claimed[pos] {
		layout[colDate] = pos
		return layout, fmt.Sprintf("header column %q is not a known training date column; reading dates from column %d",
			strings.TrimSpace(record[pos]), pos+1)
	}
	return layout, "header has no training date column; every row falls back to the missing date rule"
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// dateLayouts are tried in order: ISO, US, then EU. An ambiguous date such as
// 03/04/2024 therefore reads as March 4.
var dateLayouts = []string{"2006-1-2", "1/2/2006", "2/1/2006"}

// ParseDate parses a training date into a civil date.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.Date(t.Year(), t.Month(), t.Day()), true
		}
	}
	return time.Time{}, false
}
