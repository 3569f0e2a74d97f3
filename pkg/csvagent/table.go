package csvagent

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	maxRows         = 200000
	maxDistinct     = 1000
	sampleValues    = 3
	defaultGroupCap = 20
)

// Aggregation operations.
const (
	OpSum   = "sum"
	OpAvg   = "avg"
	OpCount = "count"
	OpMin   = "min"
	OpMax   = "max"
)

// Operations lists the supported aggregations.
var Operations = []string{OpSum, OpAvg, OpCount, OpMin, OpMax}

// Table is a parsed CSV file.
type Table struct {
	Header []string
	Rows   [][]string
	// Truncated is set when the file had more than maxRows rows.
	Truncated bool
}

// ReadTable parses CSV data with a header row.
func ReadTable(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("csv file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	t := &Table{Header: header}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row %d: %w", len(t.Rows)+2, err)
		}
		if len(t.Rows) >= maxRows {
			t.Truncated = true
			break
		}
		t.Rows = append(t.Rows, record)
	}
	return t, nil
}

// Column returns the index of a header, matching case-insensitively.
func (t *Table) Column(name string) (int, error) {
	for i, h := range t.Header {
		if strings.EqualFold(h, strings.TrimSpace(name)) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("unknown column %q (available: %s)", name, strings.Join(t.Header, ", "))
}

func (t *Table) cell(row []string, col int) string {
	if col < len(row) {
		return strings.TrimSpace(row[col])
	}
	return ""
}

// ColumnStats summarizes one column.
type ColumnStats struct {
	Name     string   `json:"name"`
	Numeric  bool     `json:"numeric"`
	NonEmpty int      `json:"non_empty"`
	Distinct int      `json:"distinct"`
	Min      float64  `json:"min,omitempty"`
	Max      float64  `json:"max,omitempty"`
	Mean     float64  `json:"mean,omitempty"`
	Sum      float64  `json:"sum,omitempty"`
	Samples  []string `json:"samples"`
}

// Describe computes per-column statistics. A column is numeric when every
// non-empty cell parses as a number.
func (t *Table) Describe() []ColumnStats {
	stats := make([]ColumnStats, len(t.Header))
	for col, name := range t.Header {
		s := ColumnStats{Name: name, Numeric: true, Min: math.Inf(1), Max: math.Inf(-1)}
		distinct := map[string]struct{}{}
		for _, row := range t.Rows {
			v := t.cell(row, col)
			if v == "" {
				continue
			}
			s.NonEmpty++
			if len(distinct) < maxDistinct {
				distinct[v] = struct{}{}
			}
			if len(s.Samples) < sampleValues && !contains(s.Samples, v) {
				s.Samples = append(s.Samples, v)
			}
			if !s.Numeric {
				continue
			}
			f, ok := parseNumber(v)
			if !ok {
				s.Numeric = false
				continue
			}
			s.Sum += f
			s.Min = math.Min(s.Min, f)
			s.Max = math.Max(s.Max, f)
		}
		s.Distinct = len(distinct)
		if s.NonEmpty == 0 {
			s.Numeric = false
		}
		if s.Numeric {
			s.Mean = s.Sum / float64(s.NonEmpty)
		} else {
			s.Min, s.Max, s.Sum = 0, 0, 0
		}
		stats[col] = s
	}
	return stats
}

// Group is one aggregated bucket.
type Group struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
	Count int     `json:"count"`
}

// Aggregate groups rows by groupBy and applies op to valueColumn. An empty
// groupBy aggregates the whole table into one bucket. Results are ordered by
// value, largest first, and capped at limit.
func (t *Table) Aggregate(groupBy, valueColumn, op string, limit int) ([]Group, error) {
	groups, err := t.group(groupBy, valueColumn, op)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Value > groups[j].Value })
	return capGroups(groups, limit), nil
}

// Series is Aggregate for ordered data such as periods: groups keep the
// order their key first appears in the table and the cap keeps the first
// limit of them.
func (t *Table) Series(groupBy, valueColumn, op string, limit int) ([]Group, error) {
	groups, err := t.group(groupBy, valueColumn, op)
	if err != nil {
		return nil, err
	}
	return capGroups(groups, limit), nil
}

func capGroups(groups []Group, limit int) []Group {
	if limit <= 0 {
		limit = defaultGroupCap
	}
	if len(groups) > limit {
		groups = groups[:limit]
	}
	return groups
}

// group buckets rows in first-appearance order.
func (t *Table) group(groupBy, valueColumn, op string) ([]Group, error) {
	if !contains(Operations, op) {
		return nil, fmt.Errorf("unsupported operation %q (use %s)", op, strings.Join(Operations, ", "))
	}
	groupCol := -1
	if groupBy != "" {
		c, err := t.Column(groupBy)
		if err != nil {
			return nil, err
		}
		groupCol = c
	}
	valueCol := -1
	if op != OpCount {
		c, err := t.Column(valueColumn)
		if err != nil {
			return nil, err
		}
		valueCol = c
	}

	type acc struct {
		sum, min, max float64
		n, rows       int
	}
	buckets := map[string]*acc{}
	var order []string

	for _, row := range t.Rows {
		key := "all"
		if groupCol >= 0 {
			key = t.cell(row, groupCol)
			if key == "" {
				key = "(blank)"
			}
		}
		a, ok := buckets[key]
		if !ok {
			a = &acc{min: math.Inf(1), max: math.Inf(-1)}
			buckets[key] = a
			order = append(order, key)
		}
		a.rows++
		if valueCol < 0 {
			continue
		}
		f, ok := parseNumber(t.cell(row, valueCol))
		if !ok {
			continue
		}
		a.n++
		a.sum += f
		a.min = math.Min(a.min, f)
		a.max = math.Max(a.max, f)
	}

	groups := make([]Group, 0, len(order))
	for _, key := range order {
		a := buckets[key]
		g := Group{Key: key, Count: a.rows}
		switch op {
		case OpCount:
			g.Value = float64(a.rows)
		case OpSum:
			g.Value = a.sum
		case OpAvg:
			if a.n > 0 {
				g.Value = a.sum / float64(a.n)
			}
		case OpMin:
			if a.n > 0 {
				g.Value = a.min
			}
		case OpMax:
			if a.n > 0 {
				g.Value = a.max
			}
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// parseNumber accepts plain numbers plus common currency, percent and
// thousands-separator formatting.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	s = strings.Trim(s, "()")
	s = strings.NewReplacer(",", "", "$", "", "€", "", "£", "", "%", "", " ", "").Replace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if negative {
		f = -f
	}
	return f, true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}
