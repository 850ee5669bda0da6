package render

import (
	"fmt"
	"io"
	"reflect"
	"slices"
	"strings"
	"text/tabwriter"
	"time"
)

// table is either a header plus rows (slices) or key/value pairs (a
// single struct or map).
type table struct {
	header []string
	rows   [][]string
	pairs  [][2]string
	empty  bool
	plain  string
}

func (t *table) write(out io.Writer) error {
	if t.empty {
		_, err := fmt.Fprintln(out, "(no results)")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	switch {
	case t.header != nil:
		fmt.Fprintln(w, strings.Join(t.header, "\t"))
		for _, row := range t.rows {
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
	case t.pairs != nil:
		for _, p := range t.pairs {
			fmt.Fprintf(w, "%s:\t%s\n", p[0], p[1])
		}
	default:
		fmt.Fprintln(w, t.plain)
	}
	return w.Flush()
}

func buildTable(data any) *table {
	v := indirect(reflect.ValueOf(data))
	if v.Kind() == reflect.Slice {
		return listTable(v)
	}

	t := &table{}
	switch v.Kind() {
	case reflect.Struct:
		for i := range v.NumField() {
			t.pairs = append(t.pairs, [2]string{columnName(v.Type().Field(i)), cell(v.Field(i))})
		}
	case reflect.Map:
		for _, k := range sortedKeys(v) {
			t.pairs = append(t.pairs, [2]string{fmt.Sprint(k.Interface()), cell(v.MapIndex(k))})
		}
	default:
		t.plain = fmt.Sprint(data)
	}
	if t.pairs == nil && t.plain == "" {
		t.pairs = [][2]string{}
	}
	return t
}

// listTable takes its columns from the first element.
func listTable(v reflect.Value) *table {
	if v.Len() == 0 {
		return &table{empty: true}
	}

	first := indirect(v.Index(0))
	t := &table{header: []string{}}
	switch first.Kind() {
	case reflect.Struct:
		for i := range first.NumField() {
			t.header = append(t.header, columnName(first.Type().Field(i)))
		}
	case reflect.Map:
		for _, k := range sortedKeys(first) {
			t.header = append(t.header, fmt.Sprint(k.Interface()))
		}
	default:
		t.header = []string{"value"}
	}

	for i := range v.Len() {
		t.rows = append(t.rows, rowCells(indirect(v.Index(i)), t.header))
	}
	return t
}

func rowCells(v reflect.Value, header []string) []string {
	switch v.Kind() {
	case reflect.Struct:
		out := make([]string, v.NumField())
		for i := range out {
			out[i] = cell(v.Field(i))
		}
		return out
	case reflect.Map:
		out := make([]string, len(header))
		for i, h := range header {
			out[i] = cell(v.MapIndex(reflect.ValueOf(h)))
		}
		return out
	default:
		return []string{cell(v)}
	}
}

// columnName prefers the json tag so table headers match json keys.
func columnName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name != "" && name != "-" {
		return name
	}
	return strings.ToLower(f.Name)
}

// cell flattens one value into a single table cell.
func cell(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		n := v.Len()
		switch {
		case n == 0:
			return "[]"
		case v.Type().Elem().Kind() == reflect.String && n <= 4:
			parts := make([]string, n)
			for i := range parts {
				parts[i] = v.Index(i).String()
			}
			return strings.Join(parts, ",")
		}
		return fmt.Sprintf("[%d items]", n)
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Sprintf("{%d keys}", v.Len())
		}
		parts := make([]string, 0, v.Len())
		for _, k := range sortedKeys(v) {
			parts = append(parts, k.String()+"="+fmt.Sprint(v.MapIndex(k).Interface()))
		}
		return strings.Join(parts, " ")
	case reflect.Struct:
		if t, ok := v.Interface().(time.Time); ok {
			return t.UTC().Format(time.RFC3339)
		}
		return "{...}"
	}
	return fmt.Sprint(v.Interface())
}

func indirect(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Ptr && !v.IsNil() {
		return v.Elem()
	}
	return v
}

func sortedKeys(v reflect.Value) []reflect.Value {
	keys := v.MapKeys()
	slices.SortFunc(keys, func(a, b reflect.Value) int {
		return strings.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
	})
	return keys
}
