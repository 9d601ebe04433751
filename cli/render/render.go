// Package render formats command output for the pulse CLI.
//
// A terminal gets a table by default, anything else gets JSON. --format
// always wins. --no-color only affects tables.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format is an output format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a --format value. Empty means "pick a default".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatTable, FormatYAML, "":
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Table is implemented by values with a natural row layout.
type Table interface {
	Header() []string
	Rows() [][]string
}

// Renderer writes values in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer reads --format and --no-color from c.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatJSON
		if isTTY(os.Stdout) {
			format = FormatTable
		}
	}
	return &Renderer{format: format, noColor: c.Bool("no-color"), out: c.App.Writer}, nil
}

// NewRendererWithWriter creates a renderer writing to out.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Format returns the selected format.
func (r *Renderer) Format() Format { return r.format }

// Render writes data in the selected format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		return r.renderYAML(data)
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// renderYAML goes through JSON so keys match the API field names.
func (r *Renderer) renderYAML(data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func (r *Renderer) renderTable(data any) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	if t, ok := data.(Table); ok {
		rows := t.Rows()
		if len(rows) == 0 {
			_, err := fmt.Fprintln(w, "(no results)")
			return err
		}
		r.writeRow(w, r.header(t.Header()))
		for _, row := range rows {
			r.writeRow(w, row)
		}
		return nil
	}

	v := reflect.ValueOf(data)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			_, err := fmt.Fprintln(w, "(none)")
			return err
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			_, err := fmt.Fprintln(w, "(no results)")
			return err
		}
		for i := range v.Len() {
			row := reflect.Indirect(v.Index(i))
			if row.Kind() != reflect.Struct {
				r.writeRow(w, []string{formatValue(row)})
				continue
			}
			kvs := fields(row)
			if i == 0 {
				names := make([]string, len(kvs))
				for j, kv := range kvs {
					names[j] = kv[0]
				}
				r.writeRow(w, r.header(names))
			}
			cells := make([]string, len(kvs))
			for j, kv := range kvs {
				cells[j] = kv[1]
			}
			r.writeRow(w, cells)
		}
	case reflect.Struct:
		for _, kv := range fields(v) {
			r.writeRow(w, []string{r.key(kv[0] + ":"), kv[1]})
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			r.writeRow(w, []string{r.key(fmt.Sprint(iter.Key().Interface()) + ":"), formatValue(iter.Value())})
		}
	default:
		_, err := fmt.Fprintf(w, "%v\n", data)
		return err
	}
	return nil
}

func (r *Renderer) writeRow(w io.Writer, cells []string) {
	_, _ = fmt.Fprintln(w, strings.Join(cells, "\t"))
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	keyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func (r *Renderer) header(cells []string) []string {
	if r.noColor {
		return cells
	}
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = headerStyle.Render(c)
	}
	return out
}

func (r *Renderer) key(s string) string {
	if r.noColor {
		return s
	}
	return keyStyle.Render(s)
}

// fields flattens a struct into name/value pairs, inlining embedded
// structs the way encoding/json does.
func fields(v reflect.Value) [][2]string {
	var out [][2]string
	t := v.Type()
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, skip := fieldName(f)
		if skip {
			continue
		}
		fv := v.Field(i)
		if f.Anonymous {
			for fv.Kind() == reflect.Pointer {
				if fv.IsNil() {
					break
				}
				fv = fv.Elem()
			}
			if fv.Kind() == reflect.Struct {
				out = append(out, fields(fv)...)
			}
			continue
		}
		out = append(out, [2]string{name, formatValue(fv)})
	}
	return out
}

func fieldName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name, false
	}
	return strings.ToLower(f.Name), false
}

func formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if t, ok := v.Interface().(time.Time); ok {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	}
	if d, ok := v.Interface().(time.Duration); ok {
		return d.String()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		parts := make([]string, 0, v.NumField())
		for _, kv := range fields(v) {
			if kv[1] != "" && kv[1] != "0" && kv[1] != "false" {
				parts = append(parts, kv[0]+"="+kv[1])
			}
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(v.Interface())
	}
}

func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
