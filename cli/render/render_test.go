package render

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{" table ", FormatTable, false},
		{"yaml", FormatYAML, false},
		{"", "", false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
	if _, err := ParseFormat("csv"); err == nil || !strings.Contains(err.Error(), "json, table, or yaml") {
		t.Errorf("error should list valid formats, got %v", err)
	}
}

type Inner struct {
	Commits int `json:"commits"`
}

type summary struct {
	Inner
	User      string    `json:"user"`
	Generated time.Time `json:"generatedAt"`
	Weeks     []int     `json:"weeks"`
	Secret    string    `json:"-"`
	Last4     Inner     `json:"last4Weeks"`
}

func sample() summary {
	return summary{
		Inner:     Inner{Commits: 9},
		User:      "octo",
		Generated: time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
		Weeks:     []int{1, 2},
		Secret:    "hidden",
		Last4:     Inner{Commits: 4},
	}
}

func render(t *testing.T, f Format, data any) string {
	t.Helper()
	var buf bytes.Buffer
	if err := NewRendererWithWriter(f, true, &buf).Render(data); err != nil {
		t.Fatalf("Render(%s): %v", f, err)
	}
	return buf.String()
}

func TestRender_Table_Struct(t *testing.T) {
	got := render(t, FormatTable, sample())
	for _, want := range []string{"commits:", "9", "user:", "octo", "generatedAt:", "2026-03-10T15:00:00Z", "[2 items]", "commits=4"} {
		if !strings.Contains(got, want) {
			t.Errorf("table missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "hidden") {
		t.Errorf("json:\"-\" field rendered:\n%s", got)
	}
}

func TestRender_Table_Slice(t *testing.T) {
	got := render(t, FormatTable, []summary{sample(), {User: "hubot"}})
	lines := strings.Split(strings.TrimSpace(got), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d:\n%s", len(lines), got)
	}
	if !strings.HasPrefix(lines[0], "commits") || !strings.Contains(lines[2], "hubot") {
		t.Errorf("table:\n%s", got)
	}
	if got := render(t, FormatTable, []string{}); !strings.Contains(got, "(no results)") {
		t.Errorf("empty slice = %q", got)
	}
}

type repoTable []string

func (r repoTable) Header() []string { return []string{"NAME"} }
func (r repoTable) Rows() [][]string {
	rows := make([][]string, len(r))
	for i, n := range r {
		rows[i] = []string{n}
	}
	return rows
}

func TestRender_Table_Interface(t *testing.T) {
	got := render(t, FormatTable, repoTable{"alpha", "beta"})
	if got != "NAME\nalpha\nbeta\n" {
		t.Errorf("table = %q", got)
	}
}

func TestRender_YAMLUsesJSONNames(t *testing.T) {
	got := render(t, FormatYAML, sample())
	if !strings.Contains(got, "generatedAt:") || !strings.Contains(got, "last4Weeks:") {
		t.Errorf("yaml:\n%s", got)
	}
	if strings.Contains(got, "Generated:") {
		t.Errorf("yaml used Go field names:\n%s", got)
	}
}

func TestRender_NoColorDoesNotAffectJSON(t *testing.T) {
	var a, b bytes.Buffer
	data := map[string]string{"key": "value"}
	if err := NewRendererWithWriter(FormatJSON, false, &a).Render(data); err != nil {
		t.Fatal(err)
	}
	if err := NewRendererWithWriter(FormatJSON, true, &b).Render(data); err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() {
		t.Error("--no-color changed JSON output")
	}
}
