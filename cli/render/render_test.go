package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/gatehouse/lode"
	"github.com/pithecene-io/gatehouse/runtime"
)

func replayFixture() *runtime.ReplayResult {
	return &runtime.ReplayResult{
		Entries: []runtime.ReplayEntry{
			{Index: 0, Kind: "event", ContentType: "application/json", EventType: "AccessControllerEvent",
				EmployeeNo: "1042", IPAddress: "192.168.1.64", DateTime: "2024-03-09T14:05:07+01:00", Eligible: true, Size: 212},
			{Index: 1, Kind: "filtered", ContentType: "application/json", EventType: "videoloss", Size: 48},
			{Index: 2, Kind: "artifact", ContentType: "image/jpeg", Filename: "20000101000000_event_image.jpg", Size: 5120},
		},
		Counts:   map[string]int64{"filtered": 1, "event": 1, "artifact": 1},
		Eligible: 1,
	}
}

func outcomeFixture() []lode.OutcomeRecord {
	return []lode.OutcomeRecord{
		{Day: "2024-03-09", Outcome: "delivered", TaskID: "t-1", EmployeeNo: "1042", Attempts: 1, Status: 200, FinishedAt: "2024-03-09T13:05:08Z"},
		{Day: "2024-03-09", Outcome: "rejected", TaskID: "t-2", EmployeeNo: "77", Attempts: 1, Status: 404, Error: "unknown employee", FinishedAt: "2024-03-09T13:07:00Z"},
	}
}

func render(t *testing.T, f Format, data any) string {
	t.Helper()
	var buf bytes.Buffer
	if err := NewRendererWithWriter(f, false, &buf).Render(data); err != nil {
		t.Fatalf("Render(%s): %v", f, err)
	}
	return buf.String()
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", "", false},
		{"Table", FormatTable, false},
		{"YAML", FormatYAML, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
		if err != nil && !strings.Contains(err.Error(), "json, table, or yaml") {
			t.Errorf("error should list the formats: %v", err)
		}
	}
}

func TestRender_ReplayEntriesTable(t *testing.T) {
	got := render(t, FormatTable, replayFixture().Entries)
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header + 3 rows:\n%s", len(lines), got)
	}

	header := strings.Fields(lines[0])
	if header[0] != "index" || header[1] != "kind" || header[len(header)-1] != "error" {
		t.Errorf("header = %v", header)
	}
	for i, want := range []string{"1042", "videoloss", "20000101000000_event_image.jpg"} {
		if !strings.Contains(lines[i+1], want) {
			t.Errorf("row %d missing %q: %s", i, want, lines[i+1])
		}
	}
	if !strings.Contains(lines[1], "true") || !strings.Contains(lines[2], "false") {
		t.Errorf("eligible column wrong:\n%s", got)
	}
}

func TestRender_ReplayResultTable(t *testing.T) {
	got := render(t, FormatTable, replayFixture())
	for _, want := range []string{"entries:", "[3 items]", "artifact=1 event=1 filtered=1", "eligible:", "trailing_bytes:"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q:\n%s", want, got)
		}
	}
}

func TestRender_CountsSorted(t *testing.T) {
	got := render(t, FormatTable, replayFixture().Counts)
	a, e, f := strings.Index(got, "artifact:"), strings.Index(got, "event:"), strings.Index(got, "filtered:")
	if a < 0 || a > e || e > f {
		t.Errorf("counts not sorted:\n%s", got)
	}
}

func TestRender_OutcomeRecordsRoundTrip(t *testing.T) {
	want := outcomeFixture()

	var fromJSON []lode.OutcomeRecord
	if err := json.Unmarshal([]byte(render(t, FormatJSON, want)), &fromJSON); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(fromJSON) != 2 || fromJSON[1] != want[1] {
		t.Errorf("json records = %+v", fromJSON)
	}

	var fromYAML []map[string]any
	if err := yaml.Unmarshal([]byte(render(t, FormatYAML, want)), &fromYAML); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if len(fromYAML) != 2 || fromYAML[1]["outcome"] != "rejected" {
		t.Errorf("yaml records = %v", fromYAML)
	}
}

func TestRender_OutcomeRecordsTableUsesJSONNames(t *testing.T) {
	got := render(t, FormatTable, outcomeFixture())
	for _, want := range []string{"record_kind", "employee_no", "finished_at", "unknown employee", "404"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q:\n%s", want, got)
		}
	}
}

func TestRender_NoRecords(t *testing.T) {
	if got := render(t, FormatTable, []lode.OutcomeRecord{}); !strings.Contains(got, "(no results)") {
		t.Errorf("got %q", got)
	}
}

func TestRender_TableCells(t *testing.T) {
	type report struct {
		Only    []string          `json:"only"`
		Many    []string          `json:"many"`
		Started time.Time         `json:"started"`
		Headers map[string]string `json:"headers"`
		Skip    *int              `json:"skip"`
	}
	got := render(t, FormatTable, report{
		Only:    []string{"exhausted", "rejected"},
		Many:    []string{"a", "b", "c", "d", "e"},
		Started: time.Date(2024, 3, 9, 13, 5, 20, 0, time.FixedZone("CST", -6*3600)),
		Headers: map[string]string{"X-Site": "w2", "Authorization": "t"},
	})
	for _, want := range []string{"exhausted,rejected", "[5 items]", "2024-03-09T19:05:20Z", "Authorization=t X-Site=w2"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q:\n%s", want, got)
		}
	}
}

func TestRenderTUI_Unsupported(t *testing.T) {
	err := NewRendererWithWriter(FormatTable, true, &bytes.Buffer{}).RenderTUI("pending", nil)
	if err == nil || !strings.Contains(err.Error(), "not supported for pending") {
		t.Errorf("err = %v", err)
	}
}
