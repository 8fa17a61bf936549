package attackflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"attackflow/api/internal/annotation"
)

func testBuilder() *Builder {
	n := 0
	return &Builder{
		Now: func() time.Time { return time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC) },
		NewID: func() string {
			n++
			return fmt.Sprintf("00000000-0000-0000-0000-%012d", n)
		},
	}
}

func actionsOf(t *testing.T, b Bundle) []Action {
	t.Helper()
	var out []Action
	for _, obj := range b.Objects {
		if a, ok := obj.(Action); ok {
			out = append(out, a)
		}
	}
	return out
}

func flowOf(t *testing.T, b Bundle) Flow {
	t.Helper()
	for _, obj := range b.Objects {
		if f, ok := obj.(Flow); ok {
			return f
		}
	}
	t.Fatal("bundle has no attack-flow")
	return Flow{}
}

func TestBuildLinksRelationsAndStarts(t *testing.T) {
	items := []annotation.Annotation{
		{ID: 2, SelectedText: "exfiltrated over HTTPS", Tag: "Exfiltration", Code: "TA0010"},
		{ID: 0, SelectedText: "phishing email", Tag: "Initial Access", Code: "TA0001", RelatedIDs: []int{1}},
		{ID: 1, SelectedText: "macro ran PowerShell", Tag: "Execution", Code: "TA0002", RelatedIDs: []int{2, 7}},
	}
	b := testBuilder().Build("Campaign", "from report.pdf", items)

	if b.Type != "bundle" || b.Created != "2026-05-04T12:00:00.000Z" {
		t.Fatalf("unexpected bundle header %+v", b)
	}
	if len(b.Objects) != 6 {
		t.Fatalf("expected extension, identity, flow and 3 actions, got %d objects", len(b.Objects))
	}

	actions := actionsOf(t, b)
	if actions[0].AnnotationID != 0 || actions[1].AnnotationID != 1 || actions[2].AnnotationID != 2 {
		t.Fatalf("actions should be ordered by annotation id: %+v", actions)
	}
	if actions[0].TacticID != "TA0001" || actions[0].TacticName != "Initial Access" || actions[0].Name != "phishing email" {
		t.Fatalf("unexpected first action %+v", actions[0])
	}
	if len(actions[0].EffectRefs) != 1 || actions[0].EffectRefs[0] != actions[1].ID {
		t.Fatalf("0 should point at 1: %+v", actions[0].EffectRefs)
	}
	if len(actions[1].EffectRefs) != 1 || actions[1].EffectRefs[0] != actions[2].ID {
		t.Fatalf("dangling relation 7 must be dropped: %+v", actions[1].EffectRefs)
	}

	flow := flowOf(t, b)
	if len(flow.StartRefs) != 1 || flow.StartRefs[0] != actions[0].ID {
		t.Fatalf("expected only action 0 to start the flow, got %v", flow.StartRefs)
	}
	if flow.CreatedByRef != IdentityID || flow.Scope != "incident" {
		t.Fatalf("unexpected flow %+v", flow)
	}
}

func TestBuildCycleStartsAtFirstAnnotation(t *testing.T) {
	items := []annotation.Annotation{
		{ID: 0, SelectedText: "a", Tag: "Discovery", Code: "TA0007", RelatedIDs: []int{1}},
		{ID: 1, SelectedText: "b", Tag: "Collection", Code: "TA0009", RelatedIDs: []int{0}},
	}
	b := testBuilder().Build("loop", "", items)
	flow := flowOf(t, b)
	actions := actionsOf(t, b)
	if len(flow.StartRefs) != 1 || flow.StartRefs[0] != actions[0].ID {
		t.Fatalf("unexpected start refs %v", flow.StartRefs)
	}
}

func TestBuildEmpty(t *testing.T) {
	b := testBuilder().Build("empty", "", nil)
	if len(b.Objects) != 3 {
		t.Fatalf("expected only extension, identity and flow, got %d", len(b.Objects))
	}
	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "start_refs") {
		t.Fatalf("empty flow should omit start_refs: %s", raw)
	}
}

func TestBundleJSONShape(t *testing.T) {
	items := []annotation.Annotation{{ID: 0, SelectedText: "x", Tag: "Impact", Code: "TA0040"}}
	raw, err := json.Marshal(testBuilder().Build("n", "d", items))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded struct {
		Objects []map[string]any `json:"objects"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	types := make([]string, 0, len(decoded.Objects))
	for _, obj := range decoded.Objects {
		types = append(types, obj["type"].(string))
	}
	if strings.Join(types, ",") != "extension-definition,identity,attack-flow,attack-action" {
		t.Fatalf("unexpected object types %v", types)
	}
	action := decoded.Objects[3]
	if _, ok := action["AnnotationID"]; ok {
		t.Fatal("annotation id must not leak into STIX output")
	}
	ext := action["extensions"].(map[string]any)[ExtensionID].(map[string]any)
	if ext["extension_type"] != "new-sdo" {
		t.Fatalf("unexpected extension %v", ext)
	}
}
