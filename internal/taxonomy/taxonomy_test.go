package taxonomy

import (
	"encoding/json"
	"testing"
)

func TestDefaultRegistryOrderIsStable(t *testing.T) {
	first := Default().Entries()
	second := Default().Entries()
	if len(first) != 14 {
		t.Fatalf("expected 14 tactics, got %d", len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("entry %d differs between registries: %v vs %v", i, first[i], second[i])
		}
	}
	if first[0].Label != "Reconnaissance" || first[len(first)-1].Label != "Impact" {
		t.Fatalf("unexpected ordering: first=%s last=%s", first[0].Label, first[len(first)-1].Label)
	}
}

func TestRegistryLookup(t *testing.T) {
	registry := Default()

	code, ok := registry.Code("Execution")
	if !ok || code != "TA0002" {
		t.Fatalf("Code(Execution) = %q, %v", code, ok)
	}
	if _, ok := registry.Code("Not a tactic"); ok {
		t.Fatal("expected unknown label to be absent")
	}
	if !registry.Valid("Command and Control", "TA0011") {
		t.Fatal("expected Command and Control/TA0011 to be valid")
	}
	if registry.Valid("Exfiltration", "TA0011") {
		t.Fatal("expected mismatched code to be invalid")
	}
}

func TestEntriesReturnsCopy(t *testing.T) {
	registry := Default()
	entries := registry.Entries()
	entries[0].Code = "changed"
	if code, _ := registry.Code("Reconnaissance"); code != "TA0043" {
		t.Fatalf("registry mutated through Entries(): %s", code)
	}
}

func TestNewIgnoresDuplicateLabels(t *testing.T) {
	registry := New([]Tactic{{Label: "A", Code: "1"}, {Label: "A", Code: "2"}})
	if registry.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", registry.Len())
	}
	if code, _ := registry.Code("A"); code != "1" {
		t.Fatalf("expected first code to win, got %s", code)
	}
}

func TestTacticWireShape(t *testing.T) {
	payload, err := json.Marshal(Default().Entries()[:2])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `[["Reconnaissance","TA0043"],["Resource Development","TA0042"]]`
	if string(payload) != want {
		t.Fatalf("got %s want %s", payload, want)
	}

	var decoded []Tactic
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded[1].Code != "TA0042" {
		t.Fatalf("unexpected decoded tactic: %+v", decoded[1])
	}
}
