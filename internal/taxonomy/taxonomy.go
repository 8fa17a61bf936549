// Package taxonomy holds the fixed list of tactic labels an annotation can be
// tagged with, together with their MITRE ATT&CK codes.
package taxonomy

import "encoding/json"

// Tactic is one (label, code) pair. It travels on the wire as a two element
// array: ["Execution", "TA0002"].
type Tactic struct {
	Label string
	Code  string
}

func (t Tactic) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{t.Label, t.Code})
}

func (t *Tactic) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	t.Label, t.Code = pair[0], pair[1]
	return nil
}

// Enterprise is the ATT&CK enterprise tactic list in kill-chain order.
var Enterprise = []Tactic{
	{Label: "Reconnaissance", Code: "TA0043"},
	{Label: "Resource Development", Code: "TA0042"},
	{Label: "Initial Access", Code: "TA0001"},
	{Label: "Execution", Code: "TA0002"},
	{Label: "Persistence", Code: "TA0003"},
	{Label: "Privilege Escalation", Code: "TA0004"},
	{Label: "Defense Evasion", Code: "TA0005"},
	{Label: "Credential Access", Code: "TA0006"},
	{Label: "Discovery", Code: "TA0007"},
	{Label: "Lateral Movement", Code: "TA0008"},
	{Label: "Collection", Code: "TA0009"},
	{Label: "Command and Control", Code: "TA0011"},
	{Label: "Exfiltration", Code: "TA0010"},
	{Label: "Impact", Code: "TA0040"},
}

// Registry is a read-only ordered lookup over a tactic list. It is safe for
// concurrent use since nothing mutates it after construction.
type Registry struct {
	entries []Tactic
	byLabel map[string]string
}

// New builds a registry from entries. Later duplicates of a label are ignored.
func New(entries []Tactic) *Registry {
	r := &Registry{
		entries: make([]Tactic, 0, len(entries)),
		byLabel: make(map[string]string, len(entries)),
	}
	for _, entry := range entries {
		if _, exists := r.byLabel[entry.Label]; exists {
			continue
		}
		r.entries = append(r.entries, entry)
		r.byLabel[entry.Label] = entry.Code
	}
	return r
}

// Default returns the enterprise registry.
func Default() *Registry {
	return New(Enterprise)
}

// Entries returns a copy of the list in registry order.
func (r *Registry) Entries() []Tactic {
	out := make([]Tactic, len(r.entries))
	copy(out, r.entries)
	return out
}

// Code resolves the code for label.
func (r *Registry) Code(label string) (string, bool) {
	code, ok := r.byLabel[label]
	return code, ok
}

// Valid reports whether label exists and code is the one assigned to it.
func (r *Registry) Valid(label, code string) bool {
	expected, ok := r.byLabel[label]
	return ok && expected == code
}

func (r *Registry) Len() int {
	return len(r.entries)
}
