// Package attackflow builds a STIX 2.1 bundle in the Attack Flow 2.0 language
// from a saved version's annotations.
package attackflow

import (
	"sort"
	"time"

	"attackflow/api/internal/annotation"

	"github.com/google/uuid"
)

const (
	ExtensionID = "extension-definition--fb9c968a-745b-4ade-9b25-c324172197f4"
	IdentityID  = "identity--f685eafd-6ae2-4685-a0e6-4dcc3ca3b7e5"

	timeLayout = "2006-01-02T15:04:05.000Z"
)

type extensionRef struct {
	ExtensionType string `json:"extension_type"`
}

type externalReference struct {
	SourceName  string `json:"source_name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}

type ExtensionDefinition struct {
	Type               string              `json:"type"`
	ID                 string              `json:"id"`
	SpecVersion        string              `json:"spec_version"`
	Created            string              `json:"created"`
	Modified           string              `json:"modified"`
	Name               string              `json:"name"`
	Description        string              `json:"description"`
	CreatedByRef       string              `json:"created_by_ref"`
	Schema             string              `json:"schema"`
	Version            string              `json:"version"`
	ExtensionTypes     []string            `json:"extension_types"`
	ExternalReferences []externalReference `json:"external_references"`
}

type Identity struct {
	Type          string `json:"type"`
	ID            string `json:"id"`
	SpecVersion   string `json:"spec_version"`
	Created       string `json:"created"`
	Modified      string `json:"modified"`
	CreatedByRef  string `json:"created_by_ref"`
	Name          string `json:"name"`
	IdentityClass string `json:"identity_class"`
}

type Flow struct {
	Type         string                  `json:"type"`
	ID           string                  `json:"id"`
	SpecVersion  string                  `json:"spec_version"`
	Created      string                  `json:"created"`
	Modified     string                  `json:"modified"`
	Extensions   map[string]extensionRef `json:"extensions"`
	CreatedByRef string                  `json:"created_by_ref"`
	Name         string                  `json:"name"`
	Description  string                  `json:"description,omitempty"`
	Scope        string                  `json:"scope"`
	StartRefs    []string                `json:"start_refs,omitempty"`
}

// Action is one annotated passage as an attack-action.
type Action struct {
	Type        string                  `json:"type"`
	ID          string                  `json:"id"`
	SpecVersion string                  `json:"spec_version"`
	Created     string                  `json:"created"`
	Modified    string                  `json:"modified"`
	Extensions  map[string]extensionRef `json:"extensions"`
	Name        string                  `json:"name"`
	TacticID    string                  `json:"tactic_id"`
	TacticName  string                  `json:"tactic_name"`
	Description string                  `json:"description,omitempty"`
	EffectRefs  []string                `json:"effect_refs,omitempty"`
	// AnnotationID ties the action back to its annotation; not part of STIX output.
	AnnotationID int `json:"-"`
}

type Bundle struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	SpecVersion string `json:"spec_version"`
	Created     string `json:"created"`
	Modified    string `json:"modified"`
	Objects     []any  `json:"objects"`
}

// Builder creates bundles; Now and NewID are replaceable for deterministic tests.
type Builder struct {
	Now   func() time.Time
	NewID func() string
}

func NewBuilder() *Builder {
	return &Builder{Now: time.Now, NewID: uuid.NewString}
}

// Build converts annotations into a flow. Each annotation becomes an
// attack-action; its related ids become effect_refs; actions no other action
// points at start the flow.
func (b *Builder) Build(name, description string, items []annotation.Annotation) Bundle {
	stamp := b.Now().UTC().Format(timeLayout)
	ext := map[string]extensionRef{ExtensionID: {ExtensionType: "new-sdo"}}

	sorted := append([]annotation.Annotation(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	actionIDs := make(map[int]string, len(sorted))
	for _, item := range sorted {
		actionIDs[item.ID] = "attack-action--" + b.NewID()
	}

	referenced := make(map[int]bool)
	actions := make([]Action, 0, len(sorted))
	for _, item := range sorted {
		action := Action{
			Type:         "attack-action",
			ID:           actionIDs[item.ID],
			SpecVersion:  "2.1",
			Created:      stamp,
			Modified:     stamp,
			Extensions:   ext,
			Name:         item.SelectedText,
			TacticID:     item.Code,
			TacticName:   item.Tag,
			Description:  item.Tag + " (" + item.Code + ")",
			AnnotationID: item.ID,
		}
		for _, rel := range item.RelatedIDs {
			ref, ok := actionIDs[rel]
			if !ok || rel == item.ID {
				continue
			}
			action.EffectRefs = append(action.EffectRefs, ref)
			referenced[rel] = true
		}
		actions = append(actions, action)
	}

	flow := Flow{
		Type:         "attack-flow",
		ID:           "attack-flow--" + b.NewID(),
		SpecVersion:  "2.1",
		Created:      stamp,
		Modified:     stamp,
		Extensions:   ext,
		CreatedByRef: IdentityID,
		Name:         name,
		Description:  description,
		Scope:        "incident",
	}
	for _, action := range actions {
		if !referenced[action.AnnotationID] {
			flow.StartRefs = append(flow.StartRefs, action.ID)
		}
	}
	// A fully cyclic graph has no natural start; begin at the first annotation.
	if len(flow.StartRefs) == 0 && len(actions) > 0 {
		flow.StartRefs = []string{actions[0].ID}
	}

	objects := []any{extensionDefinition(), identity(), flow}
	for _, action := range actions {
		objects = append(objects, action)
	}
	return Bundle{
		Type:        "bundle",
		ID:          "bundle--" + b.NewID(),
		SpecVersion: "2.1",
		Created:     stamp,
		Modified:    stamp,
		Objects:     objects,
	}
}

func extensionDefinition() ExtensionDefinition {
	return ExtensionDefinition{
		Type:           "extension-definition",
		ID:             ExtensionID,
		SpecVersion:    "2.1",
		Created:        "2022-08-02T19:34:35.143Z",
		Modified:       "2022-08-02T19:34:35.143Z",
		Name:           "Attack Flow",
		Description:    "Extends STIX 2.1 with features to create Attack Flows.",
		CreatedByRef:   "identity--fb9c968a-745b-4ade-9b25-c324172197f4",
		Schema:         "https://center-for-threat-informed-defense.github.io/attack-flow/stix/attack-flow-schema-2.0.0.json",
		Version:        "2.0.0",
		ExtensionTypes: []string{"new-sdo"},
		ExternalReferences: []externalReference{
			{SourceName: "Documentation", Description: "Documentation for Attack Flow", URL: "https://center-for-threat-informed-defense.github.io/attack-flow"},
			{SourceName: "GitHub", Description: "Source code repository for Attack Flow", URL: "https://github.com/center-for-threat-informed-defense/attack-flow"},
		},
	}
}

func identity() Identity {
	return Identity{
		Type:          "identity",
		ID:            IdentityID,
		SpecVersion:   "2.1",
		Created:       "2023-08-01T19:34:35.143Z",
		Modified:      "2023-08-01T19:34:35.143Z",
		CreatedByRef:  IdentityID,
		Name:          "MITRE ATT&CK annotator",
		IdentityClass: "system",
	}
}
