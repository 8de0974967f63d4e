package models

import (
	"fmt"
	"sort"
	"strings"
)

// Entity labels produced by the recognizer
const (
	LabelContributor = "CONTRIBUTOR"
	LabelLocation    = "LOCATION"
	LabelClipType    = "CLIP_TYPE"
)

// Extraction buckets
const (
	CategoryContributors = "contributors"
	CategoryLocations    = "locations"
	CategoryClipTypes    = "clip_types"
)

// Categories lists the extraction buckets in output order
func Categories() []string {
	return []string{CategoryContributors, CategoryLocations, CategoryClipTypes}
}

// AvailableEntities is a per-project snapshot of the known entities.
// Contributors, Locations and Cameras map identifier to display name.
type AvailableEntities struct {
	ProjectID    string            `json:"project_id" yaml:"project_id"`
	Contributors map[string]string `json:"contributors" yaml:"contributors"`
	Locations    map[string]string `json:"locations" yaml:"locations"`
	Cameras      map[string]string `json:"cameras" yaml:"cameras"`
	ClipTypes    []string          `json:"clip_types" yaml:"clip_types"`
	ShootDates   []string          `json:"shoot_dates" yaml:"shoot_dates"`
}

// Validate checks that every identifier and display name is usable
func (a *AvailableEntities) Validate() error {
	if a == nil {
		return fmt.Errorf("catalog is nil")
	}
	for name, m := range map[string]map[string]string{
		"contributors": a.Contributors,
		"locations":    a.Locations,
		"cameras":      a.Cameras,
	} {
		for id, display := range m {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("%s: empty identifier for %q", name, display)
			}
			if strings.TrimSpace(display) == "" {
				return fmt.Errorf("%s: empty display name for %q", name, id)
			}
		}
	}
	for _, ct := range a.ClipTypes {
		if strings.TrimSpace(ct) == "" {
			return fmt.Errorf("clip_types: empty value")
		}
	}
	for _, d := range a.ShootDates {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("shoot_dates: empty value")
		}
	}
	return nil
}

// SortedClipTypes returns the distinct clip types in lexical order
func (a *AvailableEntities) SortedClipTypes() []string {
	return distinctSorted(a.ClipTypes)
}

// ClipType returns the catalog's spelling of clipType, matched ignoring case
func (a *AvailableEntities) ClipType(clipType string) (string, bool) {
	for _, ct := range a.ClipTypes {
		if strings.EqualFold(ct, clipType) {
			return ct, true
		}
	}
	return "", false
}

// Normalize removes duplicates from the set-valued fields
func (a *AvailableEntities) Normalize() {
	a.ClipTypes = distinctSorted(a.ClipTypes)
	a.ShootDates = distinctSorted(a.ShootDates)
}

func distinctSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Span is a contiguous piece of the query tagged with a label
type Span struct {
	Text  string  `json:"text"`
	Label string  `json:"label"`
	Start int     `json:"start"`
	End   int     `json:"end"`
	Score float64 `json:"score"`
}

// ExtractedEntities holds the catalog identifiers found in a query
type ExtractedEntities struct {
	Entities    map[string][]string `json:"entities"`
	Normalized  map[string][]string `json:"normalized,omitempty"`
	Confidence  map[string]float64  `json:"confidence,omitempty"`
	Explanation string              `json:"explanation,omitempty"`
	Unresolved  []Span              `json:"unresolved,omitempty"`
}

// NewExtractedEntities returns a result with every bucket present and empty
func NewExtractedEntities() *ExtractedEntities {
	e := &ExtractedEntities{
		Entities:   make(map[string][]string, 3),
		Normalized: make(map[string][]string, 3),
		Confidence: make(map[string]float64, 3),
	}
	for _, c := range Categories() {
		e.Entities[c] = []string{}
		e.Normalized[c] = []string{}
	}
	return e
}

// Empty reports whether no bucket holds a value
func (e *ExtractedEntities) Empty() bool {
	if e == nil {
		return true
	}
	for _, ids := range e.Entities {
		if len(ids) > 0 {
			return false
		}
	}
	return true
}
