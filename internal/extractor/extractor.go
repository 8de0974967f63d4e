// Package extractor resolves recognized spans against a project's entity catalog.
package extractor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"github.com/cookieclicker123/tanooki-copilot/internal/ner"
	"go.uber.org/zap"
)

// Clip type policies
const (
	// PolicyVerbatim emits the lower-cased span text without checking the catalog
	PolicyVerbatim = "verbatim"
	// PolicyCatalog emits a clip type only when the catalog knows it
	PolicyCatalog = "catalog"
)

type Options struct {
	ClipTypePolicy   string
	GenericClipTerms []string
	Strict           bool
}

func DefaultOptions() Options {
	return Options{
		ClipTypePolicy:   PolicyVerbatim,
		GenericClipTerms: []string{"clips"},
	}
}

// Extractor is immutable and safe for concurrent use
type Extractor struct {
	recognizer ner.Recognizer
	policy     string
	generic    map[string]struct{}
	strict     bool
	logger     *zap.Logger
}

func New(recognizer ner.Recognizer, opts Options, logger *zap.Logger) (*Extractor, error) {
	if recognizer == nil {
		return nil, fmt.Errorf("extractor: recognizer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	policy := opts.ClipTypePolicy
	if policy == "" {
		policy = PolicyVerbatim
	}
	if policy != PolicyVerbatim && policy != PolicyCatalog {
		return nil, fmt.Errorf("extractor: unknown clip type policy %q", policy)
	}

	terms := opts.GenericClipTerms
	if len(terms) == 0 {
		terms = DefaultOptions().GenericClipTerms
	}
	generic := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		generic[strings.ToLower(strings.TrimSpace(term))] = struct{}{}
	}

	return &Extractor{
		recognizer: recognizer,
		policy:     policy,
		generic:    generic,
		strict:     opts.Strict,
		logger:     logger,
	}, nil
}

// nameIndex maps a lower-cased display name to every identifier carrying it
type nameIndex map[string][]string

func buildIndex(entries map[string]string) nameIndex {
	idx := make(nameIndex, len(entries))
	for id, display := range entries {
		key := strings.ToLower(strings.TrimSpace(display))
		idx[key] = append(idx[key], id)
	}
	for key := range idx {
		sort.Strings(idx[key])
	}
	return idx
}

// Extract never returns a partial result: it fails only on a malformed
// catalog or, in strict mode, on spans the catalog cannot resolve.
func (e *Extractor) Extract(text string, catalog *models.AvailableEntities) (*models.ExtractedEntities, error) {
	if err := catalog.Validate(); err != nil {
		return nil, errs.NewCatalogInvalidError(err)
	}

	contributors := buildIndex(catalog.Contributors)
	locations := buildIndex(catalog.Locations)

	result := models.NewExtractedEntities()
	var notes []string

	add := func(category string, span models.Span, ids, names []string) {
		result.Entities[category] = append(result.Entities[category], ids...)
		result.Normalized[category] = append(result.Normalized[category], names...)
		if span.Score > result.Confidence[category] {
			result.Confidence[category] = span.Score
		}
	}

	for _, span := range e.recognizer.Recognize(text) {
		key := strings.ToLower(strings.TrimSpace(span.Text))

		switch span.Label {
		case models.LabelContributor, models.LabelLocation:
			idx, category, source := contributors, models.CategoryContributors, catalog.Contributors
			if span.Label == models.LabelLocation {
				idx, category, source = locations, models.CategoryLocations, catalog.Locations
			}
			ids := idx[key]
			if len(ids) == 0 {
				result.Unresolved = append(result.Unresolved, span)
				continue
			}
			names := make([]string, len(ids))
			for i, id := range ids {
				names[i] = source[id]
			}
			add(category, span, ids, names)
			notes = append(notes, fmt.Sprintf("%s %q -> %s", span.Label, span.Text, strings.Join(ids, ",")))

		case models.LabelClipType:
			if _, ok := e.generic[key]; ok {
				all := catalog.SortedClipTypes()
				add(models.CategoryClipTypes, span, all, all)
				notes = append(notes, fmt.Sprintf("%s %q expanded to %s", span.Label, span.Text, strings.Join(all, ",")))
				continue
			}
			value := key
			if e.policy == PolicyCatalog {
				known, ok := catalog.ClipType(key)
				if !ok {
					result.Unresolved = append(result.Unresolved, span)
					continue
				}
				value = known
			}
			add(models.CategoryClipTypes, span, []string{value}, []string{value})
			notes = append(notes, fmt.Sprintf("%s %q -> %s", span.Label, span.Text, value))

		default:
			e.logger.Debug("Ignoring span with unsupported label",
				zap.String("label", span.Label),
				zap.String("text", span.Text))
		}
	}

	for _, category := range models.Categories() {
		if len(result.Entities[category]) == 0 {
			delete(result.Confidence, category)
		}
	}

	for _, span := range result.Unresolved {
		notes = append(notes, fmt.Sprintf("%s %q not in catalog", span.Label, span.Text))
	}
	result.Explanation = strings.Join(notes, "; ")

	if e.strict && len(result.Unresolved) > 0 {
		texts := make([]string, len(result.Unresolved))
		for i, span := range result.Unresolved {
			texts[i] = span.Text
		}
		return nil, errs.NewUnresolvedEntityError(texts)
	}
	return result, nil
}
