// Package ner finds contributor, location and clip-type mentions in query text.
package ner

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"github.com/cookieclicker123/tanooki-copilot/internal/tokenize"
	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRules []byte

// Recognizer tags spans of text. Implementations must be safe for concurrent use.
type Recognizer interface {
	Recognize(text string) []models.Span
}

const (
	KindPhrase = "phrase"
	KindCue    = "cue"
)

const defaultMaxRun = 3

type ruleArtifact struct {
	Name   string     `yaml:"name"`
	Ignore []string   `yaml:"ignore"`
	Join   []string   `yaml:"join"`
	MaxRun int        `yaml:"max_run"`
	Rules  []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	Label    string   `yaml:"label"`
	Kind     string   `yaml:"kind"`
	Score    float64  `yaml:"score"`
	Patterns []string `yaml:"patterns"`
}

type pattern struct {
	label string
	kind  string
	score float64
	words []string
}

// RuleRecognizer matches phrase rules anywhere in the text and cue rules,
// which tag the run of title-case words that follows a cue phrase. A join
// word after a cue run ("John and David") starts another run with the same label.
type RuleRecognizer struct {
	name     string
	patterns []pattern
	ignore   map[string]struct{}
	join     map[string]struct{}
	maxRun   int
}

func DefaultRuleRecognizer() (*RuleRecognizer, error) {
	r, err := ParseRuleRecognizer(defaultRules)
	if err != nil {
		return nil, errs.NewModelLoadError("embedded:default_rules.yaml", err)
	}
	return r, nil
}

func LoadRuleRecognizer(path string) (*RuleRecognizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.NewModelLoadError(path, err)
	}
	r, err := ParseRuleRecognizer(data)
	if err != nil {
		return nil, errs.NewModelLoadError(path, err)
	}
	return r, nil
}

func ParseRuleRecognizer(data []byte) (*RuleRecognizer, error) {
	var artifact ruleArtifact
	if err := yaml.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(artifact.Rules) == 0 {
		return nil, fmt.Errorf("recognizer %q declares no rules", artifact.Name)
	}

	r := &RuleRecognizer{
		name:   artifact.Name,
		ignore: make(map[string]struct{}, len(artifact.Ignore)),
		join:   make(map[string]struct{}, len(artifact.Join)),
		maxRun: artifact.MaxRun,
	}
	if r.maxRun <= 0 {
		r.maxRun = defaultMaxRun
	}
	for _, w := range artifact.Ignore {
		r.ignore[strings.ToLower(w)] = struct{}{}
	}
	for _, w := range artifact.Join {
		r.join[strings.ToLower(w)] = struct{}{}
	}

	for i, rule := range artifact.Rules {
		switch rule.Label {
		case models.LabelContributor, models.LabelLocation, models.LabelClipType:
		default:
			return nil, fmt.Errorf("rule %d: unknown label %q", i, rule.Label)
		}
		if rule.Kind != KindPhrase && rule.Kind != KindCue {
			return nil, fmt.Errorf("rule %d: unknown kind %q", i, rule.Kind)
		}
		score := rule.Score
		if score <= 0 || score > 1 {
			score = 1
		}
		for _, p := range rule.Patterns {
			words := tokenize.Words(p)
			if len(words) == 0 {
				return nil, fmt.Errorf("rule %d: pattern %q has no words", i, p)
			}
			r.patterns = append(r.patterns, pattern{label: rule.Label, kind: rule.Kind, score: score, words: words})
		}
	}
	return r, nil
}

func (r *RuleRecognizer) Name() string {
	return r.name
}

func (r *RuleRecognizer) Recognize(text string) []models.Span {
	tokens := tokenize.Tokenize(text)
	if len(tokens) == 0 {
		return []models.Span{}
	}
	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.Lower
	}

	var candidates []models.Span
	for i := range tokens {
		for _, p := range r.patterns {
			if !tokenize.HasPrefixAt(words, p.words, i) {
				continue
			}
			switch p.kind {
			case KindPhrase:
				candidates = append(candidates, spanOf(text, tokens[i:i+len(p.words)], p))
			case KindCue:
				for _, run := range r.cueRuns(tokens, i+len(p.words)) {
					candidates = append(candidates, spanOf(text, run, p))
				}
			}
		}
	}
	return resolveOverlaps(candidates)
}

// cueRuns returns the title-case run starting at i and every further run
// chained to it by a join word.
func (r *RuleRecognizer) cueRuns(tokens []tokenize.Token, i int) [][]tokenize.Token {
	var runs [][]tokenize.Token
	for {
		run := r.titleRun(tokens, i)
		if len(run) == 0 {
			return runs
		}
		runs = append(runs, run)

		next := i + len(run)
		if next >= len(tokens) {
			return runs
		}
		if _, ok := r.join[tokens[next].Lower]; !ok {
			return runs
		}
		i = next + 1
	}
}

// titleRun returns up to maxRun consecutive title-case tokens starting at i
func (r *RuleRecognizer) titleRun(tokens []tokenize.Token, i int) []tokenize.Token {
	end := i
	for end < len(tokens) && end-i < r.maxRun {
		t := tokens[end]
		if !t.IsTitle() {
			break
		}
		if _, skip := r.ignore[t.Lower]; skip {
			break
		}
		end++
	}
	return tokens[i:end]
}

func spanOf(text string, run []tokenize.Token, p pattern) models.Span {
	start, end := run[0].Start, run[len(run)-1].End
	return models.Span{
		Text:  text[start:end],
		Label: p.label,
		Start: start,
		End:   end,
		Score: p.score,
	}
}

// resolveOverlaps keeps the longest candidates first, then the earliest,
// and returns the survivors ordered by position.
func resolveOverlaps(candidates []models.Span) []models.Span {
	sort.SliceStable(candidates, func(i, j int) bool {
		li, lj := candidates[i].End-candidates[i].Start, candidates[j].End-candidates[j].Start
		if li != lj {
			return li > lj
		}
		return candidates[i].Start < candidates[j].Start
	})

	kept := make([]models.Span, 0, len(candidates))
	for _, c := range candidates {
		overlaps := false
		for _, k := range kept {
			if c.Start < k.End && k.Start < c.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}
