package classifier

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/tokenize"
	"gopkg.in/yaml.v3"
)

//go:embed default_model.yaml
var defaultModel []byte

// LabelWeights is the linear model for one label
type LabelWeights struct {
	Bias     float64            `yaml:"bias"`
	Features map[string]float64 `yaml:"features"`
}

type lexiconArtifact struct {
	Name    string                  `yaml:"name"`
	Version string                  `yaml:"version"`
	Labels  map[string]LabelWeights `yaml:"labels"`
}

type feature struct {
	words  []string
	weight float64
}

type labelModel struct {
	label    string
	bias     float64
	features []feature
}

// LexiconModel is a multi-label linear model over unigram and phrase
// features. Each label scores sigmoid(bias + sum of present feature weights).
// It is immutable after loading.
type LexiconModel struct {
	name    string
	version string
	labels  []labelModel
}

// DefaultLexiconModel loads the artifact compiled into the binary
func DefaultLexiconModel() (*LexiconModel, error) {
	m, err := ParseLexiconModel(defaultModel)
	if err != nil {
		return nil, errs.NewModelLoadError("embedded:default_model.yaml", err)
	}
	return m, nil
}

// LoadLexiconModel reads a model artifact from disk
func LoadLexiconModel(path string) (*LexiconModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.NewModelLoadError(path, err)
	}
	m, err := ParseLexiconModel(data)
	if err != nil {
		return nil, errs.NewModelLoadError(path, err)
	}
	return m, nil
}

func ParseLexiconModel(data []byte) (*LexiconModel, error) {
	var artifact lexiconArtifact
	if err := yaml.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	if len(artifact.Labels) == 0 {
		return nil, fmt.Errorf("model %q declares no labels", artifact.Name)
	}

	m := &LexiconModel{name: artifact.Name, version: artifact.Version}
	for label, weights := range artifact.Labels {
		if strings.TrimSpace(label) == "" {
			return nil, fmt.Errorf("empty label name")
		}
		lm := labelModel{label: label, bias: weights.Bias}
		for phrase, weight := range weights.Features {
			words := tokenize.Words(phrase)
			if len(words) == 0 {
				return nil, fmt.Errorf("label %s: feature %q has no words", label, phrase)
			}
			lm.features = append(lm.features, feature{words: words, weight: weight})
		}
		m.labels = append(m.labels, lm)
	}
	sort.Slice(m.labels, func(i, j int) bool { return m.labels[i].label < m.labels[j].label })
	return m, nil
}

func (m *LexiconModel) Name() string    { return m.name }
func (m *LexiconModel) Version() string { return m.version }

// Labels returns the label names in lexical order
func (m *LexiconModel) Labels() []string {
	out := make([]string, len(m.labels))
	for i, lm := range m.labels {
		out[i] = lm.label
	}
	return out
}

// Scores never fails; text without any word yields no scores
func (m *LexiconModel) Scores(_ context.Context, text string) (map[string]float64, error) {
	words := tokenize.Words(text)
	if len(words) == 0 {
		return map[string]float64{}, nil
	}

	scores := make(map[string]float64, len(m.labels))
	for _, lm := range m.labels {
		z := lm.bias
		for _, f := range lm.features {
			if tokenize.ContainsSequence(words, f.words) {
				z += f.weight
			}
		}
		scores[lm.label] = sigmoid(z)
	}
	return scores, nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
