package classifier

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticModel struct {
	scores map[string]float64
	err    error
	calls  int
}

func (m *staticModel) Scores(_ context.Context, _ string) (map[string]float64, error) {
	m.calls++
	return m.scores, m.err
}

func TestClassifyThreshold(t *testing.T) {
	model := &staticModel{scores: map[string]float64{
		"TV_POST_PRODUCTION": 0.6,
		"TANOOKI":            0.61,
		"PRODUCTION":         0.9,
		"INVALID_QUERY":      0.1,
		"WEATHER":            0.99,
	}}
	c := NewIntentClassifier(model, DefaultThreshold, zap.NewNop())

	result, err := c.Classify(context.Background(), "anything")
	require.NoError(t, err)

	assert.Equal(t, []models.AgentType{models.AgentTanooki, models.AgentProduction}, result.Agents)
	assert.Equal(t, 0.9, result.Confidence)
	assert.Len(t, result.AllScores, 5)
	assert.Equal(t, 0.99, result.AllScores["WEATHER"])
	assert.Equal(t, "anything", result.Text)
	assert.False(t, result.Timestamp.IsZero())

	for _, agent := range result.Agents {
		assert.Greater(t, result.AllScores[agent.String()], c.Threshold())
	}
}

func TestClassifyNoMatch(t *testing.T) {
	model := &staticModel{scores: map[string]float64{"PRODUCTION": 0.2, "TANOOKI": 0.6}}
	c := NewIntentClassifier(model, DefaultThreshold, nil)

	result, err := c.Classify(context.Background(), "hmm")
	require.NoError(t, err)
	assert.Empty(t, result.Agents)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestClassifyNoScores(t *testing.T) {
	c := NewIntentClassifier(&staticModel{}, DefaultThreshold, nil)

	result, err := c.Classify(context.Background(), "")
	require.NoError(t, err)
	assert.NotNil(t, result.Agents)
	assert.Empty(t, result.Agents)
	assert.Empty(t, result.AllScores)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestClassifyModelError(t *testing.T) {
	c := NewIntentClassifier(&staticModel{err: errors.New("boom")}, DefaultThreshold, nil)

	_, err := c.Classify(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrClassification)
}

func TestDefaultLexiconModel(t *testing.T) {
	model, err := DefaultLexiconModel()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"INVALID_QUERY", "PRODUCTION", "TANOOKI", "TV_POST_PRODUCTION"}, model.Labels())

	c := NewIntentClassifier(model, DefaultThreshold, zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		want  []models.AgentType
	}{
		{"post production", "How does timecode work?", []models.AgentType{models.AgentTVPostProduction}},
		{"multi label", "Explain what an avid bin is and how i can export project A to a new bin in the tanooki app",
			[]models.AgentType{models.AgentTVPostProduction, models.AgentTanooki}},
		{"production", "Find me all the clips where John is at the Beach.", []models.AgentType{models.AgentProduction}},
		{"restricted project", "What's the footage count for production B?", []models.AgentType{models.AgentInvalidQuery}},
		{"nothing relevant", "hello there", []models.AgentType{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := c.Classify(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Agents)
			assert.Len(t, result.AllScores, 4)
			if len(tt.want) == 0 {
				assert.Equal(t, 0.0, result.Confidence)
			} else {
				assert.Greater(t, result.Confidence, DefaultThreshold)
			}
		})
	}
}

func TestLexiconModelEmptyText(t *testing.T) {
	model, err := DefaultLexiconModel()
	require.NoError(t, err)

	for _, text := range []string{"", "   ", "?!"} {
		scores, err := model.Scores(context.Background(), text)
		require.NoError(t, err)
		assert.Empty(t, scores)
	}
}

func TestLexiconModelIsDeterministic(t *testing.T) {
	model, err := DefaultLexiconModel()
	require.NoError(t, err)

	a, err := model.Scores(context.Background(), "Show me how to blur faces in the Tanooki app")
	require.NoError(t, err)
	b, err := model.Scores(context.Background(), "Show me how to blur faces in the Tanooki app")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLoadLexiconModel(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(valid, []byte(`
name: tiny
version: "2"
labels:
  TANOOKI:
    bias: 0
    features:
      app: 2
`), 0o600))

	model, err := LoadLexiconModel(valid)
	require.NoError(t, err)
	assert.Equal(t, "tiny", model.Name())
	assert.Equal(t, "2", model.Version())

	scores, err := model.Scores(context.Background(), "the app")
	require.NoError(t, err)
	assert.InDelta(t, 0.8808, scores["TANOOKI"], 0.0001)

	scores, err = model.Scores(context.Background(), "nothing")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, scores["TANOOKI"], 0.0001)
}

func TestLoadLexiconModelErrors(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "missing.yaml")},
		{"corrupt yaml", write("corrupt.yaml", "labels: [")},
		{"no labels", write("empty.yaml", "name: empty\n")},
		{"empty feature", write("feature.yaml", "labels:\n  TANOOKI:\n    features:\n      \"--\": 1\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadLexiconModel(tt.path)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrModelLoad)
		})
	}
}
