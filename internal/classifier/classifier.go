package classifier

import (
	"context"
	"time"

	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"go.uber.org/zap"
)

// DefaultThreshold is the score a category must strictly exceed to be matched
const DefaultThreshold = 0.6

// Model produces a score in [0,1] per label. No scores at all means the
// input carried nothing the model could use.
type Model interface {
	Scores(ctx context.Context, text string) (map[string]float64, error)
}

type Classifier interface {
	Classify(ctx context.Context, text string) (*models.IntentResult, error)
}

// IntentClassifier turns model scores into matched agent categories
type IntentClassifier struct {
	model     Model
	threshold float64
	logger    *zap.Logger
}

func NewIntentClassifier(model Model, threshold float64, logger *zap.Logger) *IntentClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntentClassifier{
		model:     model,
		threshold: threshold,
		logger:    logger,
	}
}

func (c *IntentClassifier) Threshold() float64 {
	return c.threshold
}

func (c *IntentClassifier) Classify(ctx context.Context, text string) (*models.IntentResult, error) {
	scores, err := c.model.Scores(ctx, text)
	if err != nil {
		return nil, errs.NewClassificationError(err)
	}

	result := &models.IntentResult{
		Text:      text,
		Timestamp: time.Now().UTC(),
		Agents:    []models.AgentType{},
		AllScores: make(map[string]float64, len(scores)),
	}
	for label, score := range scores {
		result.AllScores[label] = score
	}

	for _, agent := range models.AllAgentTypes() {
		score, ok := scores[agent.String()]
		if !ok || score <= c.threshold {
			continue
		}
		result.Agents = append(result.Agents, agent)
		if score > result.Confidence {
			result.Confidence = score
		}
	}

	for label := range scores {
		if _, known := models.ParseAgentType(label); !known {
			c.logger.Debug("Ignoring unknown intent label", zap.String("label", label))
		}
	}
	return result, nil
}
