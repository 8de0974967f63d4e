package models

import "time"

// AgentType is a routing label describing which downstream handler should answer a query
type AgentType string

const (
	AgentTVPostProduction AgentType = "TV_POST_PRODUCTION"
	AgentTanooki          AgentType = "TANOOKI"
	AgentProduction       AgentType = "PRODUCTION"
	AgentInvalidQuery     AgentType = "INVALID_QUERY"
)

var agentDescriptions = map[AgentType]string{
	AgentTVPostProduction: "Handles TV post-production related queries",
	AgentTanooki:          "Handles Tanooki app specific queries",
	AgentProduction:       "Handles production and scene related queries",
	AgentInvalidQuery:     "Handles unauthorized or invalid queries",
}

// AllAgentTypes returns the agent categories in declaration order
func AllAgentTypes() []AgentType {
	return []AgentType{AgentTVPostProduction, AgentTanooki, AgentProduction, AgentInvalidQuery}
}

// ParseAgentType reports whether label names a known agent category
func ParseAgentType(label string) (AgentType, bool) {
	a := AgentType(label)
	_, ok := agentDescriptions[a]
	return a, ok
}

func (a AgentType) Description() string {
	return agentDescriptions[a]
}

func (a AgentType) String() string {
	return string(a)
}

// Query is a single user question scoped to a project
type Query struct {
	Text      string `json:"text"`
	ProjectID string `json:"project_id,omitempty"`
}

// IntentResult is the outcome of one classification call
type IntentResult struct {
	Text       string             `json:"text"`
	Timestamp  time.Time          `json:"timestamp"`
	Agents     []AgentType        `json:"agents"`
	Confidence float64            `json:"confidence"`
	AllScores  map[string]float64 `json:"all_scores"`
}

// HasAgent reports whether agent was matched
func (r *IntentResult) HasAgent(agent AgentType) bool {
	if r == nil {
		return false
	}
	for _, a := range r.Agents {
		if a == agent {
			return true
		}
	}
	return false
}
