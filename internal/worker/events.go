package worker

import (
	"encoding/json"
	"time"

	"policyrag/features/policy"
)

// StatusEvent is published on the policy.status topic for every terminal
// job transition.
type StatusEvent struct {
	PolicyID      string        `json:"policy_id"`
	Status        policy.Status `json:"status"`
	Stage         string        `json:"stage,omitempty"`
	Error         string        `json:"error,omitempty"`
	Chunks        int           `json:"chunks,omitempty"`
	Facts         int           `json:"facts,omitempty"`
	CorrelationID string        `json:"correlation_id"`
	Timestamp     time.Time     `json:"timestamp"`
}

// IngestRequest is the body of a policy.ingest message.
type IngestRequest struct {
	PolicyID      string `json:"policy_id"`
	Path          string `json:"path"`
	DeleteAfter   bool   `json:"delete_after"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (e StatusEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
