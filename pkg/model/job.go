package model

import "time"

type JobKind string

const (
	JobPushAll JobKind = "push_all"
	JobPushOne JobKind = "push_one"
	JobTest    JobKind = "test"
)

// Action returns the request action a kind belongs to ("push" or "test").
func (k JobKind) Action() string {
	if k == JobTest {
		return "test"
	}
	return "push"
}

// Job is the handle of an asynchronous push or connectivity-test operation.
// It is immutable once submitted.
type Job struct {
	ID           string    `json:"id"`
	Kind         JobKind   `json:"kind"`
	SystemUserID string    `json:"system_user_id"`
	OrgID        string    `json:"org_id"`
	AssetID      string    `json:"asset_id,omitempty"`
	Username     string    `json:"username,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
}
