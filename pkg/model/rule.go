package model

const (
	RuleTypeCommand = "command"
	RuleTypeRegex   = "regex"

	RuleActionDeny    = "deny"
	RuleActionAllow   = "allow"
	RuleActionConfirm = "confirm"
)

// CommandFilterRule is one rule of a command filter bound to a system user.
// Lower Priority values are evaluated first.
type CommandFilterRule struct {
	ID       string `json:"id"`
	FilterID string `json:"filter_id"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	Priority int    `json:"priority"`
	Action   string `json:"action"`
	Comment  string `json:"comment,omitempty"`
}
