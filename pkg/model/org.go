package model

const (
	// RootOrgID is the scope that sees every organization.
	RootOrgID = "ROOT"
	// DefaultOrgID is the organization assets land in when none is given.
	DefaultOrgID = "DEFAULT"
)

type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IsRoot reports whether orgID is the root scope.
func IsRoot(orgID string) bool {
	return orgID == RootOrgID
}
