package model

import "time"

const (
	ProtocolSSH    = "ssh"
	ProtocolRDP    = "rdp"
	ProtocolTelnet = "telnet"
	ProtocolVNC    = "vnc"
	ProtocolMySQL  = "mysql"

	LoginModeAuto   = "auto"
	LoginModeManual = "manual"
)

// SystemUser is a reusable named credential profile usable across many assets.
type SystemUser struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	Protocol  string    `json:"protocol"`
	Priority  int       `json:"priority"`
	LoginMode string    `json:"login_mode"`
	AutoPush  bool      `json:"auto_push"`
	Sudo      string    `json:"sudo,omitempty"`
	Shell     string    `json:"shell,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SystemUserFilter narrows a system user listing. Name and Username match
// exactly; Search matches either as a case-insensitive substring.
type SystemUserFilter struct {
	Name     string
	Username string
	Search   string
}

// Asset is a managed target host owned by exactly one organization.
type Asset struct {
	ID       string `json:"id"`
	OrgID    string `json:"org_id"`
	Hostname string `json:"hostname"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Platform string `json:"platform"`
	IsActive bool   `json:"is_active"`
}
