package api

// SystemUserRequest is the payload of system user create and update. Absent
// fields are left unchanged on update.
type SystemUserRequest struct {
	Name      *string `json:"name" example:"svc-db"`
	Username  *string `json:"username" example:"root"`
	Protocol  *string `json:"protocol" example:"ssh"`
	Priority  *int    `json:"priority" example:"20"`
	LoginMode *string `json:"login_mode" example:"auto"`
	AutoPush  *bool   `json:"auto_push"`
	Sudo      *string `json:"sudo,omitempty"`
	Shell     *string `json:"shell,omitempty"`
	Comment   *string `json:"comment,omitempty"`
}

// AuthInfoRequest carries secret material for a system user or an override.
type AuthInfoRequest struct {
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	PublicKey  string `json:"public_key,omitempty"`
}

// TaskRequest asks for a push or a connectivity test.
type TaskRequest struct {
	Action string `json:"action" example:"push"`
	Asset  string `json:"asset,omitempty" example:"A42"`
}
