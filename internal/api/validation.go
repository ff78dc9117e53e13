package api

import (
	"fmt"
	"strings"

	"github.com/Checker-Finance/bastion/internal/errs"
	"github.com/Checker-Finance/bastion/internal/sysuser"
	"github.com/Checker-Finance/bastion/pkg/model"
)

// ValidateCreate checks the fields a new system user needs.
func (r SystemUserRequest) ValidateCreate() error {
	if r.Name == nil || strings.TrimSpace(*r.Name) == "" {
		return fmt.Errorf("name is required: %w", errs.ErrValidation)
	}
	return r.Validate()
}

func (r SystemUserRequest) Validate() error {
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return fmt.Errorf("name must not be blank: %w", errs.ErrValidation)
	}
	if r.Priority != nil && (*r.Priority < sysuser.MinPriority || *r.Priority > sysuser.MaxPriority) {
		return fmt.Errorf("priority must be between %d and %d: %w", sysuser.MinPriority, sysuser.MaxPriority, errs.ErrValidation)
	}
	return nil
}

func (r SystemUserRequest) toSystemUser() model.SystemUser {
	var su model.SystemUser
	r.toPatch().Apply(&su)
	return su
}

func (r SystemUserRequest) toPatch() sysuser.Patch {
	return sysuser.Patch{
		Name:      r.Name,
		Username:  r.Username,
		Protocol:  r.Protocol,
		Priority:  r.Priority,
		LoginMode: r.LoginMode,
		AutoPush:  r.AutoPush,
		Sudo:      r.Sudo,
		Shell:     r.Shell,
		Comment:   r.Comment,
	}
}

func (r AuthInfoRequest) Validate() error {
	if r.Password == "" && r.PrivateKey == "" && strings.TrimSpace(r.PublicKey) == "" {
		return fmt.Errorf("one of password, private_key or public_key is required: %w", errs.ErrValidation)
	}
	return nil
}

func (r AuthInfoRequest) toCredential() model.Credential {
	return model.Credential{
		Password:   model.Secret(r.Password),
		PrivateKey: model.Secret(r.PrivateKey),
		PublicKey:  strings.TrimSpace(r.PublicKey),
	}
}

func (r TaskRequest) Validate() error {
	if strings.TrimSpace(r.Action) == "" {
		return fmt.Errorf("action is required: %w", errs.ErrValidation)
	}
	return nil
}
