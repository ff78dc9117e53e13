package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Checker-Finance/bastion/internal/errs"
	"github.com/Checker-Finance/bastion/pkg/model"
)

// AuthInfoResponse is the only place secret material leaves the service in
// plaintext.
type AuthInfoResponse struct {
	SystemUserID string `json:"id"`
	AssetID      string `json:"asset,omitempty"`
	Username     string `json:"username"`
	Password     string `json:"password,omitempty"`
	PrivateKey   string `json:"private_key,omitempty"`
	PublicKey    string `json:"public_key,omitempty"`
}

func toAuthInfoResponse(info model.AuthInfo) AuthInfoResponse {
	return AuthInfoResponse{
		SystemUserID: info.SystemUserID,
		AssetID:      info.AssetID,
		Username:     info.Username,
		Password:     info.Credential.Password.Reveal(),
		PrivateKey:   info.Credential.PrivateKey.Reveal(),
		PublicKey:    info.Credential.PublicKey,
	}
}

// TaskResponse echoes the task request with the submitted job's id.
type TaskResponse struct {
	Task     string `json:"task"`
	Action   string `json:"action"`
	Kind     string `json:"kind"`
	Asset    string `json:"asset,omitempty"`
	Username string `json:"username,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError answers with the status errs.Status assigns to err. Both kinds
// of not-found share one body; server errors do not expose their cause.
func writeError(c *fiber.Ctx, err error) error {
	status := errs.Status(err)
	msg := err.Error()
	switch {
	case errs.IsNotFound(err):
		msg = "not found"
	case errors.Is(err, errs.ErrUnauthorized):
		msg = "unauthorized"
	case errors.Is(err, errs.ErrForbidden):
		msg = "forbidden"
	case errors.Is(err, errs.ErrThrottled):
		msg = errs.ErrThrottled.Error()
	case status >= fiber.StatusInternalServerError:
		msg = "internal error"
	}
	return c.Status(status).JSON(errorResponse{Error: msg})
}
