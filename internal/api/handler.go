package api

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bastion/internal/dispatch"
	"github.com/Checker-Finance/bastion/internal/errs"
	"github.com/Checker-Finance/bastion/internal/sysuser"
	"github.com/Checker-Finance/bastion/pkg/model"
)

// SystemUsers is what the handler needs from the system user service.
type SystemUsers interface {
	List(ctx context.Context, f model.SystemUserFilter) ([]model.SystemUser, error)
	Get(ctx context.Context, id string) (model.SystemUser, error)
	Create(ctx context.Context, su model.SystemUser) (model.SystemUser, error)
	Update(ctx context.Context, id string, p sysuser.Patch) (model.SystemUser, error)
	Delete(ctx context.Context, id string) error
	SetAuthInfo(ctx context.Context, su model.SystemUser, cred model.Credential) error
	ClearAuthInfo(ctx context.Context, su model.SystemUser) error
	SetAssetAuthInfo(ctx context.Context, su model.SystemUser, assetID, username string, cred model.Credential) error
	ClearAssetAuthInfo(ctx context.Context, su model.SystemUser, assetID, username string) error
	Asset(ctx context.Context, assetID string) (model.Asset, error)
}

type Resolver interface {
	ResolveAuthInfo(ctx context.Context, su model.SystemUser, assetID, explicitUsername string) (model.AuthInfo, error)
	ResolveDefault(ctx context.Context, su model.SystemUser) (model.AuthInfo, error)
}

type Dispatcher interface {
	Submit(ctx context.Context, req dispatch.Request) (model.Job, error)
}

type RuleLister interface {
	ListRules(ctx context.Context, systemUserID string) ([]model.CommandFilterRule, error)
}

// Handler serves the system user API.
type Handler struct {
	logger   *zap.Logger
	users    SystemUsers
	resolver Resolver
	dispatch Dispatcher
	rules    RuleLister
}

func NewHandler(logger *zap.Logger, users SystemUsers, resolver Resolver, dispatcher Dispatcher, rules RuleLister) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:   logger,
		users:    users,
		resolver: resolver,
		dispatch: dispatcher,
		rules:    rules,
	}
}

func (h *Handler) ListSystemUsers(c *fiber.Ctx) error {
	users, err := h.users.List(c.UserContext(), model.SystemUserFilter{
		Name:     c.Query("name"),
		Username: c.Query("username"),
		Search:   c.Query("search"),
	})
	if err != nil {
		return h.fail(c, "api.list_system_users.failed", err)
	}
	return c.JSON(users)
}

func (h *Handler) CreateSystemUser(c *fiber.Ctx) error {
	var req SystemUserRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fmt.Errorf("%v: %w", err, errs.ErrValidation))
	}
	if err := req.ValidateCreate(); err != nil {
		return writeError(c, err)
	}

	su, err := h.users.Create(c.UserContext(), req.toSystemUser())
	if err != nil {
		return h.fail(c, "api.create_system_user.failed", err)
	}
	return c.Status(fiber.StatusCreated).JSON(su)
}

func (h *Handler) GetSystemUser(c *fiber.Ctx) error {
	su, err := h.users.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(su)
}

func (h *Handler) UpdateSystemUser(c *fiber.Ctx) error {
	var req SystemUserRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fmt.Errorf("%v: %w", err, errs.ErrValidation))
	}
	if err := req.Validate(); err != nil {
		return writeError(c, err)
	}

	su, err := h.users.Update(c.UserContext(), c.Params("id"), req.toPatch())
	if err != nil {
		return h.fail(c, "api.update_system_user.failed", err)
	}
	return c.JSON(su)
}

func (h *Handler) DeleteSystemUser(c *fiber.Ctx) error {
	if err := h.users.Delete(c.UserContext(), c.Params("id")); err != nil {
		return h.fail(c, "api.delete_system_user.failed", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetAuthInfo returns the system user's default username and secret.
func (h *Handler) GetAuthInfo(c *fiber.Ctx) error {
	ctx := c.UserContext()
	su, err := h.users.Get(ctx, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	info, err := h.resolver.ResolveDefault(ctx, su)
	if err != nil {
		return h.fail(c, "api.get_auth_info.failed", err)
	}
	return c.JSON(toAuthInfoResponse(info))
}

func (h *Handler) UpdateAuthInfo(c *fiber.Ctx) error {
	var req AuthInfoRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fmt.Errorf("%v: %w", err, errs.ErrValidation))
	}
	if err := req.Validate(); err != nil {
		return writeError(c, err)
	}

	ctx := c.UserContext()
	su, err := h.users.Get(ctx, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	if err := h.users.SetAuthInfo(ctx, su, req.toCredential()); err != nil {
		return h.fail(c, "api.update_auth_info.failed", err)
	}
	return c.JSON(fiber.Map{"id": su.ID, "username": su.Username, "public_key": req.PublicKey})
}

func (h *Handler) DeleteAuthInfo(c *fiber.Ctx) error {
	ctx := c.UserContext()
	su, err := h.users.Get(ctx, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	if err := h.users.ClearAuthInfo(ctx, su); err != nil {
		return h.fail(c, "api.delete_auth_info.failed", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetAssetAuthInfo resolves the auth info of the system user on one asset.
func (h *Handler) GetAssetAuthInfo(c *fiber.Ctx) error {
	ctx := c.UserContext()
	su, err := h.users.Get(ctx, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	info, err := h.resolver.ResolveAuthInfo(ctx, su, c.Params("aid"), c.Query("username"))
	if err != nil {
		return h.fail(c, "api.get_asset_auth_info.failed", err)
	}
	return c.JSON(toAuthInfoResponse(info))
}

func (h *Handler) UpdateAssetAuthInfo(c *fiber.Ctx) error {
	var req AuthInfoRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fmt.Errorf("%v: %w", err, errs.ErrValidation))
	}
	if err := req.Validate(); err != nil {
		return writeError(c, err)
	}

	ctx := c.UserContext()
	su, err := h.users.Get(ctx, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	username := c.Query("username", su.Username)
	if err := h.users.SetAssetAuthInfo(ctx, su, c.Params("aid"), username, req.toCredential()); err != nil {
		return h.fail(c, "api.update_asset_auth_info.failed", err)
	}
	return c.JSON(fiber.Map{"id": su.ID, "asset": c.Params("aid"), "username": username})
}

func (h *Handler) DeleteAssetAuthInfo(c *fiber.Ctx) error {
	ctx := c.UserContext()
	su, err := h.users.Get(ctx, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	if err := h.users.ClearAssetAuthInfo(ctx, su, c.Params("aid"), c.Query("username")); err != nil {
		return h.fail(c, "api.delete_asset_auth_info.failed", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// CreateTask submits a push or connectivity test of the system user.
func (h *Handler) CreateTask(c *fiber.Ctx) error {
	var req TaskRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fmt.Errorf("%v: %w", err, errs.ErrValidation))
	}
	if err := req.Validate(); err != nil {
		return writeError(c, err)
	}
	action, err := dispatch.ParseAction(req.Action)
	if err != nil {
		return writeError(c, err)
	}

	ctx := c.UserContext()
	su, err := h.users.Get(ctx, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	// a test runs against every asset of the user; only a push names one
	if action == dispatch.ActionPush && req.Asset != "" {
		if _, err := h.users.Asset(ctx, req.Asset); err != nil {
			return writeError(c, err)
		}
	}

	job, err := h.dispatch.Submit(ctx, dispatch.Request{
		Action:     action,
		SystemUser: su,
		AssetID:    req.Asset,
		Username:   c.Query("username"),
	})
	if err != nil {
		return h.fail(c, "api.create_task.failed", err)
	}

	return c.Status(fiber.StatusCreated).JSON(TaskResponse{
		Task:     job.ID,
		Action:   action.String(),
		Kind:     string(job.Kind),
		Asset:    job.AssetID,
		Username: job.Username,
	})
}

func (h *Handler) ListCommandFilterRules(c *fiber.Ctx) error {
	ctx := c.UserContext()
	su, err := h.users.Get(ctx, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	rules, err := h.rules.ListRules(ctx, su.ID)
	if err != nil {
		return h.fail(c, "api.list_rules.failed", err)
	}
	return c.JSON(rules)
}

// fail logs unexpected errors before answering.
func (h *Handler) fail(c *fiber.Ctx, event string, err error) error {
	if errs.Status(err) >= fiber.StatusInternalServerError {
		h.logger.Error(event,
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return writeError(c, err)
}
