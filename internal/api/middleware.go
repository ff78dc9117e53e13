package api

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/bastion/internal/errs"
	"github.com/Checker-Finance/bastion/internal/tenancy"
	"github.com/Checker-Finance/bastion/pkg/model"
)

const (
	claimsKey   = "claims"
	orgIDHeader = "X-Org-ID"
)

// Auth authenticates bearer tokens and scopes each request to an organization.
type Auth struct {
	secret []byte
	orgs   tenancy.OrgLookup
	logger *zap.Logger
}

func NewAuth(secret []byte, orgs tenancy.OrgLookup, logger *zap.Logger) *Auth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auth{secret: secret, orgs: orgs, logger: logger}
}

// Authenticate verifies the bearer token and starts a fresh tenancy scope
// for the request. The scope is the token's organization; root callers may
// pick another one with the X-Org-ID header.
func (a *Auth) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return writeError(c, fmt.Errorf("missing bearer token: %w", errs.ErrUnauthorized))
		}
		claims, err := ParseToken(a.secret, strings.TrimSpace(token))
		if err != nil {
			a.logger.Debug("api.auth.invalid_token", zap.Error(err))
			return writeError(c, fmt.Errorf("%v: %w", err, errs.ErrUnauthorized))
		}

		org := claims.Org
		if requested := strings.TrimSpace(c.Get(orgIDHeader)); requested != "" && requested != org {
			if !model.IsRoot(claims.Org) {
				return writeError(c, fmt.Errorf("org switch requires root: %w", errs.ErrForbidden))
			}
			org = requested
		}
		if !model.IsRoot(org) {
			exists, err := a.orgs.OrgExists(c.UserContext(), org)
			if err != nil {
				return writeError(c, err)
			}
			if !exists {
				return writeError(c, fmt.Errorf("organization %q: %w", org, errs.ErrForbidden))
			}
		}

		c.Locals(claimsKey, claims)
		c.SetUserContext(tenancy.WithNewScope(c.UserContext(), org))
		return c.Next()
	}
}

// IsOrgAdmin admits organization administrators.
func IsOrgAdmin() fiber.Handler {
	return requireRole(RoleOrgAdmin)
}

// IsOrgAdminOrAppUser admits organization administrators and application users.
func IsOrgAdminOrAppUser() fiber.Handler {
	return requireRole(RoleOrgAdmin, RoleAppUser)
}

func requireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals(claimsKey).(*Claims)
		if !ok {
			return writeError(c, errs.ErrUnauthorized)
		}
		for _, r := range roles {
			if claims.Role == r {
				return c.Next()
			}
		}
		return writeError(c, fmt.Errorf("role %q: %w", claims.Role, errs.ErrForbidden))
	}
}
