package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-eval-api/internal/utils"
)

// RequireRole admits callers whose user_role satisfies one of roles. A caller
// without any role is treated as unauthenticated.
func RequireRole(roles ...string) fiber.Handler {
	required := make([]string, 0, len(roles))
	for _, role := range roles {
		if normalized := normalizeRoleValue(role); normalized != "" {
			required = append(required, normalized)
		}
	}

	return func(c *fiber.Ctx) error {
		current := normalizeRoleValue(c.Locals("user_role"))
		if current == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		for _, role := range required {
			if roleSatisfies(current, role) {
				return c.Next()
			}
		}
		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	}
}

// roleSatisfies reports whether current may act as required. Admins may act
// as recruiters.
func roleSatisfies(current, required string) bool {
	if current == required {
		return true
	}
	return required == AuthRoleRecruiter && current == AuthRoleAdmin
}

func normalizeRoleValue(value interface{}) string {
	role, _ := value.(string)
	return strings.ToLower(strings.TrimSpace(role))
}
