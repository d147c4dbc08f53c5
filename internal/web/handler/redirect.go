package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/CBIIT/nci-user-registration/internal/mapping"
)

// categoryTargets maps every mapping flow category to the status page flag
// the user ends up on. Retryable categories land on the reattempt variant,
// which offers the flow again.
var categoryTargets = map[mapping.Category]string{
	mapping.CategoryInvalidLink:      "/logoff?invalid=true",
	mapping.CategoryExpiredLink:      "/logoff?exp=true",
	mapping.CategoryAlreadyMapped:    "/logoff?previouslymapped=true",
	mapping.CategorySessionExpired:   "/logoff?mappingerror=true",
	mapping.CategoryMappingError:     "/logoff?mappingerror=true",
	mapping.CategoryNotFederated:     "/logoff/reattempt?notfederated=true",
	mapping.CategoryDuplicateBinding: "/logoff/reattempt?duplicateregistration=true",
}

// RedirectForCategory sends the user to the status page matching a mapping
// flow outcome.
func RedirectForCategory(c *fiber.Ctx, category mapping.Category) error {
	target, ok := categoryTargets[category]
	if !ok {
		target = "/logoff?mappingerror=true"
	}

	return c.Redirect(target)
}
