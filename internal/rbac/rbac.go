// Package rbac ranks access levels and resolves the level an endpoint needs.
package rbac

import (
	"errors"
	"strings"

	"github.com/ncecere/open_image_gateway/internal/models"
)

type LevelRank int

var levelOrder = map[models.Level]LevelRank{
	models.LevelAdmin: 3,
	models.LevelUser:  2,
	models.LevelGuest: 1,
}

var ErrForbidden = errors.New("forbidden")

// ParseLevel converts a case-insensitive string to a Level.
func ParseLevel(value string) (models.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "admin":
		return models.LevelAdmin, true
	case "user":
		return models.LevelUser, true
	case "guest":
		return models.LevelGuest, true
	default:
		return "", false
	}
}

// AtLeast returns true if current is >= required. Unknown levels rank
// below guest.
func AtLeast(current, required models.Level) bool {
	return levelOrder[current] >= levelOrder[required]
}

// Required returns the level configured for path. The longest configured
// prefix wins; unlisted paths need a user.
func Required(perms models.EndpointPermissions, path string) models.Level {
	best := ""
	level := models.LevelUser
	for prefix, lvl := range perms {
		if !matches(path, prefix) || len(prefix) <= len(best) {
			continue
		}
		best, level = prefix, lvl
	}
	return level
}

func matches(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/")
}

// Ensure returns ErrForbidden unless current satisfies the level for path.
func Ensure(perms models.EndpointPermissions, path string, current models.Level) error {
	if !AtLeast(current, Required(perms, path)) {
		return ErrForbidden
	}
	return nil
}
