package spells

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"strings"
)

var (
	controllerACLs = []string{"login", "add-model", "superuser"}
	modelACLs      = []string{"read", "write", "admin"}
)

// ControllerACL maps a requested access level onto a controller level.
// Anything that is not a controller level becomes login.
func ControllerACL(acl string) string {
	acl = strings.ToLower(strings.TrimSpace(acl))
	if slices.Contains(controllerACLs, acl) {
		return acl
	}
	return "login"
}

// ModelACL maps a requested access level onto a model level. superuser
// becomes admin; anything else unknown becomes read.
func ModelACL(acl string) string {
	acl = strings.ToLower(strings.TrimSpace(acl))
	if slices.Contains(modelACLs, acl) {
		return acl
	}
	if acl == "superuser" {
		return "admin"
	}
	return "read"
}

func ValidACL(acl string) bool {
	acl = strings.ToLower(strings.TrimSpace(acl))
	return slices.Contains(controllerACLs, acl) || slices.Contains(modelACLs, acl)
}

// RandomPassword returns 30 random bytes encoded url-safe without padding.
func RandomPassword() (string, error) {
	buf := make([]byte, 30)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
