package common

import (
	"strings"
)

// GetAuthorizationToken extracts the token from a "Bearer <token>" header value.
func GetAuthorizationToken(authHeader string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(authHeader), " ", 2)
	if !(len(parts) == 2 && parts[0] == "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrTokenInvalid
	}
	return strings.TrimSpace(parts[1]), nil
}
