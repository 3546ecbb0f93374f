package routes

import (
	"strings"

	"github.com/cargoforge/registry/internal/apierror"
	"github.com/google/uuid"
)

// parseCredential splits the `Authorization: <token-id>:<secret>` header
// cargo sends on every authenticated request (spec §6). The token id is a
// UUID and the secret is opaque; they are joined by the first colon. The
// secret itself may legitimately contain colons, so only the first
// separator is significant.
func parseCredential(header string) (uuid.UUID, string, error) {
	if header == "" {
		return uuid.Nil, "", apierror.New(apierror.Unauthorized, "missing Authorization header")
	}
	parts := strings.SplitN(header, ":", 2)
	if len(parts) != 2 {
		return uuid.Nil, "", apierror.New(apierror.Unauthorized, "malformed Authorization header")
	}
	tokenID, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", apierror.New(apierror.Unauthorized, "malformed token id")
	}
	return tokenID, parts[1], nil
}
