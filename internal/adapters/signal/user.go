package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/dkeye/Consult/internal/domain"
	"github.com/gin-gonic/gin"
)

// ClientTokenKey is where the router middleware leaves the session token.
const ClientTokenKey = "client_token"

type credentials struct {
	Token string
	Role  domain.Role
}

// key is a stable, non-secret identity for the caller.
func (c credentials) key() string {
	sum := sha256.Sum256([]byte(c.Token))
	return c.Role.String() + ":" + hex.EncodeToString(sum[:8])
}

func credentialsOf(c *gin.Context) (credentials, error) {
	token := BearerToken(c)
	if token == "" {
		token = c.GetString(ClientTokenKey)
	}
	if err := domain.ValidateToken(token); err != nil {
		return credentials{}, err
	}
	role, err := domain.ParseRole(c.Query("role"))
	if err != nil {
		return credentials{}, err
	}
	return credentials{Token: token, Role: role}, nil
}

// BearerToken returns the token carried by the request itself, if any.
func BearerToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	h := c.GetHeader("Authorization")
	if t, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(t)
	}
	return ""
}
