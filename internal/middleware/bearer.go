package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/osvaldoandrade/jwtguard/pkg/token"
	"github.com/osvaldoandrade/jwtguard/pkg/validator"
)

const accessTokenKey = "accessToken"

var (
	errMissingAuthorization = errors.New("missing Authorization header")
	errInvalidAuthorization = errors.New("invalid Authorization format")
)

// BearerAuth validates the bearer access token and stores the content for
// AccessTokenFrom. requiredScopes must all be granted.
func BearerAuth(v *validator.TokenValidator, requiredScopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		content, err := v.CreateAccessToken(c.Request.Context(), raw)
		if err != nil {
			event, _ := token.EventOf(err)
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "event": event.String()})
			return
		}
		if missing := content.MissingScopes(requiredScopes...); len(missing) > 0 {
			c.Header("WWW-Authenticate", `Bearer error="insufficient_scope", scope="`+strings.Join(requiredScopes, " ")+`"`)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient scope", "missing": missing})
			return
		}
		c.Set(accessTokenKey, content)
		c.Next()
	}
}

// AccessTokenFrom returns the access token validated for this request by
// BearerAuth.
func AccessTokenFrom(c *gin.Context) (*token.AccessTokenContent, bool) {
	v, ok := c.Get(accessTokenKey)
	if !ok {
		return nil, false
	}
	content, ok := v.(*token.AccessTokenContent)
	return content, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errMissingAuthorization
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errInvalidAuthorization
	}
	return strings.TrimSpace(parts[1]), nil
}
