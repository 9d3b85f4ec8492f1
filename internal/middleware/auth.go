// Package middleware provides caller resolution, logging, tracing and rate
// limiting for the HTTP and websocket routes.
package middleware

import (
	"errors"
	"strings"

	"tally/internal/models"
	"tally/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// UsernameLocal is the Fiber local holding the resolved caller.
const UsernameLocal = "username"

var (
	errMissingToken = errors.New("token required")
	errBadSubject   = errors.New("invalid token subject")
)

// TokenResolver resolves the caller's username from a signed token issued
// elsewhere. Only HMAC-signed tokens are accepted.
type TokenResolver struct {
	secret   []byte
	issuer   string
	audience string
}

// NewTokenResolver builds a resolver. Empty issuer or audience disables
// the corresponding claim check.
func NewTokenResolver(secret, issuer, audience string) *TokenResolver {
	return &TokenResolver{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}
}

// Resolve validates tokenString and returns its subject.
func (r *TokenResolver) Resolve(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	if r.audience != "" {
		opts = append(opts, jwt.WithAudience(r.audience))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return r.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", errors.New("invalid or expired token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", errBadSubject
	}
	return sub, nil
}

// Issue signs a token for username. Credential issuance lives outside this
// service; Issue exists for the seed command and tests.
func (r *TokenResolver) Issue(username string, claims jwt.MapClaims) (string, error) {
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims["sub"] = username
	if r.issuer != "" {
		claims["iss"] = r.issuer
	}
	if r.audience != "" {
		claims["aud"] = r.audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

// extractToken looks for the token in the Authorization header, the token
// cookie, the token query parameter and finally a token body field.
func extractToken(c *fiber.Ctx) string {
	if authHeader := c.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	if token := c.Cookies("token"); token != "" {
		return token
	}
	if token := c.Query("token"); token != "" {
		return token
	}
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) && len(c.Body()) > 0 {
		var body struct {
			Token string `json:"token"`
		}
		if err := c.BodyParser(&body); err == nil {
			return body.Token
		}
	}
	return ""
}

// AuthRequired is a middleware that enforces authentication for protected routes.
func (r *TokenResolver) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		username, err := r.Resolve(extractToken(c))
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or missing token"))
		}

		c.Locals(UsernameLocal, username)
		c.SetUserContext(observability.WithUsername(c.UserContext(), username))
		return c.Next()
	}
}

// CurrentUsername returns the caller resolved by AuthRequired.
func CurrentUsername(c *fiber.Ctx) (string, error) {
	username, ok := c.Locals(UsernameLocal).(string)
	if !ok || username == "" {
		return "", models.NewUnauthorizedError("Unauthorized")
	}
	return username, nil
}
