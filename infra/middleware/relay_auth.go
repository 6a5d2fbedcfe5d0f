package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"formrelay/pkg/apperr"
	"formrelay/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// AdminRole is the role claim admin tokens must carry.
const AdminRole = "admin"

// TokenBlacklist stores revoked token ids in Redis until they expire.
type TokenBlacklist struct {
	redis  redis.UniversalClient
	prefix string
}

func NewTokenBlacklist(client redis.UniversalClient) *TokenBlacklist {
	if client == nil {
		return nil
	}
	return &TokenBlacklist{redis: client, prefix: "relay:token:revoked:"}
}

// Revoke blacklists tokenID for expiry. Non-positive expiries are ignored.
func (b *TokenBlacklist) Revoke(ctx context.Context, tokenID string, expiry time.Duration) error {
	if b == nil || tokenID == "" || expiry <= 0 {
		return nil
	}
	return b.redis.Set(ctx, b.prefix+tokenID, "1", expiry).Err()
}

// IsRevoked reports whether tokenID was revoked. Redis failures fail open.
func (b *TokenBlacklist) IsRevoked(ctx context.Context, tokenID string) bool {
	if b == nil || tokenID == "" {
		return false
	}
	n, err := b.redis.Exists(ctx, b.prefix+tokenID).Result()
	if err != nil {
		logger.WithError(err).Warn("token blacklist lookup failed")
		return false
	}
	return n > 0
}

// AdminJWTAuth validates HS256 bearer tokens for the admin API. Tokens must
// carry a subject and role=admin, and must not be revoked.
func AdminJWTAuth(secret string, blacklist *TokenBlacklist) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(time.Minute),
	)

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}
		if secret == "" {
			return apperr.Unavailable("admin api", fmt.Errorf("ADMIN_JWT_SECRET not configured"))
		}

		tokenString := bearerToken(c.Get(fiber.HeaderAuthorization))
		if tokenString == "" {
			return apperr.Unauthorized("missing authorization")
		}

		claims := jwt.MapClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			logger.WithError(err).Warn("admin token rejected")
			return apperr.InvalidToken("invalid token")
		}

		subject, _ := claims.GetSubject()
		if subject == "" {
			return apperr.InvalidToken("missing subject")
		}
		if role, _ := claims["role"].(string); role != AdminRole {
			return apperr.Forbidden("admin role required")
		}

		jti, _ := claims["jti"].(string)
		if blacklist.IsRevoked(c.UserContext(), jti) {
			return apperr.InvalidToken("token has been revoked")
		}

		c.Locals("admin_subject", subject)
		c.Locals("claims", claims)
		return c.Next()
	}
}

// RevokeCurrentToken blacklists the token that authenticated the request for
// the rest of its lifetime.
func RevokeCurrentToken(c *fiber.Ctx, blacklist *TokenBlacklist) error {
	claims, ok := c.Locals("claims").(jwt.MapClaims)
	if !ok {
		return apperr.Unauthorized("")
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return apperr.BadRequest("token has no jti claim")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return apperr.BadRequest("token has no expiry")
	}
	if err := blacklist.Revoke(c.UserContext(), jti, time.Until(exp.Time)); err != nil {
		return apperr.ExternalError("redis", err)
	}
	return nil
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
