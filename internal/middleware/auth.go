// Package middleware carries the gin middleware for the HTTP API. Identity
// arrives from the platform's auth service as a signed JWT; this layer only
// verifies the signature and extracts the actor, it never manages accounts.
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"blocksentinel/internal/config"
	"blocksentinel/internal/models"
)

const actorContextKey = "actor"

// Claims is the token shape issued by the auth service.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Auth verifies the bearer token and stores the actor on the request
// context. When AllowDevHeader is set (development only, Validate rejects
// it in production), X-Actor-ID and X-Actor-Role substitute for a token.
func Auth(cfg config.AuthConfig, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("auth")

	return func(c *gin.Context) {
		actor, err := actorFromRequest(c, cfg)
		if err != nil {
			log.Debug("Rejected request", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
				"code":  "unauthorized",
			})
			return
		}

		c.Set(actorContextKey, actor)
		c.Next()
	}
}

// ActorFrom returns the authenticated actor stored by Auth.
func ActorFrom(c *gin.Context) (models.Actor, bool) {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := value.(models.Actor)
	return actor, ok
}

func actorFromRequest(c *gin.Context, cfg config.AuthConfig) (models.Actor, error) {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return actorFromToken(strings.TrimPrefix(header, "Bearer "), cfg.JWTSecret)
	}

	if cfg.AllowDevHeader {
		if id := c.GetHeader("X-Actor-ID"); id != "" {
			return actorFromDevHeaders(id, c.GetHeader("X-Actor-Role"))
		}
	}

	return models.Actor{}, fmt.Errorf("missing credentials")
}

func actorFromToken(tokenString, secret string) (models.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return models.Actor{}, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return models.Actor{}, fmt.Errorf("invalid token")
	}

	actorID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return models.Actor{}, fmt.Errorf("invalid subject: %w", err)
	}

	role := models.Role(claims.Role)
	if !role.Valid() {
		return models.Actor{}, fmt.Errorf("unknown role: %s", claims.Role)
	}

	return models.Actor{ID: actorID, Role: role}, nil
}

func actorFromDevHeaders(id, roleHeader string) (models.Actor, error) {
	actorID, err := uuid.Parse(id)
	if err != nil {
		return models.Actor{}, fmt.Errorf("invalid actor id header: %w", err)
	}

	role := models.Role(roleHeader)
	if !role.Valid() {
		return models.Actor{}, fmt.Errorf("unknown role header: %s", roleHeader)
	}

	return models.Actor{ID: actorID, Role: role}, nil
}
