package middleware

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	lru "github.com/hashicorp/golang-lru"

	"tradepost/database/repositories"
	"tradepost/trade"
	"tradepost/web/utils"
)

const (
	authCacheSize = 1024
	authCacheTTL  = 5 * time.Minute
)

type cachedActor struct {
	actor    trade.Actor
	cachedAt time.Time
}

// Authenticator resolves API tokens to actors. Lookups go through a small
// TTL'd LRU so a burst of requests from one client hits the database once.
type Authenticator struct {
	users repositories.UserRepository
	cache *lru.Cache
}

func NewAuthenticator(users repositories.UserRepository) *Authenticator {
	cache, _ := lru.New(authCacheSize)
	return &Authenticator{users: users, cache: cache}
}

// AuthRequired middleware ensures the request carries a valid API token and
// stores the resolved actor in the context.
func (a *Authenticator) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return utils.SendUnauthorized(c, "Authentication required")
		}

		if entry, ok := a.cache.Get(token); ok {
			cached := entry.(cachedActor)
			if time.Since(cached.cachedAt) < authCacheTTL {
				c.Locals("actor", cached.actor)
				return c.Next()
			}
			a.cache.Remove(token)
		}

		user, err := a.users.GetByToken(c.Context(), token)
		if err != nil {
			if repositories.IsNotFound(err) {
				return utils.SendUnauthorized(c, "Invalid API token")
			}
			slog.Error("Auth middleware: token lookup failed",
				slog.String("error", err.Error()),
				slog.String("ip", utils.GetIPAddress(c)))
			return utils.SendInternalServerError(c, "Authentication unavailable")
		}
		if user.Banned {
			return utils.SendForbidden(c, "Account suspended")
		}

		actor := trade.Actor{
			ID:           user.ID,
			Username:     user.Username,
			ManageTrades: user.ManageTrades,
		}
		a.cache.Add(token, cachedActor{actor: actor, cachedAt: time.Now()})

		c.Locals("actor", actor)
		return c.Next()
	}
}

// ModeratorRequired middleware ensures the actor may manage other users'
// trades. Must run after AuthRequired.
func ModeratorRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := utils.ExtractActor(c)
		if !ok {
			return utils.SendForbidden(c, "Access denied")
		}
		if !actor.ManageTrades {
			slog.Warn("Moderator required: actor lacks permission",
				slog.Int64("user_id", actor.ID),
				slog.String("username", actor.Username))
			return utils.SendForbidden(c, "Moderator access required")
		}
		return c.Next()
	}
}

// Invalidate drops a token from the cache, for use when a user is banned or
// their token rotates.
func (a *Authenticator) Invalidate(token string) {
	a.cache.Remove(token)
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
