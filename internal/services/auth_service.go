package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/fairwaygolf/assetsync/pkg/crypto"
	jwtpkg "github.com/fairwaygolf/assetsync/pkg/jwt"
	"github.com/redis/go-redis/v9"
)

const RoleAdmin = "admin"

// AuthService authenticates the single configured admin account and checks
// bearer tokens. Revoked tokens are kept in redis until they expire.
type AuthService struct {
	redis *redis.Client
	cfg   *config.Config
}

func NewAuthService(redis *redis.Client, cfg *config.Config) *AuthService {
	return &AuthService{
		redis: redis,
		cfg:   cfg,
	}
}

// Login checks the admin credentials and returns an access token with its
// expiry.
func (s *AuthService) Login(username, password string) (string, time.Time, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.AdminUsername)) == 1
	passOK := crypto.CheckPassword(password, s.cfg.AdminPasswordHash)
	if !userOK || !passOK {
		return "", time.Time{}, ErrInvalidLogin
	}
	return s.IssueToken(username, jwtpkg.AccessToken, s.cfg.JWTAccessTokenDuration)
}

// IssueToken mints an admin token of the given type.
func (s *AuthService) IssueToken(username string, tokenType jwtpkg.TokenType, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = s.cfg.JWTAccessTokenDuration
	}
	token, err := jwtpkg.GenerateToken(username, RoleAdmin, tokenType, s.cfg.JWTSecret, ttl)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, time.Now().Add(ttl), nil
}

// ValidateAccessToken validates an access or worker token and returns claims
func (s *AuthService) ValidateAccessToken(ctx context.Context, token string) (*jwtpkg.Claims, error) {
	claims, err := jwtpkg.ValidateToken(token, s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != jwtpkg.AccessToken && claims.TokenType != jwtpkg.WorkerToken {
		return nil, errors.New("invalid token type")
	}
	if claims.Role != RoleAdmin {
		return nil, errors.New("insufficient role")
	}

	// If redis is down, we allow the request to proceed
	if s.redis != nil {
		exists, err := s.redis.Exists(ctx, blacklistKey(token)).Result()
		if err != nil {
			log.Printf("WARN: Could not connect to Redis to check token blacklist: %v", err)
		} else if exists > 0 {
			return nil, errors.New("token is blacklisted")
		}
	}

	return claims, nil
}

// Logout revokes a token for the rest of its lifetime.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	claims, err := jwtpkg.ValidateToken(token, s.cfg.JWTSecret)
	if err != nil {
		return err
	}
	if s.redis == nil {
		return errors.New("token revocation needs redis")
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	return s.redis.Set(ctx, blacklistKey(token), "1", ttl).Err()
}

func blacklistKey(token string) string {
	return fmt.Sprintf("blacklist:token:%s", token)
}
