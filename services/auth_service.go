// services/auth_service.go
package services

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wfunc/auctionserver/logger"
	"github.com/wfunc/auctionserver/models"
	"github.com/wfunc/auctionserver/persistence"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenCache is the fast path for token lookups. cache.TokenCache satisfies it.
type TokenCache interface {
	Resolve(ctx context.Context, token string) (int64, error)
	Set(ctx context.Context, token string, userID int64) error
	Delete(ctx context.Context, token string) error
}

// AuthService 负责把登录令牌解析成玩家资料
type AuthService struct {
	store        persistence.PlayerStore
	cache        TokenCache
	autoRegister bool
}

// NewAuthService creates the service. cache may be nil.
func NewAuthService(store persistence.PlayerStore, cache TokenCache, autoRegister bool) *AuthService {
	return &AuthService{store: store, cache: cache, autoRegister: autoRegister}
}

// Login resolves token to a player profile.
func (s *AuthService) Login(ctx context.Context, token string) (*models.PlayerData, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	userID, cached, err := s.resolve(ctx, token)
	if errors.Is(err, persistence.ErrRecordNotFound) && s.autoRegister {
		return s.register(ctx, token)
	}
	if err != nil {
		return nil, err
	}

	player, err := s.store.LoadPlayer(ctx, userID)
	if errors.Is(err, persistence.ErrRecordNotFound) && cached {
		// The cached id outlived its player; retry against the store.
		s.forget(ctx, token)
		if userID, err = s.lookup(ctx, token); err != nil {
			if errors.Is(err, persistence.ErrRecordNotFound) {
				return s.register(ctx, token)
			}
			return nil, err
		}
		player, err = s.store.LoadPlayer(ctx, userID)
	}
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("load player %d: %w", userID, err)
	}
	return player, nil
}

// resolve maps token to a user id, cached reports whether the id came from the cache.
func (s *AuthService) resolve(ctx context.Context, token string) (userID int64, cached bool, err error) {
	if s.cache != nil {
		id, err := s.cache.Resolve(ctx, token)
		if err == nil {
			return id, true, nil
		}
		logger.Log.Debugf("token cache miss: %v", err)
	}
	id, err := s.lookup(ctx, token)
	return id, false, err
}

func (s *AuthService) lookup(ctx context.Context, token string) (int64, error) {
	id, err := s.store.FindUserIDByToken(ctx, token)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		if s.autoRegister {
			return 0, err
		}
		return 0, ErrInvalidToken
	}
	if err != nil {
		return 0, fmt.Errorf("find token: %w", err)
	}
	s.remember(ctx, token, id)
	return id, nil
}

func (s *AuthService) register(ctx context.Context, token string) (*models.PlayerData, error) {
	id := userIDForToken(token)
	player := &models.PlayerData{
		UserID: id,
		Name:   fmt.Sprintf("player%d", id%10000),
		Level:  1,
	}
	if err := s.store.SavePlayer(ctx, player, token); err != nil {
		return nil, fmt.Errorf("register player: %w", err)
	}
	s.remember(ctx, token, id)
	logger.Log.Infof("registered player %d (%s)", id, player.Name)
	return s.store.LoadPlayer(ctx, id)
}

func (s *AuthService) remember(ctx context.Context, token string, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, token, userID); err != nil {
		logger.Log.Warnf("cache token for player %d: %v", userID, err)
	}
}

func (s *AuthService) forget(ctx context.Context, token string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, token); err != nil {
		logger.Log.Warnf("evict cached token: %v", err)
	}
}

// userIDForToken derives a stable positive id from the token.
func userIDForToken(token string) int64 {
	sum := uuid.NewSHA1(uuid.NameSpaceOID, []byte(token))
	return int64(binary.BigEndian.Uint64(sum[:8]) >> 1)
}
