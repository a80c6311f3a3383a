package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/auctionserver/config"
	"github.com/wfunc/auctionserver/models"
	"github.com/wfunc/auctionserver/persistence"
)

type mapCache struct {
	tokens  map[string]int64
	gets    int
	deletes []string
}

func (c *mapCache) Resolve(_ context.Context, token string) (int64, error) {
	c.gets++
	id, ok := c.tokens[token]
	if !ok {
		return 0, errors.New("miss")
	}
	return id, nil
}

func (c *mapCache) Set(_ context.Context, token string, userID int64) error {
	c.tokens[token] = userID
	return nil
}

func (c *mapCache) Delete(_ context.Context, token string) error {
	c.deletes = append(c.deletes, token)
	delete(c.tokens, token)
	return nil
}

func TestAuthService_LoginKnownToken(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	require.NoError(t, store.SavePlayer(ctx, &models.PlayerData{UserID: 5, Name: "Alice"}, "tok"))
	tc := &mapCache{tokens: map[string]int64{}}

	auth := NewAuthService(store, tc, false)
	p, err := auth.Login(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.UserID)
	assert.Equal(t, "Alice", p.Name)
	assert.Equal(t, int64(5), tc.tokens["tok"], "store hit populates the cache")

	_, err = auth.Login(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, 2, tc.gets)
}

func TestAuthService_EvictsStaleCachedToken(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	require.NoError(t, store.SavePlayer(ctx, &models.PlayerData{UserID: 5, Name: "Alice"}, "tok"))
	tc := &mapCache{tokens: map[string]int64{"tok": 99, "gone": 98}}

	auth := NewAuthService(store, tc, false)
	p, err := auth.Login(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.UserID)
	assert.Equal(t, []string{"tok"}, tc.deletes)
	assert.Equal(t, int64(5), tc.tokens["tok"], "store hit repopulates the cache")

	_, err = auth.Login(ctx, "gone")
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, []string{"tok", "gone"}, tc.deletes)
	_, cached := tc.tokens["gone"]
	assert.False(t, cached)
}

func TestAuthService_RejectsUnknownToken(t *testing.T) {
	auth := NewAuthService(persistence.NewMemoryStore(), nil, false)

	_, err := auth.Login(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = auth.Login(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_AutoRegister(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	auth := NewAuthService(store, nil, true)

	first, err := auth.Login(ctx, "fresh")
	require.NoError(t, err)
	assert.Positive(t, first.UserID)
	assert.NotEmpty(t, first.Name)

	again, err := auth.Login(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, first.UserID, again.UserID)

	other, err := auth.Login(ctx, "other")
	require.NoError(t, err)
	assert.NotEqual(t, first.UserID, other.UserID)
}

func TestBuildMine_Deterministic(t *testing.T) {
	a := BuildMine(42, 4)
	b := BuildMine(42, 4)
	assert.Equal(t, a, b)
	require.Len(t, a.Cells, 4)
	for _, row := range a.Cells {
		require.Len(t, row, 4)
		for _, c := range row {
			assert.NotEmpty(t, c.Kind)
			assert.Positive(t, c.Quantity)
		}
	}
}

func TestMineGenerator_Generate(t *testing.T) {
	g := NewMineGenerator(3, 1)
	data, err := g.Generate()
	require.NoError(t, err)

	var mine models.Mine
	require.NoError(t, json.Unmarshal(data, &mine))
	assert.Equal(t, 3, mine.Size)

	next, err := g.Generate()
	require.NoError(t, err)
	assert.NotEqual(t, data, next)
}

func TestBuildMine_LargestFitsFrame(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		data, err := json.Marshal(BuildMine(seed, config.MaxMineSize))
		require.NoError(t, err)
		assert.Less(t, len(data), math.MaxUint16-1024, "seed %d", seed)
	}
}
