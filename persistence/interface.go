// persistence/interface.go
package persistence

import (
	"context"
	"fmt"

	"github.com/wfunc/auctionserver/models"
)

// PlayerStore holds player profiles and their login tokens. Auction state is
// never persisted.
type PlayerStore interface {
	LoadPlayer(ctx context.Context, userID int64) (*models.PlayerData, error)
	FindUserIDByToken(ctx context.Context, token string) (int64, error)
	SavePlayer(ctx context.Context, player *models.PlayerData, token string) error
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("record not found")
)
