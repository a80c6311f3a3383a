// broadcast/broadcast.go
package broadcast

import (
	"github.com/wfunc/auctionserver/logger"
	"github.com/wfunc/auctionserver/room"
	"github.com/wfunc/auctionserver/session"
)

// 广播接口
type Broadcaster interface {
	// BroadcastToMembers sends to every member except the player id except (0 sends to all).
	BroadcastToMembers(members []room.Member, except int64, msgID uint16, data []byte) int
	BroadcastToUsers(userIDs []int64, msgID uint16, data []byte) int
}

// SessionBroadcaster delivers to every live session of each player.
type SessionBroadcaster struct {
	sessionManager *session.Manager
}

func NewSessionBroadcaster(sessionManager *session.Manager) *SessionBroadcaster {
	return &SessionBroadcaster{sessionManager: sessionManager}
}

func (b *SessionBroadcaster) BroadcastToMembers(members []room.Member, except int64, msgID uint16, data []byte) int {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if except != 0 && m.PlayerID == except {
			continue
		}
		ids = append(ids, m.PlayerID)
	}
	return b.BroadcastToUsers(ids, msgID, data)
}

// BroadcastToUsers returns the number of sessions that accepted the message.
// Players without a session are skipped; they are disconnecting.
func (b *SessionBroadcaster) BroadcastToUsers(userIDs []int64, msgID uint16, data []byte) int {
	delivered := 0
	for _, userID := range userIDs {
		for _, s := range b.sessionManager.GetByUserID(userID) {
			if err := s.Send(msgID, data); err != nil {
				logger.Log.Debugf("Broadcast %d to session %s failed: %v", msgID, s.GetID(), err)
				continue
			}
			delivered++
		}
	}
	return delivered
}
