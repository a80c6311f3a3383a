package room

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/wfunc/auctionserver/logger"
	"github.com/wfunc/auctionserver/state"
)

// Registry is the process-wide table of live rooms and the player -> room
// index. Both tables are sync.Maps, so unrelated rooms never contend.
type Registry struct {
	rooms     sync.Map // uint16 -> *Room
	players   sync.Map // int64 -> *Room
	allocator *Allocator
	settings  Settings
	scheduler Scheduler
	count     atomic.Int64

	listenerMutex sync.RWMutex
	listeners     []FinishedListener
}

func NewRegistry(settings Settings, scheduler Scheduler, maxRoomID uint16) *Registry {
	r := &Registry{
		settings:  settings,
		scheduler: scheduler,
	}
	r.allocator = NewAllocator(&r.rooms, maxRoomID)
	return r
}

// OnFinished registers a listener for auction close-out events.
func (r *Registry) OnFinished(listener FinishedListener) {
	r.listenerMutex.Lock()
	defer r.listenerMutex.Unlock()
	r.listeners = append(r.listeners, listener)
}

// reservation holds a creator's index slot while their room is being built.
var reservation = &Room{closed: true}

// CreateRoom opens a room with the creator seated as host.
func (r *Registry) CreateRoom(creatorID int64, creatorName, name string, visible bool, payload []byte) (*Room, error) {
	// Claim the index slot before the room is published so the creator can
	// never end up in two rooms.
	if _, busy := r.players.LoadOrStore(creatorID, reservation); busy {
		return nil, ErrAlreadyInRoom
	}

	name = DefaultName(creatorName, name)
	var joinErr error
	rm, err := r.allocator.Allocate(func(id uint16) *Room {
		candidate := NewRoom(id, name, visible, payload, r.settings, r.scheduler, r.finished)
		if _, joinErr = candidate.Join(creatorID, creatorName); joinErr != nil {
			candidate.closed = true
		}
		return candidate
	})
	if err != nil {
		r.players.CompareAndDelete(creatorID, reservation)
		logger.Log.Warnf("Room allocation failed for player %d: %v", creatorID, err)
		return nil, err
	}
	if joinErr != nil {
		r.rooms.CompareAndDelete(rm.ID(), rm)
		r.players.CompareAndDelete(creatorID, reservation)
		logger.Log.Warnf("Creator %d could not join room %d: %v", creatorID, rm.ID(), joinErr)
		return nil, joinErr
	}

	r.players.Store(creatorID, rm)
	r.count.Add(1)
	logger.Log.Infof("Player %d created room %d (%q)", creatorID, rm.ID(), name)
	return rm, nil
}

// JoinRoom seats a player in a live room.
func (r *Registry) JoinRoom(roomID uint16, playerID int64, name string) (*Room, JoinResult, error) {
	v, ok := r.rooms.Load(roomID)
	if !ok {
		return nil, JoinResult{}, ErrRoomNotFound
	}
	rm := v.(*Room)

	// Reserve the index entry first so one player cannot land in two rooms.
	if _, loaded := r.players.LoadOrStore(playerID, rm); loaded {
		return rm, JoinResult{}, ErrAlreadyInRoom
	}

	res, err := rm.Join(playerID, name)
	if err != nil {
		r.players.CompareAndDelete(playerID, rm)
		if errors.Is(err, ErrRoomClosed) {
			return nil, JoinResult{}, ErrRoomNotFound
		}
		return rm, JoinResult{}, err
	}
	return rm, res, nil
}

// LeaveRoom removes a player from their room and destroys the room when it empties.
func (r *Registry) LeaveRoom(playerID int64) (*Room, LeaveResult, error) {
	v, ok := r.players.Load(playerID)
	if !ok {
		return nil, LeaveResult{}, ErrNotInRoom
	}
	rm := v.(*Room)
	if rm == reservation {
		return nil, LeaveResult{}, ErrNotInRoom
	}

	res, err := rm.Leave(playerID)
	if err != nil {
		// The entry is a join still in flight unless the room is gone.
		if rm.isClosed() {
			r.players.CompareAndDelete(playerID, rm)
		}
		return nil, LeaveResult{}, ErrNotInRoom
	}
	r.players.CompareAndDelete(playerID, rm)
	if res.Empty {
		r.remove(rm)
	}
	return rm, res, nil
}

// OnPlayerDisconnected runs the leave path for a player whose connection is gone.
func (r *Registry) OnPlayerDisconnected(playerID int64) (*Room, LeaveResult, error) {
	rm, res, err := r.LeaveRoom(playerID)
	if err == nil {
		logger.Log.Infof("Disconnected player %d left room %d", playerID, rm.ID())
	}
	return rm, res, err
}

func (r *Registry) GetRoom(roomID uint16) (*Room, bool) {
	v, ok := r.rooms.Load(roomID)
	if !ok {
		return nil, false
	}
	return v.(*Room), true
}

// RoomOf returns the room a player currently occupies.
func (r *Registry) RoomOf(playerID int64) (*Room, bool) {
	v, ok := r.players.Load(playerID)
	if !ok || v.(*Room) == reservation {
		return nil, false
	}
	return v.(*Room), true
}

// ListOpenRooms returns public rooms still accepting members. The result is a
// snapshot in no particular order.
func (r *Registry) ListOpenRooms() []Snapshot {
	var open []Snapshot
	r.rooms.Range(func(_, v any) bool {
		snap := v.(*Room).Snapshot()
		if snap.Visible && snap.Phase == state.Open && !snap.Closed {
			open = append(open, snap)
		}
		return true
	})
	return open
}

// Snapshots returns every live room.
func (r *Registry) Snapshots() []Snapshot {
	var all []Snapshot
	r.rooms.Range(func(_, v any) bool {
		all = append(all, v.(*Room).Snapshot())
		return true
	})
	return all
}

// Count is the number of live rooms.
func (r *Registry) Count() int {
	return int(r.count.Load())
}

func (r *Registry) remove(rm *Room) {
	if r.rooms.CompareAndDelete(rm.ID(), rm) {
		r.count.Add(-1)
		logger.Log.Infof("Room %d destroyed", rm.ID())
	}
}

func (r *Registry) finished(ev Finished) {
	if ev.Winner.HasBidder() {
		logger.Log.Infof("Auction in room %d finished, winner %d at %d", ev.RoomID, ev.Winner.BidderID, ev.Winner.Amount)
	} else {
		logger.Log.Infof("Auction in room %d finished without bids", ev.RoomID)
	}

	r.listenerMutex.RLock()
	listeners := append([]FinishedListener(nil), r.listeners...)
	r.listenerMutex.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}
