// room/room.go
package room

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wfunc/auctionserver/state"
)

// Member is one seat in a room. Members keep join order.
type Member struct {
	PlayerID int64
	Name     string
	IsHost   bool
}

// Bid is the room's ledger entry. Seq is zero until the first accepted bid.
type Bid struct {
	Seq        uint32
	BidderID   int64
	BidderName string
	Amount     uint32
}

// HasBidder reports whether anyone has bid yet.
func (b Bid) HasBidder() bool {
	return b.Seq > 0
}

// Settings are shared by every room a Registry creates.
type Settings struct {
	MaxMembers  int
	InitialBid  uint32
	Duration    time.Duration
	StartOffset time.Duration
	// Now overrides the wall clock, used by tests.
	Now func() time.Time
}

func (s Settings) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Finished is raised exactly once when a started auction reaches its deadline.
type Finished struct {
	RoomID  uint16
	Name    string
	Winner  Bid
	Members []Member
}

// Snapshot is a point-in-time copy of a room.
type Snapshot struct {
	ID         uint16
	Name       string
	Visible    bool
	Phase      state.Phase
	MaxMembers int
	Members    []Member
	Ledger     Bid
	EndTime    time.Time
	OwnerID    int64
	Payload    []byte
	Closed     bool
}

// Host returns the current host, ok is false for an empty room.
func (s Snapshot) Host() (Member, bool) {
	for _, m := range s.Members {
		if m.IsHost {
			return m, true
		}
	}
	return Member{}, false
}

type JoinResult struct {
	Member  Member
	Members []Member
}

type LeaveResult struct {
	Left Member
	// Host is the host after the departure; zero when the room is empty.
	Host        Member
	HostChanged bool
	Empty       bool
	Remaining   []Member
}

type StartResult struct {
	EndTime time.Time
	Members []Member
}

type BidResult struct {
	Bid     Bid
	Members []Member
}

// Room 是拍卖房间：成员、出价账本和结束计时器都由房间自己的锁保护
type Room struct {
	id       uint16
	name     string
	visible  bool
	payload  []byte
	settings Settings

	scheduler  Scheduler
	onFinished FinishedListener

	mutex     sync.Mutex
	lifecycle *state.Machine
	members   []Member
	ledger    Bid
	endTime   time.Time
	timerID   int64
	armSeq    uint64
	ownerID   int64
	closed    bool
}

// DefaultName trims name and falls back to "<creator>'s Room".
func DefaultName(creator, name string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return fmt.Sprintf("%s's Room", creator)
}

// NewRoom creates an empty room in the open phase.
func NewRoom(id uint16, name string, visible bool, payload []byte, settings Settings, scheduler Scheduler, onFinished FinishedListener) *Room {
	r := &Room{
		id:         id,
		name:       name,
		visible:    visible,
		payload:    payload,
		settings:   settings,
		scheduler:  scheduler,
		onFinished: onFinished,
		lifecycle:  state.NewAuctionLifecycle(),
		ledger:     Bid{Amount: settings.InitialBid},
	}
	r.lifecycle.OnEnter(state.Started, r.armLocked)
	r.lifecycle.OnEnter(state.Finished, r.settleLocked)
	return r
}

func (r *Room) ID() uint16 {
	return r.id
}

func (r *Room) Name() string {
	return r.name
}

func (r *Room) Visible() bool {
	return r.visible
}

// Payload is the opaque content attached at creation. Callers must not modify it.
func (r *Room) Payload() []byte {
	return r.payload
}

func (r *Room) Phase() state.Phase {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.lifecycle.Current()
}

func (r *Room) MemberCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.members)
}

func (r *Room) isClosed() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.closed
}

func (r *Room) Ledger() Bid {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.ledger
}

func (r *Room) Snapshot() Snapshot {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return Snapshot{
		ID:         r.id,
		Name:       r.name,
		Visible:    r.visible,
		Phase:      r.lifecycle.Current(),
		MaxMembers: r.settings.MaxMembers,
		Members:    r.membersLocked(),
		Ledger:     r.ledger,
		EndTime:    r.endTime,
		OwnerID:    r.ownerID,
		Payload:    r.payload,
		Closed:     r.closed,
	}
}

// Join seats a player. The first member becomes host.
func (r *Room) Join(playerID int64, name string) (JoinResult, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return JoinResult{}, ErrRoomClosed
	}
	if r.lifecycle.Current() != state.Open {
		return JoinResult{}, ErrAlreadyStarted
	}
	if r.indexLocked(playerID) >= 0 {
		return JoinResult{}, ErrAlreadyInRoom
	}
	if len(r.members) >= r.settings.MaxMembers {
		return JoinResult{}, ErrRoomFull
	}

	m := Member{PlayerID: playerID, Name: name, IsHost: len(r.members) == 0}
	r.members = append(r.members, m)
	return JoinResult{Member: m, Members: r.membersLocked()}, nil
}

// Leave removes a player. When the host leaves, the earliest remaining member
// takes over. The last departure closes the room for good.
func (r *Room) Leave(playerID int64) (LeaveResult, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	i := r.indexLocked(playerID)
	if i < 0 {
		return LeaveResult{}, ErrNotMember
	}

	left := r.members[i]
	r.members = append(r.members[:i], r.members[i+1:]...)

	res := LeaveResult{Left: left}
	if len(r.members) == 0 {
		r.closed = true
		r.disarmLocked()
		res.Empty = true
		return res, nil
	}

	if left.IsHost {
		r.members[0].IsHost = true
		res.HostChanged = true
	}
	res.Host = r.members[0]
	res.Remaining = r.membersLocked()
	return res, nil
}

// Start moves the room from open to started and arms the close-out timer.
func (r *Room) Start(playerID int64) (StartResult, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return StartResult{}, ErrRoomClosed
	}
	i := r.indexLocked(playerID)
	if i < 0 {
		return StartResult{}, ErrNotMember
	}
	if !r.members[i].IsHost {
		return StartResult{}, ErrNotHost
	}
	if err := r.lifecycle.ChangeState(state.Started); err != nil {
		return StartResult{}, ErrAlreadyStarted
	}
	return StartResult{EndTime: r.endTime, Members: r.membersLocked()}, nil
}

// Bid replaces the ledger iff amount is strictly greater than the current amount.
func (r *Room) Bid(playerID int64, amount uint32) (BidResult, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	i := r.indexLocked(playerID)
	if r.closed || i < 0 {
		return BidResult{}, ErrNotMember
	}
	if r.lifecycle.Current() != state.Started {
		return BidResult{}, ErrNotRunning
	}
	if amount <= r.ledger.Amount {
		return BidResult{}, ErrStaleBid
	}

	bidder := r.members[i]
	r.ledger = Bid{
		Seq:        r.ledger.Seq + 1,
		BidderID:   bidder.PlayerID,
		BidderName: bidder.Name,
		Amount:     amount,
	}
	return BidResult{Bid: r.ledger, Members: r.membersLocked()}, nil
}

// expire is the timer callback. It goes through the room lock like every
// other operation and only acts on the arming it was created for.
func (r *Room) expire(seq uint64) {
	r.mutex.Lock()
	if r.closed || seq != r.armSeq || r.lifecycle.Current() != state.Started {
		r.mutex.Unlock()
		return
	}
	if err := r.lifecycle.ChangeState(state.Finished); err != nil {
		r.mutex.Unlock()
		return
	}
	ev := Finished{
		RoomID:  r.id,
		Name:    r.name,
		Winner:  r.ledger,
		Members: r.membersLocked(),
	}
	listener := r.onFinished
	r.mutex.Unlock()

	if listener != nil {
		listener(ev)
	}
}

// armLocked runs on entering started, inside Start's critical section.
func (r *Room) armLocked(state.Phase) {
	delay := r.settings.Duration + r.settings.StartOffset
	r.endTime = r.settings.now().Add(delay)
	r.armSeq++
	seq := r.armSeq
	r.timerID = r.scheduler.AddTimer(delay, 0, func() { r.expire(seq) })
}

// settleLocked runs on entering finished. The winner owns the room afterwards.
func (r *Room) settleLocked(state.Phase) {
	r.ownerID = r.ledger.BidderID
	r.disarmLocked()
}

func (r *Room) disarmLocked() {
	if r.timerID != 0 {
		r.scheduler.RemoveTimer(r.timerID)
		r.timerID = 0
	}
}

func (r *Room) indexLocked(playerID int64) int {
	for i, m := range r.members {
		if m.PlayerID == playerID {
			return i
		}
	}
	return -1
}

func (r *Room) membersLocked() []Member {
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out
}
