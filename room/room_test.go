package room

import (
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/auctionserver/state"
)

// fakeScheduler records armed timers so tests decide when they fire.
type fakeScheduler struct {
	mu        sync.Mutex
	next      int64
	callbacks map[int64]func()
	delays    map[int64]time.Duration
	removed   map[int64]bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		callbacks: make(map[int64]func()),
		delays:    make(map[int64]time.Duration),
		removed:   make(map[int64]bool),
	}
}

func (s *fakeScheduler) AddTimer(delay, _ time.Duration, cb func()) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.callbacks[s.next] = cb
	s.delays[s.next] = delay
	return s.next
}

func (s *fakeScheduler) RemoveTimer(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed[id] = true
}

func (s *fakeScheduler) armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.callbacks)
}

func (s *fakeScheduler) wasRemoved(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removed[id]
}

// fire runs the callback even if it was removed, like a callback that was
// already dispatched when RemoveTimer ran.
func (s *fakeScheduler) fire(id int64) {
	s.mu.Lock()
	cb := s.callbacks[id]
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func testSettings(maxMembers int) Settings {
	return Settings{
		MaxMembers: maxMembers,
		InitialBid: 500,
		Duration:   30 * time.Second,
		Now:        func() time.Time { return testNow },
	}
}

func newTestRoom(t *testing.T, maxMembers int, onFinished FinishedListener) (*Room, *fakeScheduler) {
	t.Helper()
	sched := newFakeScheduler()
	return NewRoom(1, "Test Room", true, []byte("mine"), testSettings(maxMembers), sched, onFinished), sched
}

func hosts(members []Member) []int64 {
	var ids []int64
	for _, m := range members {
		if m.IsHost {
			ids = append(ids, m.PlayerID)
		}
	}
	return ids
}

func TestRoom_FirstJoinerIsHost(t *testing.T) {
	r, _ := newTestRoom(t, 4, nil)

	res, err := r.Join(1, "A")
	require.NoError(t, err)
	assert.True(t, res.Member.IsHost)

	res, err = r.Join(2, "B")
	require.NoError(t, err)
	assert.False(t, res.Member.IsHost)
	assert.Len(t, res.Members, 2)
	assert.Equal(t, []int64{1}, hosts(res.Members))
}

func TestRoom_JoinCapacity(t *testing.T) {
	r, _ := newTestRoom(t, 2, nil)

	_, err := r.Join(1, "A")
	require.NoError(t, err)
	_, err = r.Join(2, "B")
	require.NoError(t, err)

	_, err = r.Join(3, "C")
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, 2, r.MemberCount())

	_, err = r.Join(1, "A")
	assert.ErrorIs(t, err, ErrAlreadyInRoom)
}

func TestRoom_ConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	const capacity = 5
	r, _ := newTestRoom(t, capacity, nil)

	var (
		wg       sync.WaitGroup
		accepted int32
		full     int32
	)
	for i := 0; i < capacity+1; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := r.Join(id, "p"); err == nil {
				atomic.AddInt32(&accepted, 1)
			} else if err == ErrRoomFull {
				atomic.AddInt32(&full, 1)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	assert.EqualValues(t, capacity, accepted)
	assert.EqualValues(t, 1, full)
	assert.Equal(t, capacity, r.MemberCount())
}

func TestRoom_HostLeavesNextMemberPromoted(t *testing.T) {
	r, _ := newTestRoom(t, 4, nil)
	for i, name := range []string{"A", "B", "C"} {
		_, err := r.Join(int64(i+1), name)
		require.NoError(t, err)
	}

	res, err := r.Leave(1)
	require.NoError(t, err)
	assert.Equal(t, "A", res.Left.Name)
	assert.True(t, res.HostChanged)
	assert.Equal(t, int64(2), res.Host.PlayerID)
	assert.False(t, res.Empty)
	assert.Equal(t, []int64{2}, hosts(res.Remaining))

	snap := r.Snapshot()
	require.Len(t, snap.Members, 2)
	assert.Equal(t, "B", snap.Members[0].Name)
}

func TestRoom_NonHostLeaveKeepsHost(t *testing.T) {
	r, _ := newTestRoom(t, 4, nil)
	r.Join(1, "A")
	r.Join(2, "B")

	res, err := r.Leave(2)
	require.NoError(t, err)
	assert.False(t, res.HostChanged)
	assert.Equal(t, int64(1), res.Host.PlayerID)

	_, err = r.Leave(2)
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestRoom_LastLeaveClosesRoom(t *testing.T) {
	r, _ := newTestRoom(t, 4, nil)
	r.Join(1, "A")

	res, err := r.Leave(1)
	require.NoError(t, err)
	assert.True(t, res.Empty)

	_, err = r.Join(2, "B")
	assert.ErrorIs(t, err, ErrRoomClosed)
	assert.True(t, r.Snapshot().Closed)
}

func TestRoom_HostInvariantUnderRandomChurn(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r, _ := newTestRoom(t, 6, nil)
	r.Join(0, "seed")

	var order []int64 // join order of current members
	order = append(order, 0)
	next := int64(1)

	for step := 0; step < 500; step++ {
		if len(order) > 1 && rng.Intn(2) == 0 {
			victim := order[rng.Intn(len(order))]
			_, err := r.Leave(victim)
			require.NoError(t, err)
			for i, id := range order {
				if id == victim {
					order = append(order[:i], order[i+1:]...)
					break
				}
			}
		} else if len(order) < 6 {
			_, err := r.Join(next, "p")
			require.NoError(t, err)
			order = append(order, next)
			next++
		}

		members := r.Snapshot().Members
		require.Equal(t, []int64{order[0]}, hosts(members), "step %d", step)
	}
}

func TestRoom_StartRequiresHost(t *testing.T) {
	r, sched := newTestRoom(t, 4, nil)
	r.Join(1, "A")
	r.Join(2, "B")

	_, err := r.Start(2)
	assert.ErrorIs(t, err, ErrNotHost)
	_, err = r.Start(99)
	assert.ErrorIs(t, err, ErrNotMember)
	assert.Equal(t, state.Open, r.Phase())
	assert.Equal(t, 0, sched.armed())

	res, err := r.Start(1)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(30*time.Second), res.EndTime)
	assert.Equal(t, state.Started, r.Phase())

	_, err = r.Start(1)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Equal(t, 1, sched.armed(), "a second start must not arm a second timer")

	_, err = r.Join(3, "C")
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestRoom_StartOffsetExtendsDeadline(t *testing.T) {
	settings := testSettings(2)
	settings.StartOffset = 5 * time.Second
	sched := newFakeScheduler()
	r := NewRoom(3, "offset", true, nil, settings, sched, nil)
	r.Join(1, "A")

	res, err := r.Start(1)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(35*time.Second), res.EndTime)
	assert.Equal(t, 35*time.Second, sched.delays[1])
}

func TestRoom_ConcurrentStartArmsOnce(t *testing.T) {
	r, sched := newTestRoom(t, 4, nil)
	r.Join(1, "A")

	var wg sync.WaitGroup
	var ok int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Start(1); err == nil {
				atomic.AddInt32(&ok, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok)
	assert.Equal(t, 1, sched.armed())
}

func TestRoom_AuctionScenario(t *testing.T) {
	var events []Finished
	r, sched := newTestRoom(t, 2, func(ev Finished) { events = append(events, ev) })

	_, err := r.Join(1, "A")
	require.NoError(t, err)
	_, err = r.Join(2, "B")
	require.NoError(t, err)

	_, err = r.Start(1)
	require.NoError(t, err)

	res, err := r.Bid(2, 600)
	require.NoError(t, err)
	assert.Equal(t, Bid{Seq: 1, BidderID: 2, BidderName: "B", Amount: 600}, res.Bid)

	_, err = r.Bid(1, 550)
	assert.ErrorIs(t, err, ErrStaleBid)
	assert.Equal(t, uint32(600), r.Ledger().Amount)

	sched.fire(1)

	assert.Equal(t, state.Finished, r.Phase())
	require.Len(t, events, 1)
	assert.Equal(t, uint16(1), events[0].RoomID)
	assert.Equal(t, "Test Room", events[0].Name)
	assert.Equal(t, int64(2), events[0].Winner.BidderID)
	assert.Equal(t, int64(2), r.Snapshot().OwnerID)
}

func TestRoom_BidRejections(t *testing.T) {
	r, _ := newTestRoom(t, 3, nil)
	r.Join(1, "A")
	r.Join(2, "B")

	_, err := r.Bid(2, 900)
	assert.ErrorIs(t, err, ErrNotRunning)

	r.Start(1)

	_, err = r.Bid(42, 900)
	assert.ErrorIs(t, err, ErrNotMember)
	_, err = r.Bid(2, 500)
	assert.ErrorIs(t, err, ErrStaleBid, "equal to the initial amount is not an increase")

	assert.False(t, r.Ledger().HasBidder())
}

func TestRoom_ConcurrentBids(t *testing.T) {
	r, _ := newTestRoom(t, 8, nil)
	for i := int64(1); i <= 8; i++ {
		r.Join(i, "p")
	}
	r.Start(1)

	amounts := rand.New(rand.NewSource(42)).Perm(2000)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []Bid
	)
	for i, a := range amounts {
		wg.Add(1)
		go func(bidder int64, amount uint32) {
			defer wg.Done()
			res, err := r.Bid(bidder, amount)
			if err == nil {
				mu.Lock()
				accepted = append(accepted, res.Bid)
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrStaleBid)
			}
		}(int64(i%8+1), uint32(a+1))
	}
	wg.Wait()

	require.NotEmpty(t, accepted)
	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Seq < accepted[j].Seq })
	for i, b := range accepted {
		assert.Equal(t, uint32(i+1), b.Seq, "sequence numbers must be dense and unique")
		if i > 0 {
			assert.Greater(t, b.Amount, accepted[i-1].Amount)
		}
	}
	assert.Equal(t, uint32(2000), r.Ledger().Amount)
	assert.Equal(t, accepted[len(accepted)-1], r.Ledger())
}

func TestRoom_RacingSameAmountOnlyOneWins(t *testing.T) {
	r, _ := newTestRoom(t, 8, nil)
	for i := int64(1); i <= 8; i++ {
		r.Join(i, "p")
	}
	r.Start(1)

	var wg sync.WaitGroup
	var wins int32
	for i := int64(1); i <= 8; i++ {
		wg.Add(1)
		go func(bidder int64) {
			defer wg.Done()
			if _, err := r.Bid(bidder, 600); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins)
	assert.Equal(t, uint32(1), r.Ledger().Seq)
}

func TestRoom_TimerFiresExactlyOnce(t *testing.T) {
	var count int32
	r, sched := newTestRoom(t, 3, func(Finished) { atomic.AddInt32(&count, 1) })
	r.Join(1, "A")
	r.Join(2, "B")
	r.Start(1)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sched.fire(1)
		}()
		go func(amount uint32) {
			defer wg.Done()
			r.Bid(2, amount)
		}(uint32(600 + i))
	}
	wg.Wait()

	assert.EqualValues(t, 1, count)
	assert.Equal(t, state.Finished, r.Phase())
	assert.True(t, sched.wasRemoved(1))
}

func TestRoom_FinishedIsTerminal(t *testing.T) {
	r, sched := newTestRoom(t, 3, nil)
	r.Join(1, "A")
	r.Join(2, "B")
	r.Start(1)
	sched.fire(1)

	_, err := r.Bid(2, 1000)
	assert.ErrorIs(t, err, ErrNotRunning)
	_, err = r.Start(1)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	_, err = r.Join(3, "C")
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	res, err := r.Leave(1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Host.PlayerID)
	assert.Equal(t, state.Finished, r.Phase())
}

func TestRoom_TimerIgnoredAfterRoomEmptied(t *testing.T) {
	var count int32
	r, sched := newTestRoom(t, 2, func(Finished) { atomic.AddInt32(&count, 1) })
	r.Join(1, "A")
	r.Start(1)

	res, err := r.Leave(1)
	require.NoError(t, err)
	require.True(t, res.Empty)
	assert.True(t, sched.wasRemoved(1))

	sched.fire(1)
	assert.EqualValues(t, 0, count)
	assert.Equal(t, state.Started, r.Phase())
}

func TestDefaultName(t *testing.T) {
	assert.Equal(t, "Alice's Room", DefaultName("Alice", "   "))
	assert.Equal(t, "Alice's Room", DefaultName("Alice", ""))
	assert.Equal(t, "Gold Rush", DefaultName("Alice", "  Gold Rush "))
}
