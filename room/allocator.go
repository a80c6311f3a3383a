package room

import "sync"

// Allocator hands out the lowest room id not present in the room table.
// Ids are reclaimed as soon as the room is deleted from the table. The scan
// is bounded by the id space and fails with ErrNoRoomID once it is exhausted.
type Allocator struct {
	rooms *sync.Map // uint16 -> *Room
	maxID uint16
}

func NewAllocator(rooms *sync.Map, maxID uint16) *Allocator {
	return &Allocator{rooms: rooms, maxID: maxID}
}

// Allocate builds a room for the first free id and publishes it. build may be
// called more than once when a concurrent allocation claims the same id.
func (a *Allocator) Allocate(build func(id uint16) *Room) (*Room, error) {
	for id := 0; id <= int(a.maxID); id++ {
		key := uint16(id)
		if _, taken := a.rooms.Load(key); taken {
			continue
		}
		r := build(key)
		if _, loaded := a.rooms.LoadOrStore(key, r); !loaded {
			return r, nil
		}
	}
	return nil, ErrNoRoomID
}
