package realtime

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Room name conventions.
const (
	EventRoomPrefix = "event-"
	AdminRoom       = "admin"
)

// EventRoom returns the room name for an event id.
func EventRoom(eventID string) string {
	return EventRoomPrefix + eventID
}

// IsEventRoom reports whether name is a per-event room with a non-empty id.
func IsEventRoom(name string) bool {
	return strings.HasPrefix(name, EventRoomPrefix) && len(name) > len(EventRoomPrefix)
}

type room struct {
	mu      sync.Mutex
	members map[string]struct{}
	created time.Time
	pruned  bool // set once removed from the registry; a pruned room never accepts members again
}

// RoomRegistry maps room name -> set of channel ids.
// Each room has its own lock; the registry lock only guards lookup, creation and pruning.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[string]*room)}
}

func (r *RoomRegistry) getOrCreate(name string) *room {
	r.mu.RLock()
	rm := r.rooms[name]
	r.mu.RUnlock()
	if rm != nil {
		return rm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm = r.rooms[name]; rm == nil {
		rm = &room{members: make(map[string]struct{}), created: time.Now()}
		r.rooms[name] = rm
	}
	return rm
}

// Add puts channelID into the room, creating the room lazily. Returns false if already a member.
func (r *RoomRegistry) Add(name, channelID string) bool {
	for {
		rm := r.getOrCreate(name)
		rm.mu.Lock()
		if rm.pruned {
			// lost a race with the last member leaving; retry against a fresh room
			rm.mu.Unlock()
			continue
		}
		_, exists := rm.members[channelID]
		rm.members[channelID] = struct{}{}
		rm.mu.Unlock()
		return !exists
	}
}

// Remove takes channelID out of the room and prunes the room when it becomes empty.
// Removing a non-member is a no-op.
func (r *RoomRegistry) Remove(name, channelID string) bool {
	r.mu.RLock()
	rm := r.rooms[name]
	r.mu.RUnlock()
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, ok := rm.members[channelID]; !ok {
		return false
	}
	delete(rm.members, channelID)
	if len(rm.members) == 0 {
		rm.pruned = true
		r.mu.Lock()
		if r.rooms[name] == rm {
			delete(r.rooms, name)
		}
		r.mu.Unlock()
	}
	return true
}

// Members returns a snapshot of the room's channel ids, sorted.
func (r *RoomRegistry) Members(name string) []string {
	r.mu.RLock()
	rm := r.rooms[name]
	r.mu.RUnlock()
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	out := make([]string, 0, len(rm.members))
	for id := range rm.members {
		out = append(out, id)
	}
	rm.mu.Unlock()
	sort.Strings(out)
	return out
}

// Has reports whether channelID is currently in the room.
func (r *RoomRegistry) Has(name, channelID string) bool {
	r.mu.RLock()
	rm := r.rooms[name]
	r.mu.RUnlock()
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, ok := rm.members[channelID]
	return ok
}

// Count returns the number of non-empty rooms.
func (r *RoomRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// RoomStat is a per-room member count.
type RoomStat struct {
	Name      string    `json:"name"`
	Members   int       `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats returns member counts for every room, sorted by name.
func (r *RoomRegistry) Stats() []RoomStat {
	r.mu.RLock()
	rooms := make(map[string]*room, len(r.rooms))
	for name, rm := range r.rooms {
		rooms[name] = rm
	}
	r.mu.RUnlock()

	out := make([]RoomStat, 0, len(rooms))
	for name, rm := range rooms {
		rm.mu.Lock()
		n := len(rm.members)
		rm.mu.Unlock()
		if n == 0 {
			continue
		}
		out = append(out, RoomStat{Name: name, Members: n, CreatedAt: rm.created})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
