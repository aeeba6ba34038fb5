package service

import (
	"sort"
	"sync"
)

// MembershipStore holds, per device, the set of geofence ids the device was
// last known to be inside.
type MembershipStore interface {
	// Swap replaces the device's membership with inside and returns the
	// previous membership. The replacement is atomic per device.
	Swap(deviceID string, inside []string) (previous []string)
	Get(deviceID string) []string
	RemoveDevice(deviceID string)
	// RemoveGeofence drops geofenceID from every device without emitting
	// transitions.
	RemoveGeofence(geofenceID string)
	Reset()
}

type InMemoryMembershipStore struct {
	mu      sync.Mutex
	members map[string]map[string]struct{}
}

func NewInMemoryMembershipStore() *InMemoryMembershipStore {
	return &InMemoryMembershipStore{
		members: make(map[string]map[string]struct{}),
	}
}

func (s *InMemoryMembershipStore) Swap(deviceID string, inside []string) []string {
	next := make(map[string]struct{}, len(inside))
	for _, id := range inside {
		next[id] = struct{}{}
	}

	s.mu.Lock()
	previous := s.members[deviceID]
	if len(next) == 0 {
		delete(s.members, deviceID)
	} else {
		s.members[deviceID] = next
	}
	s.mu.Unlock()

	return sortedKeys(previous)
}

func (s *InMemoryMembershipStore) Get(deviceID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.members[deviceID])
}

func (s *InMemoryMembershipStore) RemoveDevice(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, deviceID)
}

func (s *InMemoryMembershipStore) RemoveGeofence(geofenceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for deviceID, set := range s.members {
		delete(set, geofenceID)
		if len(set) == 0 {
			delete(s.members, deviceID)
		}
	}
}

func (s *InMemoryMembershipStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = make(map[string]map[string]struct{})
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
