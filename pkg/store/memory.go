// Copyright 2024-2026 Aiku AI

package store

import "sync"

// MemoryMappings is an in-memory Mappings implementation used in tests
// and for running the bridge without persistence.
type MemoryMappings struct {
	mu     sync.RWMutex
	byRoom map[string]*RoomMapping
}

var _ Mappings = (*MemoryMappings)(nil)

// NewMemoryMappings creates an empty in-memory mapping store.
func NewMemoryMappings() *MemoryMappings {
	return &MemoryMappings{byRoom: make(map[string]*RoomMapping)}
}

func (m *MemoryMappings) ByRemote(guildID, channelID string) ([]*RoomMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var mappings []*RoomMapping
	for _, mapping := range m.byRoom {
		if mapping.GuildID == guildID && mapping.ChannelID == channelID {
			copied := *mapping
			mappings = append(mappings, &copied)
		}
	}
	if len(mappings) == 0 {
		return nil, ErrNotFound
	}
	return mappings, nil
}

func (m *MemoryMappings) ByRoom(roomID string) (*RoomMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mapping, ok := m.byRoom[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *mapping
	return &copied, nil
}

func (m *MemoryMappings) Upsert(mapping *RoomMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *mapping
	m.byRoom[mapping.RoomID] = &copied
	return nil
}

func (m *MemoryMappings) RemoveByRoom(roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byRoom, roomID)
	return nil
}
