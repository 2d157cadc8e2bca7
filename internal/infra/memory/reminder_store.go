package memory

import (
	"context"
	"sort"
	"sync"

	"medicine_reminder_bot/internal/domain/reminder"
)

type definitionKey struct {
	id string
	at reminder.TimeOfDay
}

// ReminderStore keeps reminder definitions in process memory.
type ReminderStore struct {
	mu   sync.RWMutex
	defs map[definitionKey]reminder.Definition
}

func NewReminderStore() *ReminderStore {
	return &ReminderStore{defs: make(map[definitionKey]reminder.Definition)}
}

func (s *ReminderStore) SaveDefinition(_ context.Context, def *reminder.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[definitionKey{def.ID, def.Time}] = *def
	return nil
}

func (s *ReminderStore) GetDefinition(_ context.Context, id string, at reminder.TimeOfDay) (*reminder.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[definitionKey{id, at}]
	if !ok {
		return nil, reminder.ErrDefinitionNotFound
	}
	return &def, nil
}

func (s *ReminderStore) DeleteDefinition(_ context.Context, id string, at reminder.TimeOfDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.defs, definitionKey{id, at})
	return nil
}

func (s *ReminderStore) ListDefinitions(_ context.Context) ([]*reminder.Definition, error) {
	return s.list(func(reminder.Definition) bool { return true }), nil
}

func (s *ReminderStore) ListDefinitionsByReminder(_ context.Context, id string) ([]*reminder.Definition, error) {
	return s.list(func(d reminder.Definition) bool { return d.ID == id }), nil
}

func (s *ReminderStore) list(keep func(reminder.Definition) bool) []*reminder.Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*reminder.Definition, 0, len(s.defs))
	for _, def := range s.defs {
		if keep(def) {
			d := def
			out = append(out, &d)
		}
	}
	// Same order as the Postgres repository.
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Time.String() < out[j].Time.String()
	})
	return out
}
