package memory

import (
	"context"
	"sync"

	"medicine_reminder_bot/internal/domain/dose"
)

// DoseStore is a dose.Repository held in process memory. A single mutex
// serializes every read-modify-write, which is enough for one process.
type DoseStore struct {
	mu        sync.Mutex
	instances map[dose.Key]*dose.Instance
	actions   []*dose.SyncAction
	alerts    []*dose.CaregiverAlert
}

func NewDoseStore() *DoseStore {
	return &DoseStore{instances: make(map[dose.Key]*dose.Instance)}
}

func (s *DoseStore) Mutate(_ context.Context, key dose.Key, fn dose.MutateFunc) (*dose.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.instances[key]
	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current.Clone(), nil
	}
	next.Key = key
	s.instances[key] = next.Clone()
	return next, nil
}

func (s *DoseStore) GetInstance(_ context.Context, key dose.Key) (*dose.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[key]
	if !ok {
		return nil, dose.ErrInstanceNotFound
	}
	return inst.Clone(), nil
}

func (s *DoseStore) AppendSyncAction(_ context.Context, action *dose.SyncAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := *action
	s.actions = append(s.actions, &a)
	return nil
}

func (s *DoseStore) ListSyncActions(_ context.Context) ([]*dose.SyncAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*dose.SyncAction, 0, len(s.actions))
	for _, a := range s.actions {
		c := *a
		out = append(out, &c)
	}
	return out, nil
}

func (s *DoseStore) ClearSyncActions(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = nil
	return nil
}

func (s *DoseStore) AppendCaregiverAlert(_ context.Context, alert *dose.CaregiverAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := *alert
	s.alerts = append(s.alerts, &a)
	return nil
}

func (s *DoseStore) ListCaregiverAlerts(_ context.Context) ([]*dose.CaregiverAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*dose.CaregiverAlert, 0, len(s.alerts))
	for _, a := range s.alerts {
		c := *a
		out = append(out, &c)
	}
	return out, nil
}

func (s *DoseStore) ClearCaregiverAlerts(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = nil
	return nil
}
