package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"paygate/internal/models"
)

// MemoryStore keeps intents, webhook events and gateway configs in process.
// It honours the same contract as the gorm repositories and hands out copies.
type MemoryStore struct {
	mu       sync.RWMutex
	intents  map[string]*models.PaymentIntent
	byKey    map[string]string
	events   []models.WebhookEvent
	configs  map[string]map[models.GatewayType]models.TenantGatewayConfig
	nextID   uint
	intentsV *MemoryIntents
	eventsV  *MemoryEvents
	configsV *MemoryConfigs
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		intents: make(map[string]*models.PaymentIntent),
		byKey:   make(map[string]string),
		configs: make(map[string]map[models.GatewayType]models.TenantGatewayConfig),
	}
	s.intentsV = &MemoryIntents{s}
	s.eventsV = &MemoryEvents{s}
	s.configsV = &MemoryConfigs{s}
	return s
}

func (s *MemoryStore) Intents() *MemoryIntents { return s.intentsV }
func (s *MemoryStore) Events() *MemoryEvents { return s.eventsV }
func (s *MemoryStore) Configs() *MemoryConfigs { return s.configsV }

func (s *MemoryStore) id() uint {
	s.nextID++
	return s.nextID
}

type MemoryIntents struct{ s *MemoryStore }

func (m *MemoryIntents) Create(ctx context.Context, intent *models.PaymentIntent) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKey[intent.IdempotencyKey]; ok {
		return ErrDuplicateKey
	}
	if _, ok := s.intents[intent.ID]; ok {
		return ErrDuplicateKey
	}
	now := time.Now()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	if intent.UpdatedAt.IsZero() {
		intent.UpdatedAt = now
	}
	stored := intent.Clone()
	stored.Attempts = nil
	s.intents[intent.ID] = stored
	s.byKey[intent.IdempotencyKey] = intent.ID
	return nil
}

func (m *MemoryIntents) Save(ctx context.Context, intent *models.PaymentIntent, newAttempts ...models.PaymentAttempt) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(intent, newAttempts)
}

func (m *MemoryIntents) SaveWithEvent(ctx context.Context, intent *models.PaymentIntent, event *models.WebhookEvent) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveLocked(intent, nil); err != nil {
		return err
	}
	event.ID = s.id()
	s.events = append(s.events, *event)
	return nil
}

func (s *MemoryStore) saveLocked(intent *models.PaymentIntent, newAttempts []models.PaymentAttempt) error {
	stored, ok := s.intents[intent.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != intent.Version {
		return ErrVersionConflict
	}

	attempts := stored.Attempts
	for _, a := range newAttempts {
		a.ID = s.id()
		a.IntentID = intent.ID
		a.RawNormalizedResponse = append([]byte(nil), a.RawNormalizedResponse...)
		attempts = append(attempts, a)
	}

	next := intent.Clone()
	next.Attempts = attempts
	next.Version = intent.Version + 1
	next.CreatedAt = stored.CreatedAt
	next.IdempotencyKey = stored.IdempotencyKey
	s.intents[intent.ID] = next

	intent.Version++
	return nil
}

func (m *MemoryIntents) FindByID(ctx context.Context, id string) (*models.PaymentIntent, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	intent, ok := s.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return intent.Clone(), nil
}

func (m *MemoryIntents) FindByIdempotencyKey(ctx context.Context, key string) (*models.PaymentIntent, error) {
	s := m.s
	s.mu.RLock()
	id, ok := s.byKey[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.FindByID(ctx, id)
}

func (m *MemoryIntents) FindByProviderReference(ctx context.Context, gateway models.GatewayType, reference string) (*models.PaymentIntent, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.PaymentIntent
	var foundID uint
	for _, intent := range s.intents {
		for _, a := range intent.Attempts {
			if a.GatewayType == gateway && a.ProviderReference == reference && a.ID > foundID {
				found, foundID = intent, a.ID
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found.Clone(), nil
}

func (m *MemoryIntents) ListExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return m.list(limit, func(p *models.PaymentIntent) (bool, time.Time) {
		if !p.Status.IsOpen() || p.ExpiresAt == nil || p.ExpiresAt.After(now) {
			return false, time.Time{}
		}
		return true, *p.ExpiresAt
	})
}

func (m *MemoryIntents) ListStaleIDs(ctx context.Context, before time.Time, limit int) ([]string, error) {
	return m.list(limit, func(p *models.PaymentIntent) (bool, time.Time) {
		return p.Status.IsOpen() && p.UpdatedAt.Before(before), p.UpdatedAt
	})
}

func (m *MemoryIntents) list(limit int, match func(*models.PaymentIntent) (bool, time.Time)) ([]string, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		id string
		at time.Time
	}
	var entries []entry
	for id, p := range s.intents {
		if ok, at := match(p); ok {
			entries = append(entries, entry{id, at})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].at.Equal(entries[j].at) {
			return entries[i].id < entries[j].id
		}
		return entries[i].at.Before(entries[j].at)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids, nil
}

type MemoryEvents struct{ s *MemoryStore }

func (m *MemoryEvents) Create(ctx context.Context, event *models.WebhookEvent) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	event.ID = s.id()
	s.events = append(s.events, *event)
	return nil
}

func (m *MemoryEvents) HasProcessed(ctx context.Context, gateway models.GatewayType, reference, payloadHash string) (bool, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events {
		if e.GatewayType == gateway && e.ProviderReference == reference && e.PayloadHash == payloadHash && e.Outcome.Counts() {
			return true, nil
		}
	}
	return false, nil
}

// List returns a copy of every stored event in arrival order.
func (m *MemoryEvents) List() []models.WebhookEvent {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.WebhookEvent(nil), s.events...)
}

type MemoryConfigs struct{ s *MemoryStore }

func (m *MemoryConfigs) ListByTenant(ctx context.Context, tenantID string) ([]models.TenantGatewayConfig, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.TenantGatewayConfig, 0, len(s.configs[tenantID]))
	for _, cfg := range s.configs[tenantID] {
		out = append(out, cfg.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority == out[j].Priority {
			return out[i].GatewayType < out[j].GatewayType
		}
		return out[i].Priority < out[j].Priority
	})
	return out, nil
}

func (m *MemoryConfigs) Upsert(ctx context.Context, cfg *models.TenantGatewayConfig) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant := s.configs[cfg.TenantID]
	if tenant == nil {
		tenant = make(map[models.GatewayType]models.TenantGatewayConfig)
		s.configs[cfg.TenantID] = tenant
	}
	now := time.Now()
	if existing, ok := tenant[cfg.GatewayType]; ok {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
	} else {
		cfg.ID = s.id()
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	tenant[cfg.GatewayType] = cfg.Clone()
	return nil
}
