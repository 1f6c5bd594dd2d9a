package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"github.com/kursadbilgin/comms-gateway/internal/provider"
	"github.com/kursadbilgin/comms-gateway/internal/queue"
	"github.com/kursadbilgin/comms-gateway/internal/repository"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// memLogStore is an in-memory DeliveryLogRepository with the same transition
// guards as the SQL implementation.
type memLogStore struct {
	mu   sync.Mutex
	logs map[string]*domain.DeliveryLog

	createErr          error
	updateErr          error
	listFailedFn       func(ctx context.Context, q repository.RetryQuery) ([]domain.DeliveryLog, error)
	lastRetryQuery     repository.RetryQuery
	lastDeleteStatuses []domain.DeliveryStatus
}

func newMemLogStore() *memLogStore {
	return &memLogStore{logs: make(map[string]*domain.DeliveryLog)}
}

func (m *memLogStore) seed(logs ...domain.DeliveryLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range logs {
		l := logs[i]
		m.logs[l.ID] = &l
	}
}

func (m *memLogStore) get(id string) (domain.DeliveryLog, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return domain.DeliveryLog{}, false
	}
	return *l, true
}

func (m *memLogStore) all() []domain.DeliveryLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DeliveryLog, 0, len(m.logs))
	for _, l := range m.logs {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memLogStore) countStatus(status domain.DeliveryStatus) int {
	n := 0
	for _, l := range m.all() {
		if l.Status == status {
			n++
		}
	}
	return n
}

func (m *memLogStore) Create(_ context.Context, l *domain.DeliveryLog) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *l
	m.logs[l.ID] = &stored
	return nil
}

func (m *memLogStore) GetByID(_ context.Context, id string) (*domain.DeliveryLog, error) {
	l, ok := m.get(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &l, nil
}

func (m *memLogStore) UpdateStatus(_ context.Context, id string, update repository.StatusUpdate) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.logs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !l.Status.CanTransitionTo(update.Status) {
		return domain.ErrInvalidTransition
	}
	applyUpdate(l, update)
	return nil
}

func (m *memLogStore) BulkUpdateStatus(_ context.Context, ids []string, update repository.StatusUpdate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, id := range ids {
		if l, ok := m.logs[id]; ok && l.Status.CanTransitionTo(update.Status) {
			applyUpdate(l, update)
			n++
		}
	}
	return n, nil
}

func applyUpdate(l *domain.DeliveryLog, update repository.StatusUpdate) {
	l.Status = update.Status
	l.NextRetryAt = nil
	switch update.Status {
	case domain.DeliverySent:
		l.ProviderMessageID = update.ProviderMessageID
		l.ErrorDetail = nil
	case domain.DeliveryFailed:
		l.ErrorDetail = update.ErrorDetail
		l.NextRetryAt = update.NextRetryAt
	case domain.DeliveryPending:
		l.AttemptCount++
		l.ErrorDetail = nil
	}
}

func (m *memLogStore) List(_ context.Context, filter repository.DeliveryLogFilter) ([]domain.DeliveryLog, int64, error) {
	out := make([]domain.DeliveryLog, 0)
	for _, l := range m.all() {
		if l.TenantID != filter.TenantID {
			continue
		}
		if filter.Channel != nil && l.Channel != *filter.Channel {
			continue
		}
		if filter.Status != nil && l.Status != *filter.Status {
			continue
		}
		if filter.Destination != "" && !strings.Contains(l.Destination, filter.Destination) {
			continue
		}
		out = append(out, l)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, int64(len(out)), nil
}

func (m *memLogStore) ListFailedForRetry(ctx context.Context, q repository.RetryQuery) ([]domain.DeliveryLog, error) {
	m.mu.Lock()
	m.lastRetryQuery = q
	m.mu.Unlock()
	if m.listFailedFn != nil {
		return m.listFailedFn(ctx, q)
	}

	out := make([]domain.DeliveryLog, 0)
	for _, l := range m.all() {
		if q.TenantID != "" && l.TenantID != q.TenantID {
			continue
		}
		if l.Channel != q.Channel || l.Status != domain.DeliveryFailed || l.CreatedAt.Before(q.Since) {
			continue
		}
		if q.MaxAttempts > 0 && l.AttemptCount >= q.MaxAttempts {
			continue
		}
		if q.DueBy != nil && (l.NextRetryAt == nil || l.NextRetryAt.After(*q.DueBy)) {
			continue
		}
		out = append(out, l)
	}
	if q.DueBy != nil {
		sort.SliceStable(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	}
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memLogStore) ListStalePending(_ context.Context, channel domain.Channel, olderThan time.Time, limit int) ([]domain.DeliveryLog, error) {
	out := make([]domain.DeliveryLog, 0)
	for _, l := range m.all() {
		if l.Channel == channel && l.Status == domain.DeliveryPending && l.CreatedAt.Before(olderThan) {
			out = append(out, l)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memLogStore) DeleteOlderThan(_ context.Context, tenantID string, channel domain.Channel, cutoff time.Time, statuses []domain.DeliveryStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastDeleteStatuses = statuses

	var n int64
	for id, l := range m.logs {
		if tenantID != "" && l.TenantID != tenantID {
			continue
		}
		if l.Channel != channel || !l.CreatedAt.Before(cutoff) || !l.Status.IsRetentionEligible() {
			continue
		}
		for _, s := range statuses {
			if s == l.Status {
				delete(m.logs, id)
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *memLogStore) CountByStatus(_ context.Context, tenantID string, channel domain.Channel) (map[domain.DeliveryStatus]int64, error) {
	counts := make(map[domain.DeliveryStatus]int64)
	for _, l := range m.all() {
		if l.TenantID == tenantID && l.Channel == channel {
			counts[l.Status]++
		}
	}
	return counts, nil
}

func (m *memLogStore) Delete(_ context.Context, tenantID string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok || l.TenantID != tenantID {
		return domain.ErrNotFound
	}
	delete(m.logs, id)
	return nil
}

func (m *memLogStore) DeleteByIDs(_ context.Context, tenantID string, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if l, ok := m.logs[id]; ok && l.TenantID == tenantID {
			delete(m.logs, id)
			n++
		}
	}
	return n, nil
}

type fakeAdapter struct {
	name          string
	channel       domain.Channel
	sendFn        func(ctx context.Context, destination string, content provider.Content) (*provider.ProviderResponse, error)
	multicastFn   func(ctx context.Context, tokens []string, content provider.Content) (*provider.MulticastResult, error)
	subscribeFn   func(ctx context.Context, tokens []string, topic string) (*provider.TopicResult, error)
	unsubscribeFn func(ctx context.Context, tokens []string, topic string) (*provider.TopicResult, error)
}

func (f *fakeAdapter) Name() string            { return f.name }
func (f *fakeAdapter) Channel() domain.Channel { return f.channel }

func (f *fakeAdapter) Send(ctx context.Context, destination string, content provider.Content) (*provider.ProviderResponse, error) {
	if f.sendFn == nil {
		return &provider.ProviderResponse{MessageID: "msg-" + destination}, nil
	}
	return f.sendFn(ctx, destination, content)
}

func (f *fakeAdapter) SendMulticast(ctx context.Context, tokens []string, content provider.Content) (*provider.MulticastResult, error) {
	if f.multicastFn == nil {
		result := &provider.MulticastResult{}
		for _, token := range tokens {
			result.SuccessCount++
			result.Results = append(result.Results, provider.TargetResult{Token: token, Success: true, MessageID: "msg-" + token})
		}
		return result, nil
	}
	return f.multicastFn(ctx, tokens, content)
}

func (f *fakeAdapter) SubscribeTopic(ctx context.Context, tokens []string, topic string) (*provider.TopicResult, error) {
	if f.subscribeFn == nil {
		return &provider.TopicResult{SuccessCount: len(tokens)}, nil
	}
	return f.subscribeFn(ctx, tokens, topic)
}

func (f *fakeAdapter) UnsubscribeTopic(ctx context.Context, tokens []string, topic string) (*provider.TopicResult, error) {
	if f.unsubscribeFn == nil {
		return &provider.TopicResult{SuccessCount: len(tokens)}, nil
	}
	return f.unsubscribeFn(ctx, tokens, topic)
}

// newTestRegistry registers adapters; the first one becomes the default of
// its channel.
func newTestRegistry(adapters ...*fakeAdapter) *provider.Registry {
	registry := provider.NewRegistry()
	for _, a := range adapters {
		adapter := a
		registry.Register(adapter.channel, adapter.name, func() (provider.Adapter, error) { return adapter, nil })
		if registry.DefaultProvider(adapter.channel) == "" {
			registry.SetDefault(adapter.channel, adapter.name)
		}
	}
	return registry
}

type fakeEventPublisher struct {
	mu        sync.Mutex
	events    []queue.DeliveryEvent
	publishFn func(ctx context.Context, event queue.DeliveryEvent) error
}

func (f *fakeEventPublisher) PublishDeliveryEvent(ctx context.Context, event queue.DeliveryEvent) error {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	if f.publishFn != nil {
		return f.publishFn(ctx, event)
	}
	return nil
}

func (f *fakeEventPublisher) Close() error { return nil }

type fakeLimiter struct {
	mu     sync.Mutex
	scopes []string
	waitFn func(ctx context.Context, scope string) error
}

func (f *fakeLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (f *fakeLimiter) Wait(ctx context.Context, scope string) error {
	f.mu.Lock()
	f.scopes = append(f.scopes, scope)
	f.mu.Unlock()
	if f.waitFn != nil {
		return f.waitFn(ctx, scope)
	}
	return nil
}

func newTestDispatcher(t *testing.T, channel domain.Channel, store repository.DeliveryLogRepository, resolver AdapterResolver) *Dispatcher {
	t.Helper()

	d, err := NewDispatcher(channel, store, resolver, DispatchSettings{BatchSize: 10}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	d.now = func() time.Time { return fixedNow }
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return d
}

type memInbox struct {
	mu    sync.Mutex
	items []domain.PushNotification
}

func (m *memInbox) Create(_ context.Context, n *domain.PushNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, *n)
	return nil
}

func (m *memInbox) ListByUser(_ context.Context, q repository.InboxQuery) ([]domain.PushNotification, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PushNotification, 0)
	for _, n := range m.items {
		if n.TenantID == q.TenantID && n.UserID == q.UserID && (!q.UnreadOnly || !n.IsRead) {
			out = append(out, n)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memInbox) MarkRead(_ context.Context, tenantID string, userID string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		n := &m.items[i]
		if n.ID == id && n.TenantID == tenantID && n.UserID == userID {
			n.IsRead = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memInbox) CountUnread(_ context.Context, tenantID string, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, item := range m.items {
		if item.TenantID == tenantID && item.UserID == userID && !item.IsRead {
			n++
		}
	}
	return n, nil
}

type memDirectory struct {
	mu      sync.Mutex
	users   map[string]domain.User
	devices map[string]domain.DeviceToken
}

func newMemDirectory(users ...domain.User) *memDirectory {
	d := &memDirectory{users: make(map[string]domain.User), devices: make(map[string]domain.DeviceToken)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *memDirectory) addDevice(tenantID string, userID string, tokens ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, token := range tokens {
		d.devices[token] = domain.DeviceToken{TenantID: tenantID, UserID: userID, Token: token, Platform: "android"}
	}
}

func (d *memDirectory) Create(_ context.Context, u *domain.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.users {
		if existing.TenantID == u.TenantID && existing.Username == u.Username {
			return domain.ErrConflict
		}
	}
	d.users[u.ID] = *u
	return nil
}

func (d *memDirectory) GetByID(_ context.Context, tenantID string, id string) (*domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok || u.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (d *memDirectory) FindByUsernames(_ context.Context, tenantID string, usernames []string) ([]domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.User, 0)
	for _, name := range usernames {
		for _, u := range d.users {
			if u.TenantID == tenantID && u.Username == name {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (d *memDirectory) Upsert(_ context.Context, device *domain.DeviceToken) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[device.Token] = *device
	return nil
}

func (d *memDirectory) ListTokens(_ context.Context, tenantID string, userID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tokens := make([]string, 0)
	for token, device := range d.devices {
		if device.TenantID == tenantID && device.UserID == userID {
			tokens = append(tokens, token)
		}
	}
	sort.Strings(tokens)
	return tokens, nil
}

func (d *memDirectory) Delete(_ context.Context, tenantID string, token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	device, ok := d.devices[token]
	if !ok || device.TenantID != tenantID {
		return domain.ErrNotFound
	}
	delete(d.devices, token)
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	events   []Event
	channels [][]domain.Channel
	notifyFn func(ctx context.Context, event Event, channels []domain.Channel) (*NotifyResult, error)
}

func (f *fakeNotifier) Notify(ctx context.Context, event Event, channels []domain.Channel) (*NotifyResult, error) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.channels = append(f.channels, channels)
	f.mu.Unlock()
	if f.notifyFn != nil {
		return f.notifyFn(ctx, event, channels)
	}
	return &NotifyResult{Summary: Summary{Total: len(event.RecipientIDs), Successful: len(event.RecipientIDs)}}, nil
}

func newTestPushService(t *testing.T, store *memLogStore, registry *provider.Registry, inbox *memInbox, directory *memDirectory) *PushService {
	t.Helper()

	svc, err := NewPushService(newTestDispatcher(t, domain.ChannelPush, store, registry), registry, inbox, directory, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPushService() error = %v", err)
	}
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func ptrTime(t time.Time) *time.Time { return &t }
