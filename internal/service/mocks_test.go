package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"findsafe-server/internal/domain"
	"findsafe-server/internal/repository"
	"findsafe-server/internal/websocket"

	"github.com/rs/zerolog"
)

var testLogger = zerolog.New(io.Discard)

// mockDeviceRepo keeps an integer revision per device and rejects updates
// made from a stale read, like CouchDB does.
type mockDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*domain.Device
	revs    map[string]int
}

func newMockDeviceRepo() *mockDeviceRepo {
	return &mockDeviceRepo{devices: make(map[string]*domain.Device), revs: make(map[string]int)}
}

func (m *mockDeviceRepo) Create(ctx context.Context, device *domain.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.devices[device.ID]; exists {
		return errors.New("device already exists")
	}
	m.revs[device.ID] = 1
	device.Rev = strconv.Itoa(1)
	cp := *device
	m.devices[device.ID] = &cp
	return nil
}

func (m *mockDeviceRepo) FindByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	cp.LocationHistory = append([]string(nil), d.LocationHistory...)
	return &cp, nil
}

func (m *mockDeviceRepo) ListByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var devices []*domain.Device
	for _, d := range m.devices {
		if d.UserID == userID {
			cp := *d
			devices = append(devices, &cp)
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

func (m *mockDeviceRepo) Update(ctx context.Context, device *domain.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[device.ID]; !ok {
		return repository.ErrNotFound
	}
	if device.Rev != strconv.Itoa(m.revs[device.ID]) {
		return fmt.Errorf("failed to update device: %w", repository.ErrConflict)
	}
	m.revs[device.ID]++
	device.Rev = strconv.Itoa(m.revs[device.ID])
	cp := *device
	cp.LocationHistory = append([]string(nil), device.LocationHistory...)
	m.devices[device.ID] = &cp
	return nil
}

func (m *mockDeviceRepo) Delete(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[deviceID]; !ok {
		return repository.ErrNotFound
	}
	delete(m.devices, deviceID)
	return nil
}

// racingDeviceRepo runs race once, right after the first read, to stand in
// for a write that lands between a service's read and its update.
type racingDeviceRepo struct {
	*mockDeviceRepo
	once sync.Once
	race func()
}

func (r *racingDeviceRepo) FindByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	d, err := r.mockDeviceRepo.FindByID(ctx, deviceID)
	r.once.Do(r.race)
	return d, err
}

func (m *mockDeviceRepo) get(id string) *domain.Device {
	d, _ := m.FindByID(context.Background(), id)
	return d
}

type mockLocationRepo struct {
	mu        sync.Mutex
	locations map[string]*domain.Location
	deleted   []string
}

func newMockLocationRepo() *mockLocationRepo {
	return &mockLocationRepo{locations: make(map[string]*domain.Location)}
}

func (m *mockLocationRepo) Create(ctx context.Context, location *domain.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[location.ID] = location
	return nil
}

func (m *mockLocationRepo) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*domain.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Location
	for _, l := range m.locations {
		if l.DeviceID == deviceID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockLocationRepo) DeleteMany(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.locations, id)
		m.deleted = append(m.deleted, id)
	}
	return nil
}

func (m *mockLocationRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locations)
}

type mockGeofenceRepo struct {
	mu        sync.Mutex
	geofences map[string]*domain.Geofence
	listErr   error
}

func newMockGeofenceRepo(geofences ...*domain.Geofence) *mockGeofenceRepo {
	m := &mockGeofenceRepo{geofences: make(map[string]*domain.Geofence)}
	for _, g := range geofences {
		m.geofences[g.ID] = g
	}
	return m
}

func (m *mockGeofenceRepo) Create(ctx context.Context, g *domain.Geofence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.geofences[g.ID] = &cp
	return nil
}

func (m *mockGeofenceRepo) FindByID(ctx context.Context, id string) (*domain.Geofence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.geofences[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *mockGeofenceRepo) ListByUser(ctx context.Context, userID string) ([]*domain.Geofence, error) {
	return m.filter(func(g *domain.Geofence) bool { return g.UserID == userID }), nil
}

func (m *mockGeofenceRepo) ListByDevice(ctx context.Context, deviceID string, activeOnly bool) ([]*domain.Geofence, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.filter(func(g *domain.Geofence) bool {
		return g.DeviceID == deviceID && (!activeOnly || g.IsActive)
	}), nil
}

func (m *mockGeofenceRepo) filter(keep func(*domain.Geofence) bool) []*domain.Geofence {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Geofence
	for _, g := range m.geofences {
		if keep(g) {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *mockGeofenceRepo) Update(ctx context.Context, g *domain.Geofence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.geofences[g.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *g
	m.geofences[g.ID] = &cp
	return nil
}

func (m *mockGeofenceRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.geofences[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.geofences, id)
	return nil
}

type mockHistoryRepo struct {
	mu        sync.Mutex
	entries   []*domain.GeofenceHistoryEntry
	createErr map[string]error // by geofence id
}

func newMockHistoryRepo() *mockHistoryRepo {
	return &mockHistoryRepo{createErr: make(map[string]error)}
}

func (m *mockHistoryRepo) Create(ctx context.Context, e *domain.GeofenceHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.createErr[e.GeofenceID]; err != nil {
		return err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockHistoryRepo) FindLatest(ctx context.Context, userID, deviceID, geofenceID string, eventType domain.GeofenceEventType) (*domain.GeofenceHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.GeofenceHistoryEntry
	for _, e := range m.entries {
		if e.UserID == userID && e.DeviceID == deviceID && e.GeofenceID == geofenceID && e.EventType == eventType {
			if latest == nil || e.Timestamp.After(latest.Timestamp) {
				latest = e
			}
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (m *mockHistoryRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.GeofenceHistoryEntry, error) {
	return m.list(func(e *domain.GeofenceHistoryEntry) bool { return e.UserID == userID }, limit), nil
}

func (m *mockHistoryRepo) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*domain.GeofenceHistoryEntry, error) {
	return m.list(func(e *domain.GeofenceHistoryEntry) bool { return e.DeviceID == deviceID }, limit), nil
}

func (m *mockHistoryRepo) list(keep func(*domain.GeofenceHistoryEntry) bool, limit int) []*domain.GeofenceHistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.GeofenceHistoryEntry
	for _, e := range m.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *mockHistoryRepo) byType(eventType domain.GeofenceEventType) []*domain.GeofenceHistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.GeofenceHistoryEntry
	for _, e := range m.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type mockPendingRepo struct {
	mu          sync.Mutex
	commands    []*domain.PendingCommand
	deleteErr   error
	createDelay time.Duration
}

func newMockPendingRepo() *mockPendingRepo {
	return &mockPendingRepo{}
}

func (m *mockPendingRepo) Create(ctx context.Context, cmd *domain.PendingCommand) error {
	if m.createDelay > 0 {
		select {
		case <-time.After(m.createDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, cmd)
	return nil
}

func (m *mockPendingRepo) ListByDevice(ctx context.Context, deviceID string) ([]*domain.PendingCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PendingCommand
	for _, c := range m.commands {
		if c.DeviceID == deviceID && !c.IsExecuted {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockPendingRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	for i, c := range m.commands {
		if c.ID == id {
			m.commands = append(m.commands[:i], m.commands[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *mockPendingRepo) forDevice(deviceID string) []*domain.PendingCommand {
	out, _ := m.ListByDevice(context.Background(), deviceID)
	return out
}

type mockSettingsRepo struct {
	mu       sync.Mutex
	settings map[string]*domain.NotificationSettings
	saves    int
}

func newMockSettingsRepo() *mockSettingsRepo {
	return &mockSettingsRepo{settings: make(map[string]*domain.NotificationSettings)}
}

func (m *mockSettingsRepo) Get(ctx context.Context, userID string) (*domain.NotificationSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	cp.DeviceTokens = append([]domain.PushToken(nil), s.DeviceTokens...)
	return &cp, nil
}

func (m *mockSettingsRepo) Save(ctx context.Context, s *domain.NotificationSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.DeviceTokens = append([]domain.PushToken(nil), s.DeviceTokens...)
	m.settings[s.UserID] = &cp
	m.saves++
	return nil
}

// fakeSender stands in for the connection registry.
type fakeSender struct {
	mu        sync.Mutex
	online    map[string]bool
	broken    map[string]bool
	failAfter map[string]int
	sent      map[string][]*websocket.Message
}

func newFakeSender(online ...string) *fakeSender {
	f := &fakeSender{
		online:    make(map[string]bool),
		broken:    make(map[string]bool),
		failAfter: make(map[string]int),
		sent:      make(map[string][]*websocket.Message),
	}
	for _, id := range online {
		f.online[id] = true
	}
	return f
}

func (f *fakeSender) Send(deviceID string, msg *websocket.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online[deviceID] {
		return websocket.ErrNotConnected
	}
	if n, ok := f.failAfter[deviceID]; ok && len(f.sent[deviceID]) >= n {
		f.online[deviceID] = false
		return websocket.ErrNotConnected
	}
	if f.broken[deviceID] {
		f.online[deviceID] = false
		return websocket.ErrNotConnected
	}
	f.sent[deviceID] = append(f.sent[deviceID], msg)
	return nil
}

func (f *fakeSender) setOnline(deviceID string, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[deviceID] = online
}

func (f *fakeSender) messages(deviceID string) []*websocket.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*websocket.Message(nil), f.sent[deviceID]...)
}

func (f *fakeSender) commands(deviceID string) []string {
	var out []string
	for _, m := range f.messages(deviceID) {
		out = append(out, m.Command)
	}
	return out
}

type notification struct {
	UserID     string
	GeofenceID string
	DeviceName string
	IsEntry    bool
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []notification
	fail  map[string]error
	delay time.Duration
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{fail: make(map[string]error)}
}

func (n *recordingNotifier) NotifyGeofenceEvent(ctx context.Context, userID string, g *domain.Geofence, deviceName string, isEntry bool) error {
	if n.delay > 0 {
		select {
		case <-time.After(n.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.fail[g.ID]; err != nil {
		return err
	}
	n.sent = append(n.sent, notification{UserID: userID, GeofenceID: g.ID, DeviceName: deviceName, IsEntry: isEntry})
	return nil
}

func (n *recordingNotifier) notifications() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.sent...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.GeofenceEvent
}

func (p *recordingPublisher) PublishGeofenceEvent(ctx context.Context, e *domain.GeofenceEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) published() []*domain.GeofenceEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.GeofenceEvent(nil), p.events...)
}

// fakeTracker stands in for the registry's connection bookkeeping.
type fakeTracker struct {
	mu           sync.Mutex
	conns        []domain.DeviceConnection
	disconnected []string
}

func (f *fakeTracker) IsConnected(deviceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		if c.DeviceID == deviceID {
			return true
		}
	}
	return false
}

func (f *fakeTracker) ListConnected() []domain.DeviceConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.DeviceConnection(nil), f.conns...)
}

func (f *fakeTracker) Disconnect(deviceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, deviceID)
}

func circle(id, deviceID string, lat, lon, radius float64) *domain.Geofence {
	return &domain.Geofence{
		ID:       id,
		UserID:   "user-1",
		DeviceID: deviceID,
		Name:     "zone " + id,
		Center:   domain.Coordinates{Latitude: lat, Longitude: lon},
		Radius:   radius,
		Type:     domain.GeofenceBoth,
		IsActive: true,
	}
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
