package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/relaychat/sync-backend/internal/models"
)

// fakeClock hands out a controlled time so scheduling and TTL logic can
// be driven deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type deviceQueue struct {
	items      map[string]*models.QueueItem
	index      map[string]int64
	processing map[string]int64
	live       map[string]string
}

func newDeviceQueue() *deviceQueue {
	return &deviceQueue{
		items:      make(map[string]*models.QueueItem),
		index:      make(map[string]int64),
		processing: make(map[string]int64),
		live:       make(map[string]string),
	}
}

// mockQueueStore is an in-memory stand-in for the coordination store.
// Claim pops the lowest-score eligible entry under the lock, matching
// the store's atomic claim semantics.
type mockQueueStore struct {
	mu      sync.Mutex
	queues  map[string]*deviceQueue
	devices map[string]models.DeviceKey
}

func newMockQueueStore() *mockQueueStore {
	return &mockQueueStore{
		queues:  make(map[string]*deviceQueue),
		devices: make(map[string]models.DeviceKey),
	}
}

func (s *mockQueueStore) queue(key models.DeviceKey) *deviceQueue {
	q, ok := s.queues[key.String()]
	if !ok {
		q = newDeviceQueue()
		s.queues[key.String()] = q
	}
	return q
}

func copyItem(item *models.QueueItem) *models.QueueItem {
	out := *item
	return &out
}

func (s *mockQueueStore) PutItem(key models.DeviceKey, item *models.QueueItem, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue(key).items[item.ID] = copyItem(item)
	return nil
}

func (s *mockQueueStore) GetItem(key models.DeviceKey, itemID string) (*models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queue(key).items[itemID]
	if !ok {
		return nil, nil
	}
	return copyItem(item), nil
}

func (s *mockQueueStore) DeleteItem(key models.DeviceKey, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queue(key).items, itemID)
	return nil
}

func (s *mockQueueStore) ListItems(key models.DeviceKey) ([]*models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue(key)
	items := make([]*models.QueueItem, 0, len(q.items))
	for _, item := range q.items {
		items = append(items, copyItem(item))
	}
	return items, nil
}

func (s *mockQueueStore) AddToIndex(key models.DeviceKey, itemID string, score int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue(key).index[itemID] = score
	return nil
}

func (s *mockQueueStore) RemoveFromIndex(key models.DeviceKey, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queue(key).index, itemID)
	return nil
}

func (s *mockQueueStore) Claim(key models.DeviceKey, maxScore, deadline int64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue(key)
	var bestID string
	var bestScore int64
	found := false
	for itemID, score := range q.index {
		if score > maxScore {
			continue
		}
		if !found || score < bestScore || (score == bestScore && itemID < bestID) {
			bestID = itemID
			bestScore = score
			found = true
		}
	}
	if !found {
		return "", false, nil
	}
	delete(q.index, bestID)
	q.processing[bestID] = deadline
	return bestID, true, nil
}

func (s *mockQueueStore) RemoveProcessing(key models.DeviceKey, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queue(key).processing, itemID)
	return nil
}

func (s *mockQueueStore) ExpiredProcessing(key models.DeviceKey, now int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for itemID, deadline := range s.queue(key).processing {
		if deadline <= now {
			expired = append(expired, itemID)
		}
	}
	return expired, nil
}

func (s *mockQueueStore) TryMarkLive(key models.DeviceKey, operationID, itemID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue(key)
	if _, exists := q.live[operationID]; exists {
		return false, nil
	}
	q.live[operationID] = itemID
	return true, nil
}

func (s *mockQueueStore) ClearLive(key models.DeviceKey, operationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queue(key).live, operationID)
	return nil
}

func (s *mockQueueStore) RegisterDevice(key models.DeviceKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[key.String()] = key
	return nil
}

func (s *mockQueueStore) UnregisterDevice(key models.DeviceKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, key.String())
	return nil
}

func (s *mockQueueStore) Devices() ([]models.DeviceKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]models.DeviceKey, 0, len(s.devices))
	for _, key := range s.devices {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *mockQueueStore) Drop(key models.DeviceKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queues, key.String())
	delete(s.devices, key.String())
	return nil
}

// mockStateStore holds client states keyed by device.
type mockStateStore struct {
	mu     sync.Mutex
	states map[string]*models.ClientState
}

func newMockStateStore() *mockStateStore {
	return &mockStateStore{states: make(map[string]*models.ClientState)}
}

func copyState(state *models.ClientState) *models.ClientState {
	out := *state
	out.PendingOperations = append([]models.PendingOperationRef(nil), state.PendingOperations...)
	out.ConflictResolutions = append([]models.ConflictResolution(nil), state.ConflictResolutions...)
	return &out
}

func (s *mockStateStore) Get(key models.DeviceKey) (*models.ClientState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[key.String()]
	if !ok {
		return nil, nil
	}
	return copyState(state), nil
}

func (s *mockStateStore) Put(state *models.ClientState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Key().String()] = copyState(state)
	return nil
}

func (s *mockStateStore) Delete(key models.DeviceKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key.String())
	return nil
}

func (s *mockStateStore) DeleteUser(tenantID string, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, state := range s.states {
		if state.TenantID == tenantID && state.UserID == userID {
			delete(s.states, k)
		}
	}
	return nil
}

func (s *mockStateStore) All() ([]*models.ClientState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make([]*models.ClientState, 0, len(s.states))
	for _, state := range s.states {
		states = append(states, copyState(state))
	}
	return states, nil
}

// mockConflictStore holds pending conflict records per user.
type mockConflictStore struct {
	mu      sync.Mutex
	records map[string]map[string]models.ConflictResolution
}

func newMockConflictStore() *mockConflictStore {
	return &mockConflictStore{records: make(map[string]map[string]models.ConflictResolution)}
}

func userKey(tenantID string, userID uint) string {
	return fmt.Sprintf("%s:%d", tenantID, userID)
}

func (s *mockConflictStore) Put(tenantID string, userID uint, records []models.ConflictResolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.records[userKey(tenantID, userID)]
	if !ok {
		bucket = make(map[string]models.ConflictResolution)
		s.records[userKey(tenantID, userID)] = bucket
	}
	for _, record := range records {
		bucket[record.ID] = record
	}
	return nil
}

func (s *mockConflictStore) Get(tenantID string, userID uint, conflictID string) (*models.ConflictResolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[userKey(tenantID, userID)][conflictID]
	if !ok {
		return nil, nil
	}
	out := record
	return &out, nil
}

func (s *mockConflictStore) List(tenantID string, userID uint) ([]models.ConflictResolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.records[userKey(tenantID, userID)]
	records := make([]models.ConflictResolution, 0, len(bucket))
	for _, record := range bucket {
		records = append(records, record)
	}
	return records, nil
}

func (s *mockConflictStore) Delete(tenantID string, userID uint, conflictID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[userKey(tenantID, userID)], conflictID)
	return nil
}

func (s *mockConflictStore) Clear(tenantID string, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userKey(tenantID, userID))
	return nil
}

// mockMessageRepo is a minimal authoritative log: a message table, a
// tombstone list, and a sequence counter shared with mockConversationRepo
// via the test wiring.
type mockMessageRepo struct {
	mu         sync.Mutex
	messages   map[uint]*models.Message
	tombstones []models.MessageTombstone
	nextID     uint
	resolved   []models.MessageSnapshot
	reactions  []models.MessageReaction
	createErr  error
}

func newMockMessageRepo() *mockMessageRepo {
	return &mockMessageRepo{messages: make(map[uint]*models.Message), nextID: 1}
}

func (r *mockMessageRepo) put(msg models.Message) *models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ID == 0 {
		msg.ID = r.nextID
		r.nextID++
	} else if msg.ID >= r.nextID {
		r.nextID = msg.ID + 1
	}
	stored := msg
	r.messages[stored.ID] = &stored
	return &stored
}

func (r *mockMessageRepo) Create(message *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	message.ID = r.nextID
	r.nextID++
	stored := *message
	r.messages[stored.ID] = &stored
	return nil
}

func (r *mockMessageRepo) FindByID(tenantID string, id uint) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok || msg.TenantID != tenantID {
		return nil, nil
	}
	out := *msg
	return &out, nil
}

func (r *mockMessageRepo) FindSince(tenantID string, afterSequence uint64, conversationIDs []uint, limit int) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[uint]struct{})
	for _, id := range conversationIDs {
		wanted[id] = struct{}{}
	}
	var out []models.Message
	for _, msg := range r.messages {
		if msg.TenantID != tenantID || msg.SequenceNumber <= afterSequence {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[msg.ConversationID]; !ok {
				continue
			}
		}
		out = append(out, *msg)
	}
	// Ascending by sequence, then cap at limit.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].SequenceNumber > out[j].SequenceNumber; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *mockMessageRepo) ApplyEdit(tenantID string, id uint, content string, editedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok || msg.TenantID != tenantID {
		return fmt.Errorf("message %d not found", id)
	}
	msg.Content = content
	msg.EditedAt = &editedAt
	msg.Version++
	return nil
}

func (r *mockMessageRepo) SoftDelete(tenantID string, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok || msg.TenantID != tenantID {
		return nil
	}
	msg.DeletedAt.Time = time.Now()
	msg.DeletedAt.Valid = true
	return nil
}

func (r *mockMessageRepo) HardDelete(tenantID string, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[id]
	if !ok || msg.TenantID != tenantID {
		return nil
	}
	r.tombstones = append(r.tombstones, models.MessageTombstone{
		TenantID:       tenantID,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SequenceNumber: msg.SequenceNumber + 1,
	})
	delete(r.messages, id)
	return nil
}

func (r *mockMessageRepo) ApplyResolved(tenantID string, snapshot *models.MessageSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if snapshot != nil {
		r.resolved = append(r.resolved, *snapshot)
	}
	return nil
}

func (r *mockMessageRepo) AddReaction(tenantID string, messageID, userID uint, emoji string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions = append(r.reactions, models.MessageReaction{MessageID: messageID, UserID: userID, Emoji: emoji})
	return nil
}

func (r *mockMessageRepo) FindTombstonesSince(tenantID string, afterSequence uint64, conversationIDs []uint) ([]models.MessageTombstone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.MessageTombstone
	for _, tomb := range r.tombstones {
		if tomb.TenantID == tenantID && tomb.SequenceNumber > afterSequence {
			out = append(out, tomb)
		}
	}
	return out, nil
}

// mockConversationRepo serves conversation metadata and a settable
// tenant watermark.
type mockConversationRepo struct {
	mu            sync.Mutex
	conversations map[uint]models.Conversation
	watermark     uint64
}

func newMockConversationRepo() *mockConversationRepo {
	return &mockConversationRepo{conversations: make(map[uint]models.Conversation)}
}

func (r *mockConversationRepo) setWatermark(seq uint64) {
	r.mu.Lock()
	r.watermark = seq
	r.mu.Unlock()
}

func (r *mockConversationRepo) FindByIDs(tenantID string, ids []uint) ([]models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Conversation
	for _, id := range ids {
		if conv, ok := r.conversations[id]; ok && conv.TenantID == tenantID {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (r *mockConversationRepo) Watermark(tenantID string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watermark, nil
}
