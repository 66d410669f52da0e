package service

import (
	"log"

	"github.com/relaychat/sync-backend/internal/models"
	"github.com/relaychat/sync-backend/internal/repository"
)

// Messages returned per delta-sync call; the caller pages with the last
// returned sequence number as the next cursor.
const deltaBatchSize = 100

// SyncService computes the minimal catch-up payload for a device that
// fell behind, and reconciles the device's checkpoint in the same
// round-trip.
type SyncService struct {
	messages      repository.MessageRepositoryInterface
	conversations repository.ConversationRepositoryInterface
	state         *StateService
	clock         Clock
}

func NewSyncService(
	messages repository.MessageRepositoryInterface,
	conversations repository.ConversationRepositoryInterface,
	state *StateService,
	clock Clock,
) *SyncService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &SyncService{
		messages:      messages,
		conversations: conversations,
		state:         state,
		clock:         clock,
	}
}

// PerformDeltaSync returns every change past the device's cursor in
// ascending sequence order, capped at the batch size. Cursor-based
// paging stays correct under concurrent writes where offsets would not.
func (s *SyncService) PerformDeltaSync(key models.DeviceKey, req models.DeltaSyncRequest) (*models.DeltaSyncResponse, error) {
	start := s.clock.Now()

	watermark, err := s.conversations.Watermark(key.TenantID)
	if err != nil {
		return nil, err
	}

	messages, err := s.messages.FindSince(key.TenantID, req.LastSequenceNumber, req.ConversationIDs, deltaBatchSize)
	if err != nil {
		return nil, err
	}

	tombstones, err := s.messages.FindTombstonesSince(key.TenantID, req.LastSequenceNumber, req.ConversationIDs)
	if err != nil {
		return nil, err
	}

	resp := &models.DeltaSyncResponse{
		Messages:              make([]models.MessageResponse, 0, len(messages)),
		DeletedItems:          make([]models.DeletedItem, 0, len(tombstones)),
		CurrentSequenceNumber: watermark,
		HasMore:               len(messages) >= deltaBatchSize,
	}

	touched := make(map[uint]struct{})
	for _, id := range req.ConversationIDs {
		touched[id] = struct{}{}
	}
	for i := range messages {
		resp.Messages = append(resp.Messages, messages[i].ToResponse())
		touched[messages[i].ConversationID] = struct{}{}
	}
	for _, tomb := range tombstones {
		resp.DeletedItems = append(resp.DeletedItems, models.DeletedItem{
			MessageID:      tomb.MessageID,
			ConversationID: tomb.ConversationID,
			SequenceNumber: tomb.SequenceNumber,
		})
		touched[tomb.ConversationID] = struct{}{}
	}

	conversationIDs := make([]uint, 0, len(touched))
	for id := range touched {
		conversationIDs = append(conversationIDs, id)
	}
	conversations, err := s.conversations.FindByIDs(key.TenantID, conversationIDs)
	if err != nil {
		return nil, err
	}
	resp.Conversations = make([]models.ConversationResponse, 0, len(conversations))
	for i := range conversations {
		resp.Conversations = append(resp.Conversations, conversations[i].ToResponse())
	}

	// Prune pending operations against the fresh watermark in the same
	// round-trip. Best effort: a reconcile failure must not cost the
	// device its catch-up payload.
	if _, err := s.state.Reconcile(key, watermark); err != nil {
		log.Printf("delta sync: reconcile failed for device %s: %v", key, err)
	}
	if _, err := s.state.Update(key, models.ClientStatePatch{LastSyncAt: &start}); err != nil {
		log.Printf("delta sync: state update failed for device %s: %v", key, err)
	}

	resp.Metrics = models.SyncMetrics{
		MessageCount:      len(resp.Messages),
		ConversationCount: len(resp.Conversations),
		DeletedCount:      len(resp.DeletedItems),
		DurationMillis:    s.clock.Now().Sub(start).Milliseconds(),
	}
	log.Printf("delta sync: device=%s cursor=%d watermark=%d messages=%d deleted=%d has_more=%v duration=%dms",
		key, req.LastSequenceNumber, watermark, resp.Metrics.MessageCount, resp.Metrics.DeletedCount, resp.HasMore, resp.Metrics.DurationMillis)

	return resp, nil
}
