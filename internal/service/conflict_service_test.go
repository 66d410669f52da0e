package service

import (
	"errors"
	"testing"
	"time"

	"github.com/relaychat/sync-backend/internal/models"
)

type conflictFixture struct {
	svc           *ConflictService
	conflicts     *mockConflictStore
	messages      *mockMessageRepo
	conversations *mockConversationRepo
	state         *StateService
	clock         *fakeClock
}

func newConflictFixture(t *testing.T) *conflictFixture {
	t.Helper()
	conflicts := newMockConflictStore()
	messages := newMockMessageRepo()
	conversations := newMockConversationRepo()
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	state := NewStateService(newMockStateStore(), clock)
	svc := NewConflictService(conflicts, messages, conversations, state, clock)
	return &conflictFixture{
		svc:           svc,
		conflicts:     conflicts,
		messages:      messages,
		conversations: conversations,
		state:         state,
		clock:         clock,
	}
}

func TestDetectSequenceConflict(t *testing.T) {
	f := newConflictFixture(t)
	f.conversations.setWatermark(10)

	op := testOp("op-1", f.clock.Now())
	op.Payload.BaseSequenceNumber = 5
	records, err := f.svc.DetectConflicts(testKey, op)
	if err != nil {
		t.Fatalf("DetectConflicts() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Type != models.SequenceConflict {
		t.Errorf("Type = %q, want %q", rec.Type, models.SequenceConflict)
	}
	if rec.Resolution != models.ServerWins {
		t.Errorf("Resolution = %q, want %q", rec.Resolution, models.ServerWins)
	}
	if rec.ID == "" || rec.OperationID != op.ID {
		t.Errorf("record identity = (%q, %q), want non-empty id and operation %q", rec.ID, rec.OperationID, op.ID)
	}
	if rec.ServerVersion == nil || rec.ServerVersion.SequenceNumber != 10 {
		t.Errorf("ServerVersion = %+v, want watermark 10", rec.ServerVersion)
	}

	// Detected records are persisted for later resolution.
	stored, err := f.conflicts.List(testKey.TenantID, testKey.UserID)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("stored records = %d, want 1", len(stored))
	}
}

func TestDetectSequenceConflictCurrentBase(t *testing.T) {
	f := newConflictFixture(t)
	f.conversations.setWatermark(10)

	op := testOp("op-1", f.clock.Now())
	op.Payload.BaseSequenceNumber = 10
	records, err := f.svc.DetectConflicts(testKey, op)
	if err != nil {
		t.Fatalf("DetectConflicts() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("len(records) = %d, want 0 when base matches watermark", len(records))
	}
}

func TestDetectEditConflict(t *testing.T) {
	f := newConflictFixture(t)
	t1 := f.clock.Now().Add(-2 * time.Hour)
	t2 := f.clock.Now().Add(-time.Hour)
	msg := f.messages.put(models.Message{
		TenantID:       testKey.TenantID,
		ConversationID: 10,
		Content:        "server text",
		EditedAt:       &t2,
		Version:        2,
		SequenceNumber: 7,
	})

	op := models.PendingOperation{
		ID:   "op-edit",
		Type: models.OpEditMessage,
		Payload: models.OperationPayload{
			MessageID:     msg.ID,
			Content:       "client text",
			KnownEditedAt: &t1,
		},
		Timestamp: f.clock.Now(),
		ExpiresAt: f.clock.Now().Add(time.Hour),
	}
	records, err := f.svc.DetectConflicts(testKey, op)
	if err != nil {
		t.Fatalf("DetectConflicts() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Type != models.EditConflict {
		t.Errorf("Type = %q, want %q", rec.Type, models.EditConflict)
	}
	if rec.Resolution != models.Manual {
		t.Errorf("Resolution = %q, want %q", rec.Resolution, models.Manual)
	}
	if rec.ServerVersion == nil || rec.ServerVersion.EditedAt == nil || !rec.ServerVersion.EditedAt.Equal(t2) {
		t.Errorf("ServerVersion.EditedAt = %v, want %v", rec.ServerVersion, t2)
	}
	if rec.ClientVersion == nil || rec.ClientVersion.Content != "client text" {
		t.Errorf("ClientVersion = %+v, want client text", rec.ClientVersion)
	}
}

func TestDetectEditConflictUpToDateClient(t *testing.T) {
	f := newConflictFixture(t)
	t2 := f.clock.Now().Add(-time.Hour)
	msg := f.messages.put(models.Message{
		TenantID: testKey.TenantID,
		Content:  "server text",
		EditedAt: &t2,
	})

	op := models.PendingOperation{
		ID:   "op-edit",
		Type: models.OpEditMessage,
		Payload: models.OperationPayload{
			MessageID:     msg.ID,
			Content:       "client text",
			KnownEditedAt: &t2,
		},
		Timestamp: f.clock.Now(),
		ExpiresAt: f.clock.Now().Add(time.Hour),
	}
	records, err := f.svc.DetectConflicts(testKey, op)
	if err != nil {
		t.Fatalf("DetectConflicts() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("len(records) = %d, want 0 when the client saw the latest edit", len(records))
	}
}

func TestDetectEditConflictTargetGone(t *testing.T) {
	f := newConflictFixture(t)

	op := models.PendingOperation{
		ID:   "op-edit",
		Type: models.OpEditMessage,
		Payload: models.OperationPayload{
			MessageID: 999,
			Content:   "client text",
		},
		Timestamp: f.clock.Now(),
		ExpiresAt: f.clock.Now().Add(time.Hour),
	}
	records, err := f.svc.DetectConflicts(testKey, op)
	if err != nil {
		t.Fatalf("DetectConflicts() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if records[0].Type != models.DeleteConflict {
		t.Errorf("Type = %q, want %q", records[0].Type, models.DeleteConflict)
	}
	if records[0].Resolution != models.ServerWins {
		t.Errorf("Resolution = %q, want %q", records[0].Resolution, models.ServerWins)
	}
}

func TestDetectDeleteConflict(t *testing.T) {
	f := newConflictFixture(t)
	msg := f.messages.put(models.Message{
		TenantID: testKey.TenantID,
		Content:  "still here",
	})

	op := models.PendingOperation{
		ID:        "op-del",
		Type:      models.OpDeleteMessage,
		Payload:   models.OperationPayload{MessageID: msg.ID},
		Timestamp: f.clock.Now(),
		ExpiresAt: f.clock.Now().Add(time.Hour),
	}
	records, err := f.svc.DetectConflicts(testKey, op)
	if err != nil {
		t.Fatalf("DetectConflicts() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if records[0].Type != models.DeleteConflict || records[0].Resolution != models.Manual {
		t.Errorf("record = (%q, %q), want delete_conflict/manual", records[0].Type, records[0].Resolution)
	}
	if records[0].ClientVersion == nil || !records[0].ClientVersion.Deleted {
		t.Errorf("ClientVersion = %+v, want deleted intent", records[0].ClientVersion)
	}
}

func TestDetectDeleteConflictIdempotent(t *testing.T) {
	f := newConflictFixture(t)
	msg := f.messages.put(models.Message{TenantID: testKey.TenantID, Content: "going"})
	if err := f.messages.SoftDelete(testKey.TenantID, msg.ID); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}

	for _, target := range []uint{msg.ID, 999} {
		op := models.PendingOperation{
			ID:        "op-del",
			Type:      models.OpDeleteMessage,
			Payload:   models.OperationPayload{MessageID: target},
			Timestamp: f.clock.Now(),
			ExpiresAt: f.clock.Now().Add(time.Hour),
		}
		records, err := f.svc.DetectConflicts(testKey, op)
		if err != nil {
			t.Fatalf("DetectConflicts(%d) error = %v", target, err)
		}
		if len(records) != 0 {
			t.Errorf("DetectConflicts(%d) = %d records, want 0", target, len(records))
		}
	}
}

func TestDetectConflictsCommutativeTypes(t *testing.T) {
	f := newConflictFixture(t)
	f.conversations.setWatermark(100)

	op := models.PendingOperation{
		ID:        "op-react",
		Type:      models.OpReaction,
		Payload:   models.OperationPayload{MessageID: 1, Emoji: "👍"},
		Timestamp: f.clock.Now(),
		ExpiresAt: f.clock.Now().Add(time.Hour),
	}
	records, err := f.svc.DetectConflicts(testKey, op)
	if err != nil {
		t.Fatalf("DetectConflicts() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("len(records) = %d, want 0 for a reaction", len(records))
	}
}

func detectOne(t *testing.T, f *conflictFixture, op models.PendingOperation) models.ConflictResolution {
	t.Helper()
	records, err := f.svc.DetectConflicts(testKey, op)
	if err != nil {
		t.Fatalf("DetectConflicts() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	return records[0]
}

func editConflictOp(f *conflictFixture, messageID uint) models.PendingOperation {
	t1 := f.clock.Now().Add(-2 * time.Hour)
	return models.PendingOperation{
		ID:   "op-edit",
		Type: models.OpEditMessage,
		Payload: models.OperationPayload{
			MessageID:     messageID,
			Content:       "client text",
			KnownEditedAt: &t1,
		},
		Timestamp: f.clock.Now(),
		ExpiresAt: f.clock.Now().Add(time.Hour),
	}
}

func conflictedMessage(f *conflictFixture) *models.Message {
	t2 := f.clock.Now().Add(-time.Hour)
	return f.messages.put(models.Message{
		TenantID:       testKey.TenantID,
		ConversationID: 10,
		Content:        "server text",
		EditedAt:       &t2,
		Version:        2,
		SequenceNumber: 7,
	})
}

func TestResolveConflictServerWins(t *testing.T) {
	f := newConflictFixture(t)
	msg := conflictedMessage(f)
	rec := detectOne(t, f, editConflictOp(f, msg.ID))

	resolved, err := f.svc.ResolveConflict(testKey, rec.ID, models.ServerWins)
	if err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	if resolved.Resolution != models.ServerWins {
		t.Errorf("Resolution = %q, want %q", resolved.Resolution, models.ServerWins)
	}
	if resolved.ResolvedMessage == nil || resolved.ResolvedMessage.Content != "server text" {
		t.Errorf("ResolvedMessage = %+v, want server text", resolved.ResolvedMessage)
	}
	if resolved.ResolvedAt == nil {
		t.Error("ResolvedAt = nil, want timestamp")
	}

	// Outcome written to the log, record removed, audit ring appended.
	if len(f.messages.resolved) != 1 {
		t.Errorf("ApplyResolved calls = %d, want 1", len(f.messages.resolved))
	}
	remaining, _ := f.conflicts.List(testKey.TenantID, testKey.UserID)
	if len(remaining) != 0 {
		t.Errorf("stored conflicts after resolve = %d, want 0", len(remaining))
	}
	state, err := f.state.Get(testKey)
	if err != nil || state == nil {
		t.Fatalf("state.Get() = %v, %v, want state", state, err)
	}
	if len(state.ConflictResolutions) != 1 {
		t.Errorf("audit ring entries = %d, want 1", len(state.ConflictResolutions))
	}
}

func TestResolveConflictClientWins(t *testing.T) {
	f := newConflictFixture(t)
	msg := conflictedMessage(f)
	rec := detectOne(t, f, editConflictOp(f, msg.ID))

	resolved, err := f.svc.ResolveConflict(testKey, rec.ID, models.ClientWins)
	if err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	if resolved.ResolvedMessage.Content != "client text" {
		t.Errorf("ResolvedMessage.Content = %q, want client text", resolved.ResolvedMessage.Content)
	}
	// Untouched fields keep the server values.
	if resolved.ResolvedMessage.Version != 2 {
		t.Errorf("ResolvedMessage.Version = %d, want 2", resolved.ResolvedMessage.Version)
	}
}

func TestResolveConflictMerge(t *testing.T) {
	f := newConflictFixture(t)
	msg := conflictedMessage(f)
	rec := detectOne(t, f, editConflictOp(f, msg.ID))

	resolved, err := f.svc.ResolveConflict(testKey, rec.ID, models.Merge)
	if err != nil {
		t.Fatalf("ResolveConflict() error = %v", err)
	}
	if resolved.ResolvedMessage.Content != "client text" {
		t.Errorf("ResolvedMessage.Content = %q, want client text", resolved.ResolvedMessage.Content)
	}
	if resolved.ResolvedMessage.SequenceNumber != 7 {
		t.Errorf("ResolvedMessage.SequenceNumber = %d, want server value 7", resolved.ResolvedMessage.SequenceNumber)
	}
}

func TestResolveConflictErrors(t *testing.T) {
	f := newConflictFixture(t)
	msg := conflictedMessage(f)
	rec := detectOne(t, f, editConflictOp(f, msg.ID))

	if _, err := f.svc.ResolveConflict(testKey, "missing", models.ServerWins); !errors.Is(err, ErrConflictNotFound) {
		t.Errorf("ResolveConflict(missing) error = %v, want ErrConflictNotFound", err)
	}
	if _, err := f.svc.ResolveConflict(testKey, rec.ID, models.Manual); !errors.Is(err, ErrUnsupportedStrategy) {
		t.Errorf("ResolveConflict(manual) error = %v, want ErrUnsupportedStrategy", err)
	}
	if _, err := f.svc.ResolveConflict(testKey, rec.ID, "bogus"); !errors.Is(err, ErrUnsupportedStrategy) {
		t.Errorf("ResolveConflict(bogus) error = %v, want ErrUnsupportedStrategy", err)
	}

	// Failed attempts leave the record in place.
	remaining, _ := f.conflicts.List(testKey.TenantID, testKey.UserID)
	if len(remaining) != 1 {
		t.Errorf("stored conflicts = %d, want 1", len(remaining))
	}
}

func TestGetConflictsSorted(t *testing.T) {
	f := newConflictFixture(t)
	f.conversations.setWatermark(10)

	for _, id := range []string{"op-a", "op-b", "op-c"} {
		op := testOp(id, f.clock.Now())
		op.Payload.BaseSequenceNumber = 1
		if _, err := f.svc.DetectConflicts(testKey, op); err != nil {
			t.Fatalf("DetectConflicts(%s) error = %v", id, err)
		}
		f.clock.Advance(time.Minute)
	}

	records, err := f.svc.GetConflicts(testKey.TenantID, testKey.UserID)
	if err != nil {
		t.Fatalf("GetConflicts() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
	want := []string{"op-a", "op-b", "op-c"}
	for i, record := range records {
		if record.OperationID != want[i] {
			t.Errorf("records[%d].OperationID = %q, want %q", i, record.OperationID, want[i])
		}
	}
}

func TestClearConflicts(t *testing.T) {
	f := newConflictFixture(t)
	f.conversations.setWatermark(10)
	op := testOp("op-1", f.clock.Now())
	op.Payload.BaseSequenceNumber = 1
	if _, err := f.svc.DetectConflicts(testKey, op); err != nil {
		t.Fatalf("DetectConflicts() error = %v", err)
	}

	if err := f.svc.ClearConflicts(testKey.TenantID, testKey.UserID); err != nil {
		t.Fatalf("ClearConflicts() error = %v", err)
	}
	records, _ := f.svc.GetConflicts(testKey.TenantID, testKey.UserID)
	if len(records) != 0 {
		t.Errorf("len(records) = %d, want 0", len(records))
	}
}
