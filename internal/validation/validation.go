package validation

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/relaychat/sync-backend/internal/models"
)

var ErrInvalidOperation = errors.New("invalid operation")

func MaxContentLength() int {
	maxStr := os.Getenv("MAX_MESSAGE_LENGTH")
	if maxStr == "" {
		return 4000
	}
	max, err := strconv.Atoi(maxStr)
	if err != nil || max < 1 {
		return 4000
	}
	return max
}

func TrimAndLimit(s string, max int) string {
	s = strings.TrimSpace(s)
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}

// ValidateOperation rejects malformed operations synchronously, before
// they reach the queue. Each type declares which payload fields it
// needs.
func ValidateOperation(op *models.PendingOperation) error {
	if op.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidOperation)
	}
	if !op.ExpiresAt.After(op.Timestamp) {
		return fmt.Errorf("%w: ttl must be after timestamp", ErrInvalidOperation)
	}

	switch op.Type {
	case models.OpSendMessage:
		if op.Payload.ConversationID == 0 {
			return fmt.Errorf("%w: send_message requires conversation_id", ErrInvalidOperation)
		}
		if op.Payload.Content == "" {
			return fmt.Errorf("%w: send_message requires content", ErrInvalidOperation)
		}
	case models.OpEditMessage:
		if op.Payload.MessageID == 0 {
			return fmt.Errorf("%w: edit_message requires message_id", ErrInvalidOperation)
		}
		if op.Payload.Content == "" {
			return fmt.Errorf("%w: edit_message requires content", ErrInvalidOperation)
		}
	case models.OpDeleteMessage:
		if op.Payload.MessageID == 0 {
			return fmt.Errorf("%w: delete_message requires message_id", ErrInvalidOperation)
		}
	case models.OpReaction:
		if op.Payload.MessageID == 0 || op.Payload.Emoji == "" {
			return fmt.Errorf("%w: reaction requires message_id and emoji", ErrInvalidOperation)
		}
	case models.OpReadReceipt:
		if op.Payload.ConversationID == 0 {
			return fmt.Errorf("%w: read_receipt requires conversation_id", ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: unknown operation type %q", ErrInvalidOperation, op.Type)
	}
	return nil
}

// ValidatePriority maps the wire value to a known priority, defaulting
// to normal.
func ValidatePriority(raw string) (models.Priority, error) {
	switch models.Priority(strings.ToLower(strings.TrimSpace(raw))) {
	case models.PriorityHigh:
		return models.PriorityHigh, nil
	case models.PriorityLow:
		return models.PriorityLow, nil
	case models.PriorityNormal, "":
		return models.PriorityNormal, nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidOperation, raw)
	}
}

// ValidateOperationTTL defaults a zero expiry and clamps it to the
// window a queue is willing to hold an operation.
func ValidateOperationTTL(op *models.PendingOperation, defaultTTL, maxTTL time.Duration) {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	if op.ExpiresAt.IsZero() {
		op.ExpiresAt = op.Timestamp.Add(defaultTTL)
	}
	if op.ExpiresAt.After(op.Timestamp.Add(maxTTL)) {
		op.ExpiresAt = op.Timestamp.Add(maxTTL)
	}
}
