// Package checkpoint persists conversation state between turns and
// serializes access to each thread.
package checkpoint

import (
	"context"
	"errors"

	"github.com/lukahq/dialogcore/pkg/models"
)

// ErrLockTimeout is returned when acquiring a thread lock times out.
var ErrLockTimeout = errors.New("checkpoint: lock acquisition timeout")

// Store persists full conversation snapshots, last write wins.
//
// Load returns (nil, nil) for a thread that has never been saved; callers
// initialize fresh state. Save replaces the whole snapshot.
type Store interface {
	Load(ctx context.Context, threadID string) (*models.ConversationState, error)
	Save(ctx context.Context, threadID string, state *models.ConversationState) error
}
