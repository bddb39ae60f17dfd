//go:generate go run go.uber.org/mock/mockgen -source=loader.go -destination=../mocks/mock_loader.go -package=mocks
package session

import (
	"context"

	"github.com/Tyrowin/pingspace/internal/chat"
)

// HistoryLoader fetches the backlog of a room. *history.Client implements it.
type HistoryLoader interface {
	LoadHistory(ctx context.Context, roomID, credential string) ([]chat.Message, error)
}
