package runtime

import (
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/mocks"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestBridge(t *testing.T, repository *mocks.MockMessageStatusRepository, router *mocks.MockIRouter) *ReadReceiptBridge {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	return NewReadReceiptBridge(log, repository, router, newTestMetrics(),
		time.Second, 5*time.Millisecond, 100*time.Millisecond)
}

func TestReadReceiptBridge_Notifies_After_Store_Success(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepository := mocks.NewMockMessageStatusRepository(ctrl)
	mockRouter := mocks.NewMockIRouter(ctrl)
	bridge := newTestBridge(t, mockRepository, mockRouter)

	// Given the store commits {m1, m2} before the sender is notified
	gomock.InOrder(
		mockRepository.EXPECT().MarkAsRead(gomock.Any(), []string{"m1", "m2"}).Return(nil).Times(1),
		mockRouter.EXPECT().
			Dispatch(gomock.Any(), event.MessagesRead{To: "s", MessageIDs: []string{"m1", "m2"}}).
			Return(nil).Times(1),
	)

	// When the reader acknowledges both messages
	err := bridge.HandleReadAck(context.Background(), []string{"m1", "m2"}, "s")

	// Then no error is returned
	req.NoError(err)
}

func TestReadReceiptBridge_Store_Failure_Suppresses_Notification(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepository := mocks.NewMockMessageStatusRepository(ctrl)
	mockRouter := mocks.NewMockIRouter(ctrl)
	bridge := newTestBridge(t, mockRepository, mockRouter)
	storeErr := fmt.Errorf("write conflict: %w", errors.ErrStoreUnavailable)

	// Given the store rejects the batch once
	mockRepository.EXPECT().MarkAsRead(gomock.Any(), []string{"m1", "m2"}).Return(storeErr).Times(1)
	// Then the router is never called
	mockRouter.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Times(0)

	err := bridge.HandleReadAck(context.Background(), []string{"m1", "m2"}, "s")

	req.ErrorIs(err, errors.ErrStoreUnavailable)
}

func TestReadReceiptBridge_Offline_Sender_Still_Persists(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	mockRepository := mocks.NewMockMessageStatusRepository(ctrl)
	registry := NewRegistry()
	router := NewRouter(log, registry, newTestMetrics(), time.Second)
	bridge := NewReadReceiptBridge(log, mockRepository, router, newTestMetrics(),
		time.Second, 5*time.Millisecond, 100*time.Millisecond)

	// Given u1 is offline
	// Then the store is still updated
	mockRepository.EXPECT().MarkAsRead(gomock.Any(), []string{"m1"}).Return(nil).Times(1)

	// When u1's message is read
	err := bridge.HandleReadAck(context.Background(), []string{"m1"}, "u1")

	// Then nothing fails even though nobody was notified
	req.NoError(err)
}

func TestReadReceiptBridge_Retries_Notify_On_Backpressure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepository := mocks.NewMockMessageStatusRepository(ctrl)
	mockRouter := mocks.NewMockIRouter(ctrl)
	bridge := newTestBridge(t, mockRepository, mockRouter)

	mockRepository.EXPECT().MarkAsRead(gomock.Any(), []string{"m1"}).Return(nil).Times(1)
	gomock.InOrder(
		mockRouter.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(errors.ErrBackpressure).Times(1),
		mockRouter.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(nil).Times(1),
	)

	err := bridge.HandleReadAck(context.Background(), []string{"m1"}, "s")

	req.NoError(err)
}

func TestReadReceiptBridge_Gives_Up_After_Persistent_Backpressure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepository := mocks.NewMockMessageStatusRepository(ctrl)
	mockRouter := mocks.NewMockIRouter(ctrl)
	bridge := newTestBridge(t, mockRepository, mockRouter)

	// Given the store is written exactly once whatever happens to the notification
	mockRepository.EXPECT().MarkAsRead(gomock.Any(), []string{"m1"}).Return(nil).Times(1)
	mockRouter.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(errors.ErrBackpressure).MinTimes(2)

	err := bridge.HandleReadAck(context.Background(), []string{"m1"}, "s")

	req.ErrorIs(err, errors.ErrBackpressure)
}

func TestReadReceiptBridge_Does_Not_Retry_Other_Dispatch_Errors(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepository := mocks.NewMockMessageStatusRepository(ctrl)
	mockRouter := mocks.NewMockIRouter(ctrl)
	bridge := newTestBridge(t, mockRepository, mockRouter)

	mockRepository.EXPECT().MarkAsRead(gomock.Any(), []string{"m1"}).Return(nil).Times(1)
	mockRouter.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(context.Canceled).Times(1)

	err := bridge.HandleReadAck(context.Background(), []string{"m1"}, "s")

	req.ErrorIs(err, context.Canceled)
}

func TestReadReceiptBridge_Empty_Batch(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepository := mocks.NewMockMessageStatusRepository(ctrl)
	mockRouter := mocks.NewMockIRouter(ctrl)
	bridge := newTestBridge(t, mockRepository, mockRouter)

	mockRepository.EXPECT().MarkAsRead(gomock.Any(), gomock.Any()).Times(0)
	mockRouter.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Times(0)

	req.NoError(bridge.HandleReadAck(context.Background(), nil, "s"))
}
