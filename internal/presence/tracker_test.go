package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"securelink/internal/mocks"
	"securelink/internal/models"
	"securelink/internal/registry"
)

type recordingChannel struct {
	mu     sync.Mutex
	events []models.ChannelEvent
}

func (r *recordingChannel) Send(ev models.ChannelEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingChannel) Close() {}

func (r *recordingChannel) snapshot() []models.ChannelEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChannelEvent(nil), r.events...)
}

func (r *recordingChannel) countOf(typ models.EventType) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func newTrackerWithObserver(t *testing.T, repo *mocks.PresenceRepositoryMock, ttl time.Duration) (*Tracker, *recordingChannel) {
	t.Helper()
	reg := registry.New(time.Minute, time.Minute)
	observer := &recordingChannel{}
	reg.Register("observer", "observer", "d0", observer)

	tracker := NewTracker(reg, repo, ttl)
	t.Cleanup(tracker.Close)
	return tracker, observer
}

func TestSetOnlineBroadcastsAndPersists(t *testing.T) {
	repo := new(mocks.PresenceRepositoryMock)
	tracker, observer := newTrackerWithObserver(t, repo, time.Minute)

	repo.On("SetOnline", mock.Anything, "alice").Return(nil).Once()

	tracker.SetOnline(context.Background(), "p-alice", "alice")

	events := observer.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, models.EventUserOnline, events[0].Type)
	require.Equal(t, "alice", events[0].ContactID)
	repo.AssertExpectations(t)
}

func TestSetOfflineBroadcastsLastSeen(t *testing.T) {
	repo := new(mocks.PresenceRepositoryMock)
	tracker, observer := newTrackerWithObserver(t, repo, time.Minute)

	repo.On("SetOffline", mock.Anything, "alice", mock.Anything).Return(nil).Once()

	tracker.SetOffline(context.Background(), "p-alice", "alice")

	events := observer.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, models.EventUserOffline, events[0].Type)
	require.NotNil(t, events[0].LastSeen)
	repo.AssertExpectations(t)
}

func TestTypingExpiresOnItsOwn(t *testing.T) {
	repo := new(mocks.PresenceRepositoryMock)
	tracker, observer := newTrackerWithObserver(t, repo, 30*time.Millisecond)

	tracker.StartTyping("p-alice", "alice")
	require.Equal(t, 1, observer.countOf(models.EventTypingStart))

	require.Eventually(t, func() bool {
		return observer.countOf(models.EventTypingStop) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStopTypingCancelsExpiry(t *testing.T) {
	repo := new(mocks.PresenceRepositoryMock)
	tracker, observer := newTrackerWithObserver(t, repo, 30*time.Millisecond)

	tracker.StartTyping("p-alice", "alice")
	tracker.StopTyping("p-alice", "alice")
	require.Equal(t, 1, observer.countOf(models.EventTypingStop))

	// The armed timer must not fire a second retraction.
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, 1, observer.countOf(models.EventTypingStop))
}

func TestEvictionRecordsOffline(t *testing.T) {
	repo := new(mocks.PresenceRepositoryMock)
	reg := registry.New(time.Minute, time.Minute)
	tracker := NewTracker(reg, repo, time.Minute)
	t.Cleanup(tracker.Close)

	// Evicted connections never run their own teardown, so the registry
	// hands them to the tracker.
	reg.SetEvictHandler(func(conn *registry.Connection) {
		tracker.SetOffline(context.Background(), conn.PrincipalID, conn.ContactID)
	})

	repo.On("SetOnline", mock.Anything, "alice").Return(nil).Once()
	repo.On("SetOffline", mock.Anything, "alice", mock.Anything).Return(nil).Once()

	reg.Register("p-alice", "alice", "d1", &recordingChannel{})
	tracker.SetOnline(context.Background(), "p-alice", "alice")
	reg.Evict("p-alice")

	repo.AssertExpectations(t)
}

func TestStopTypingWithoutStartIsSilent(t *testing.T) {
	repo := new(mocks.PresenceRepositoryMock)
	tracker, observer := newTrackerWithObserver(t, repo, time.Minute)

	tracker.StopTyping("p-alice", "alice")
	require.Empty(t, observer.snapshot())
}

func TestSetOfflineRetractsPendingTyping(t *testing.T) {
	repo := new(mocks.PresenceRepositoryMock)
	tracker, observer := newTrackerWithObserver(t, repo, time.Minute)

	repo.On("SetOffline", mock.Anything, "alice", mock.Anything).Return(nil).Once()

	tracker.StartTyping("p-alice", "alice")
	tracker.SetOffline(context.Background(), "p-alice", "alice")

	require.Equal(t, 1, observer.countOf(models.EventTypingStart))
	require.Equal(t, 1, observer.countOf(models.EventUserOffline))

	// Timer is cancelled, so no late typing_stop arrives.
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, 0, observer.countOf(models.EventTypingStop))
}
