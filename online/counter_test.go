package online

import (
	"sync"
	"testing"
	"time"

	"github.com/meadow-im/go-roster/config"
	"github.com/meadow-im/go-roster/membership"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	lock    sync.Mutex
	current uint64
}

func newTestClock(current uint64) *testClock {
	return &testClock{current: current}
}

func (tc *testClock) AdvanceMs(amount uint64) {
	tc.lock.Lock()
	defer tc.lock.Unlock()
	tc.current += amount * 1000
}

func (tc *testClock) CurrentTimeMicro() uint64 {
	tc.lock.Lock()
	defer tc.lock.Unlock()
	return tc.current
}

func (tc *testClock) CurrentTimeMs() uint64 {
	return tc.CurrentTimeMicro() / 1000
}

func (tc *testClock) CurrentTimeSec() uint64 {
	return tc.CurrentTimeMicro() / 1000000
}

func (tc *testClock) Now() time.Time {
	return time.UnixMicro(int64(tc.CurrentTimeMicro()))
}

type notification struct {
	conversation membership.ConversationID
	count        uint32
}

func newTestCounter() (*Counter, *testClock, *[]notification) {
	c := config.NewConfig(
		config.WithLoggingPrefix("test"),
		config.WithOnlineUpdateIntervalSec(300),
		config.WithOnlineExpireSec(1800),
	)
	cl := newTestClock(1_700_000_000_000_000)
	notified := &[]notification{}
	counter := NewCounter(c, cl, func(conv membership.ConversationID, count uint32) {
		*notified = append(*notified, notification{conv, count})
	}, func(membership.ConversationID, uint64) {}, func(membership.ConversationID) {})
	return counter, cl, notified
}

func TestObserveNotifiesOnlyWhileOpen(t *testing.T) {
	require := require.New(t)

	counter, _, notified := newTestCounter()
	counter.Observe(7, 5, 100, true)
	require.Empty(*notified)

	// opening resends the still-fresh count
	require.False(counter.OnOpened(7))
	require.Len(*notified, 1)
	require.Equal(notification{7, 5}, (*notified)[0])

	// unchanged count, already sent
	counter.Observe(7, 5, 100, true)
	require.Len(*notified, 1)

	// changed count
	counter.Observe(7, 6, 100, true)
	require.Len(*notified, 2)
	require.Equal(notification{7, 6}, (*notified)[1])
}

func TestObserveClampsToParticipantCount(t *testing.T) {
	require := require.New(t)

	counter, _, _ := newTestCounter()
	counter.OnOpened(7)
	counter.Observe(7, 50, 10, true)
	count, ok := counter.Get(7)
	require.True(ok)
	require.Equal(uint32(10), count)
}

func TestObserveKeepsCountWhenParticipantCountUnknown(t *testing.T) {
	require := require.New(t)

	counter, _, _ := newTestCounter()
	counter.OnOpened(7)
	counter.Observe(7, 42, 0, true)
	count, ok := counter.Get(7)
	require.True(ok)
	require.Equal(uint32(42), count)
}

func TestReopenResendsFreshCount(t *testing.T) {
	require := require.New(t)

	counter, cl, notified := newTestCounter()
	counter.OnOpened(7)
	counter.Observe(7, 5, 100, true)
	require.Len(*notified, 1)

	counter.OnClosed(7)
	cl.AdvanceMs(60_000)
	refresh := counter.OnOpened(7)
	require.False(refresh)
	require.Len(*notified, 2)
	require.Equal(notification{7, 5}, (*notified)[1])
}

func TestOpenAfterExpiryRequestsRefresh(t *testing.T) {
	require := require.New(t)

	counter, cl, _ := newTestCounter()
	counter.OnOpened(7)
	counter.Observe(7, 5, 100, true)
	counter.OnClosed(7)

	cl.AdvanceMs(1801_000)
	require.True(counter.OnOpened(7))
}

func TestTimerDropsLapsedClosedCount(t *testing.T) {
	require := require.New(t)

	counter, cl, _ := newTestCounter()
	counter.OnOpened(7)
	counter.Observe(7, 5, 100, true)

	require.Equal(ActionRefresh, counter.OnTimer(7))

	counter.OnClosed(7)
	require.Equal(ActionNone, counter.OnTimer(7))

	cl.AdvanceMs(1801_000)
	require.Equal(ActionDropped, counter.OnTimer(7))
	_, ok := counter.Get(7)
	require.False(ok)
}
