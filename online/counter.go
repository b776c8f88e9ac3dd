// Package online tracks the transient "currently online" member count per
// conversation. Counts are refreshed on a cadence while the conversation is
// open and lapse a fixed time after it closes. Nothing here is persisted.
package online

import (
	"sync"

	"github.com/meadow-im/go-roster/clock"
	"github.com/meadow-im/go-roster/config"
	"github.com/meadow-im/go-roster/membership"
	"go.uber.org/zap"
)

type info struct {
	count      uint32
	updatedAt  uint64
	updateSent bool
	open       bool
}

// Action tells the owner what to do after a wakeup for a conversation.
type Action int

const (
	// ActionNone requires nothing.
	ActionNone Action = iota
	// ActionRefresh asks the owner to re-derive the count.
	ActionRefresh
	// ActionDropped reports that the lapsed count was discarded.
	ActionDropped
)

// NotifyFunc delivers a count change to the application. ScheduleFunc arms
// the wakeup for a conversation at an absolute millisecond deadline and
// CancelFunc disarms it.
type NotifyFunc func(conversation membership.ConversationID, count uint32)
type ScheduleFunc func(conversation membership.ConversationID, atMs uint64)
type CancelFunc func(conversation membership.ConversationID)

type Counter struct {
	log        *zap.SugaredLogger
	clock      clock.Clock
	intervalMs uint64
	expireMs   uint64
	lock       sync.Mutex
	infos      map[membership.ConversationID]*info
	notify     NotifyFunc
	schedule   ScheduleFunc
	cancel     CancelFunc
}

func NewCounter(c *config.Config, cl clock.Clock, notify NotifyFunc, schedule ScheduleFunc, cancel CancelFunc) *Counter {
	return &Counter{
		log:        c.Logger("online"),
		clock:      cl,
		intervalMs: uint64(c.OnlineUpdateIntervalSec) * 1000,
		expireMs:   uint64(c.OnlineExpireSec) * 1000,
		infos:      make(map[membership.ConversationID]*info),
		notify:     notify,
		schedule:   schedule,
		cancel:     cancel,
	}
}

// Observe records a derived or server-sent count. The count is clamped to
// the conversation's member count when that is known; zero means unknown
// and leaves the count as observed. A notification goes out only while the
// conversation is open and only when the count changed or none has been
// sent since it opened.
func (c *Counter) Observe(conversation membership.ConversationID, count uint32, participantCount int32, fromServer bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if participantCount > 0 && count > uint32(participantCount) {
		count = uint32(participantCount)
	}

	i, ok := c.infos[conversation]
	if !ok {
		i = &info{}
		c.infos[conversation] = i
	}
	changed := i.count != count
	i.count = count
	i.updatedAt = c.clock.CurrentTimeMs()

	if i.open && (changed || !i.updateSent) {
		i.updateSent = true
		c.notify(conversation, count)
	}
	if i.open {
		c.schedule(conversation, i.updatedAt+c.intervalMs)
	} else if !fromServer {
		c.schedule(conversation, i.updatedAt+c.expireMs)
	}
}

// OnOpened marks a conversation open and reports whether the owner should
// re-derive the count. A still-fresh cached count is resent immediately.
func (c *Counter) OnOpened(conversation membership.ConversationID) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	i, ok := c.infos[conversation]
	if !ok {
		i = &info{}
		c.infos[conversation] = i
	}
	i.open = true
	now := c.clock.CurrentTimeMs()
	if i.updatedAt != 0 && now < i.updatedAt+c.expireMs {
		if !i.updateSent {
			i.updateSent = true
			c.notify(conversation, i.count)
		}
		c.schedule(conversation, i.updatedAt+c.intervalMs)
		return false
	}
	return true
}

// OnClosed suppresses further notifications and lets the cached count lapse.
func (c *Counter) OnClosed(conversation membership.ConversationID) {
	c.lock.Lock()
	defer c.lock.Unlock()
	i, ok := c.infos[conversation]
	if !ok {
		return
	}
	i.open = false
	i.updateSent = false
	c.schedule(conversation, i.updatedAt+c.expireMs)
}

// OnTimer handles a wakeup for a conversation.
func (c *Counter) OnTimer(conversation membership.ConversationID) Action {
	c.lock.Lock()
	defer c.lock.Unlock()
	i, ok := c.infos[conversation]
	if !ok {
		return ActionNone
	}
	if i.open {
		return ActionRefresh
	}
	if c.clock.CurrentTimeMs() >= i.updatedAt+c.expireMs {
		c.log.Debugf("dropping lapsed online count for conversation %d", conversation)
		delete(c.infos, conversation)
		c.cancel(conversation)
		return ActionDropped
	}
	return ActionNone
}

// Get returns the tracked count for a conversation.
func (c *Counter) Get(conversation membership.ConversationID) (uint32, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	i, ok := c.infos[conversation]
	if !ok {
		return 0, false
	}
	return i.count, true
}
