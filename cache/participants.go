// Package cache holds recently resolved participants per conversation.
// Entries lapse a fixed time after their last access. The cache is only fed
// while the local account holds administrator rights in a conversation,
// which bounds its growth for ordinary accounts.
package cache

import (
	"sync"

	"github.com/meadow-im/go-roster/clock"
	"github.com/meadow-im/go-roster/config"
	"github.com/meadow-im/go-roster/membership"
	"go.uber.org/zap"
)

type entry struct {
	participant membership.Participant
	lastAccess  uint64
}

// ScheduleFunc arms the sweep wakeup for a conversation at an absolute
// millisecond deadline. CancelFunc disarms it.
type ScheduleFunc func(conversation membership.ConversationID, atMs uint64)
type CancelFunc func(conversation membership.ConversationID)

type Participants struct {
	log      *zap.SugaredLogger
	clock    clock.Clock
	ttlMs    uint64
	lock     sync.Mutex
	buckets  map[membership.ConversationID]map[membership.MemberRef]*entry
	schedule ScheduleFunc
	cancel   CancelFunc
}

func NewParticipants(c *config.Config, cl clock.Clock, schedule ScheduleFunc, cancel CancelFunc) *Participants {
	return &Participants{
		log:      c.Logger("participants"),
		clock:    cl,
		ttlMs:    uint64(c.ParticipantCacheTTLSec) * 1000,
		buckets:  make(map[membership.ConversationID]map[membership.MemberRef]*entry),
		schedule: schedule,
		cancel:   cancel,
	}
}

// Lookup returns a cached participant and refreshes its last access time. A
// lapsed restriction or ban on the cached record decays on read. Lookup
// never reaches out to the remote side.
func (p *Participants) Lookup(conversation membership.ConversationID, member membership.MemberRef) (membership.Participant, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	bucket, ok := p.buckets[conversation]
	if !ok {
		return membership.Participant{}, false
	}
	e, ok := bucket[member]
	if !ok {
		return membership.Participant{}, false
	}
	now := p.clock.CurrentTimeMs()
	e.lastAccess = now
	e.participant.Status = membership.Normalize(e.participant.Status, int64(now/1000))
	return e.participant, true
}

// InsertOrRefresh adds a participant to the conversation's bucket. An
// existing entry is only replaced when allowReplace is set, so a passively
// overheard record cannot clobber a newer one obtained by fetch. The last
// access time is refreshed either way.
func (p *Participants) InsertOrRefresh(conversation membership.ConversationID, participant membership.Participant, allowReplace bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	now := p.clock.CurrentTimeMs()
	bucket, ok := p.buckets[conversation]
	if !ok {
		bucket = make(map[membership.MemberRef]*entry)
		p.buckets[conversation] = bucket
		p.schedule(conversation, now+p.ttlMs)
	}
	e, ok := bucket[participant.Member]
	if !ok {
		bucket[participant.Member] = &entry{participant: participant, lastAccess: now}
		return
	}
	e.lastAccess = now
	if allowReplace {
		e.participant = participant
	}
}

// UpdateStatus rewrites the status of a cached participant in place and
// reports whether an entry was present.
func (p *Participants) UpdateStatus(conversation membership.ConversationID, member membership.MemberRef, status membership.Status) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	bucket, ok := p.buckets[conversation]
	if !ok {
		return false
	}
	e, ok := bucket[member]
	if !ok {
		return false
	}
	e.participant.Status = status
	return true
}

// InvalidateConversation drops the whole bucket for a conversation, used
// when the local account loses its administrator rights there.
func (p *Participants) InvalidateConversation(conversation membership.ConversationID) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if _, ok := p.buckets[conversation]; !ok {
		return
	}
	delete(p.buckets, conversation)
	p.cancel(conversation)
}

// Sweep evicts entries whose last access is older than the lifetime and
// re-arms the wakeup to the earliest remaining expiry. An emptied bucket is
// dropped entirely.
func (p *Participants) Sweep(conversation membership.ConversationID) {
	p.lock.Lock()
	defer p.lock.Unlock()
	bucket, ok := p.buckets[conversation]
	if !ok {
		return
	}
	now := p.clock.CurrentTimeMs()
	var oldest uint64
	for member, e := range bucket {
		if e.lastAccess+p.ttlMs <= now {
			p.log.Debugf("evicting %s from conversation %d", member, conversation)
			delete(bucket, member)
			continue
		}
		if oldest == 0 || e.lastAccess < oldest {
			oldest = e.lastAccess
		}
	}
	if len(bucket) == 0 {
		delete(p.buckets, conversation)
		return
	}
	p.schedule(conversation, oldest+p.ttlMs)
}

// Size reports the number of live entries for a conversation.
func (p *Participants) Size(conversation membership.ConversationID) int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.buckets[conversation])
}

// Each calls f for every cached participant of a conversation.
func (p *Participants) Each(conversation membership.ConversationID, f func(participant membership.Participant)) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, e := range p.buckets[conversation] {
		f(e.participant)
	}
}
