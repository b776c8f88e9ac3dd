// Package roster reconciles the membership state of group-like
// conversations: the remote side's authoritative snapshots, speculative
// local updates that must be visible before the remote side confirms them,
// and the short-lived caches layered over both.
package roster

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/meadow-im/go-roster/admins"
	"github.com/meadow-im/go-roster/cache"
	"github.com/meadow-im/go-roster/clock"
	"github.com/meadow-im/go-roster/config"
	db "github.com/meadow-im/go-roster/internal/db"
	"github.com/meadow-im/go-roster/membership"
	"github.com/meadow-im/go-roster/online"
	"github.com/meadow-im/go-roster/timer"
	"go.uber.org/zap"
)

// Roster is the public facade. It owns the participant cache, the
// administrator registry and the online counter; nothing else may mutate
// them.
type Roster struct {
	config       *config.Config
	log          *zap.SugaredLogger
	clock        clock.Clock
	db           *db.Database
	timers       *timer.Service
	transport    Transport
	resolver     Resolver
	participants *cache.Participants
	admins       *admins.Registry
	counter      *online.Counter
	updates      chan interface{}
	waitersLock  sync.Mutex
	waiters      map[string]chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
}

// ErrShuttingDown aborts an in-flight multi-step status change when Shutdown
// is called during one of its delays.
var ErrShuttingDown = errors.New("roster: shutting down")

func New(c *config.Config, cl clock.Clock, transport Transport, resolver Resolver) (*Roster, error) {
	log := c.Logger("roster")
	database, err := db.NewDatabase(c, filepath.Join(c.RootDir, "roster.db"))
	if err != nil {
		return nil, err
	}

	r := &Roster{
		config:    c,
		log:       log,
		clock:     cl,
		db:        database,
		transport: transport,
		resolver:  resolver,
		updates:   make(chan interface{}, 100),
		waiters:   make(map[string]chan struct{}),
		done:      make(chan struct{}),
	}
	r.timers = timer.NewService(c, cl, r.handleTimer)
	r.participants = cache.NewParticipants(c, cl,
		func(conv membership.ConversationID, atMs uint64) {
			r.timers.ScheduleKeyed(sweepKey(conv), atMs)
		},
		func(conv membership.ConversationID) {
			r.timers.CancelKeyed(sweepKey(conv))
		})
	r.admins = admins.NewRegistry(c, database)
	r.counter = online.NewCounter(c, cl,
		func(conv membership.ConversationID, count uint32) {
			r.emit(OnlineCountUpdate{Conversation: conv, Count: count})
		},
		func(conv membership.ConversationID, atMs uint64) {
			r.timers.ScheduleKeyed(onlineKey(conv), atMs)
		},
		func(conv membership.ConversationID) {
			r.timers.CancelKeyed(onlineKey(conv))
		})
	return r, nil
}

// Open derives the storage key from the password and brings the database and
// timer service up. It must be called before any other method.
func (r *Roster) Open(password string) error {
	key, err := newKey(password, r.config.RootDir, "db-salt")
	if err != nil {
		return err
	}
	if !r.db.Initialized() {
		if err := r.db.Initialize(key); err != nil {
			return err
		}
	}
	if err := r.db.Open(key); err != nil {
		return err
	}
	if err := r.db.Migrate("roster", db.KVMigrations()); err != nil {
		return err
	}
	r.timers.Start()
	return nil
}

func (r *Roster) Shutdown() error {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.timers.Shutdown()
	return r.db.Shutdown()
}

// Updates is the stream of notifications for the application: administrator
// list changes, online count changes and, for service accounts, membership
// changes.
func (r *Roster) Updates() chan interface{} {
	return r.updates
}

// OpenConversation marks a conversation as visible in the UI, which enables
// online count notifications and starts its refresh cadence.
func (r *Roster) OpenConversation(conversation membership.ConversationID) {
	if r.counter.OnOpened(conversation) {
		go r.refreshOnlineCount(conversation)
	}
}

// CloseConversation suppresses online notifications for a conversation and
// lets its cached count lapse.
func (r *Roster) CloseConversation(conversation membership.ConversationID) {
	r.counter.OnClosed(conversation)
}

func (r *Roster) emit(update interface{}) {
	select {
	case r.updates <- update:
	default:
		r.log.Warnf("dropping update %T, updates channel full", update)
	}
}

func sweepKey(conversation membership.ConversationID) string {
	return fmt.Sprintf("sweep/%d", conversation)
}

func onlineKey(conversation membership.ConversationID) string {
	return fmt.Sprintf("online/%d", conversation)
}

func (r *Roster) handleTimer(key string) {
	switch {
	case strings.HasPrefix(key, "sweep/"):
		conv, err := strconv.ParseInt(strings.TrimPrefix(key, "sweep/"), 10, 64)
		if err != nil {
			r.log.Warnf("malformed timer key %s", key)
			return
		}
		r.participants.Sweep(membership.ConversationID(conv))
	case strings.HasPrefix(key, "online/"):
		conv, err := strconv.ParseInt(strings.TrimPrefix(key, "online/"), 10, 64)
		if err != nil {
			r.log.Warnf("malformed timer key %s", key)
			return
		}
		if r.counter.OnTimer(membership.ConversationID(conv)) == online.ActionRefresh {
			go r.refreshOnlineCount(membership.ConversationID(conv))
		}
	default:
		r.fireWaiter(key)
	}
}

// waitTimer blocks until the keyed deadline fires, the context is cancelled
// or the roster shuts down. Used for the delays the remote side demands
// between the phases of a split status transition.
func (r *Roster) waitTimer(ctx context.Context, key string, delayMs int64) error {
	ch := make(chan struct{})
	r.waitersLock.Lock()
	r.waiters[key] = ch
	r.waitersLock.Unlock()
	r.timers.ScheduleOnce(key, uint64(delayMs))
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		r.dropWaiter(key)
		return ctx.Err()
	case <-r.done:
		r.dropWaiter(key)
		return ErrShuttingDown
	}
}

func (r *Roster) dropWaiter(key string) {
	r.timers.CancelKeyed(key)
	r.waitersLock.Lock()
	delete(r.waiters, key)
	r.waitersLock.Unlock()
}

func (r *Roster) fireWaiter(key string) {
	r.waitersLock.Lock()
	ch, ok := r.waiters[key]
	if ok {
		delete(r.waiters, key)
	}
	r.waitersLock.Unlock()
	if ok {
		close(ch)
	} else {
		r.log.Debugf("no waiter for timer key %s", key)
	}
}

func (r *Roster) logDefect(format string, args ...interface{}) {
	r.log.With(zap.Bool("defect", true)).Errorf(format, args...)
}
