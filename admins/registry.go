// Package admins maintains the per-conversation administrator list. The
// list is kept sorted by user identity, persisted across restarts, patched
// in place by locally-initiated status changes and revalidated against the
// remote side through a cheap hash comparison.
package admins

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/meadow-im/go-roster/config"
	db "github.com/meadow-im/go-roster/internal/db"
	"github.com/meadow-im/go-roster/membership"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

type Registry struct {
	log   *zap.SugaredLogger
	db    *db.Database
	lock  sync.Mutex
	lists map[membership.ConversationID][]membership.AdministratorInfo
}

func NewRegistry(c *config.Config, db *db.Database) *Registry {
	return &Registry{
		log:   c.Logger("admins"),
		db:    db,
		lists: make(map[membership.ConversationID][]membership.AdministratorInfo),
	}
}

func storageKey(conversation membership.ConversationID) string {
	return fmt.Sprintf("adm%d", -int64(conversation))
}

func sortAdmins(admins []membership.AdministratorInfo) {
	slices.SortFunc(admins, func(a, b membership.AdministratorInfo) bool {
		return a.User < b.User
	})
}

// Get returns a copy of the in-memory list for a conversation, so callers
// can hold it across later registry mutations. It does not consult
// persistence or the remote side.
func (r *Registry) Get(conversation membership.ConversationID) ([]membership.AdministratorInfo, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	admins, ok := r.lists[conversation]
	if !ok {
		return nil, false
	}
	return append([]membership.AdministratorInfo{}, admins...), true
}

// Load pulls the persisted list for a conversation into memory. Must be
// called within a transaction. Returns found=false when nothing was
// persisted.
func (r *Registry) Load(conversation membership.ConversationID) ([]membership.AdministratorInfo, bool, error) {
	value, found, err := r.db.KVGet(storageKey(conversation))
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	var admins []membership.AdministratorInfo
	if err := json.Unmarshal(value, &admins); err != nil {
		return nil, false, fmt.Errorf("admins: corrupt list for conversation %d: %w", conversation, err)
	}
	sortAdmins(admins)
	r.lock.Lock()
	r.lists[conversation] = admins
	r.lock.Unlock()
	return append([]membership.AdministratorInfo{}, admins...), true, nil
}

// Set replaces the whole list for a conversation, sorting it first, and
// persists it. Must be called within a transaction. Returns whether the
// stored list actually changed.
func (r *Registry) Set(conversation membership.ConversationID, admins []membership.AdministratorInfo) (bool, error) {
	sorted := append([]membership.AdministratorInfo{}, admins...)
	sortAdmins(sorted)
	r.lock.Lock()
	if existing, ok := r.lists[conversation]; ok && slices.Equal(existing, sorted) {
		r.lock.Unlock()
		return false, nil
	}
	r.lists[conversation] = sorted
	r.lock.Unlock()
	if err := r.persist(conversation, sorted); err != nil {
		return false, err
	}
	return true, nil
}

// Erase forgets the list for a conversation, both in memory and on disk.
// Must be called within a transaction.
func (r *Registry) Erase(conversation membership.ConversationID) error {
	r.lock.Lock()
	delete(r.lists, conversation)
	r.lock.Unlock()
	return r.db.KVErase(storageKey(conversation))
}

// SpeculativeUpdate patches the list in place when a status change affects
// the administrator projection of a user, persisting the result. It is a
// no-op when no list is loaded for the conversation or when none of the
// projected fields changed. Must be called within a transaction. Returns
// whether the list changed.
func (r *Registry) SpeculativeUpdate(conversation membership.ConversationID, user membership.UserID, oldStatus, newStatus membership.Status) (bool, error) {
	wasAdmin := membership.IsAdministratorMember(oldStatus)
	isAdmin := membership.IsAdministratorMember(newStatus)
	_, wasCreator := oldStatus.(membership.Creator)
	_, isCreator := newStatus.(membership.Creator)
	if wasAdmin == isAdmin && membership.Rank(oldStatus) == membership.Rank(newStatus) && wasCreator == isCreator {
		return false, nil
	}

	r.lock.Lock()
	admins, ok := r.lists[conversation]
	if !ok {
		r.lock.Unlock()
		return false, nil
	}
	idx := slices.IndexFunc(admins, func(a membership.AdministratorInfo) bool {
		return a.User == user
	})
	switch {
	case isAdmin && idx < 0:
		admins = append(admins, membership.AdministratorInfo{User: user, Rank: membership.Rank(newStatus), IsCreator: isCreator})
		sortAdmins(admins)
	case isAdmin:
		admins[idx].Rank = membership.Rank(newStatus)
		admins[idx].IsCreator = isCreator
	case idx >= 0:
		admins = append(admins[:idx], admins[idx+1:]...)
	default:
		r.lock.Unlock()
		return false, nil
	}
	r.lists[conversation] = admins
	snapshot := append([]membership.AdministratorInfo{}, admins...)
	r.lock.Unlock()

	if err := r.persist(conversation, snapshot); err != nil {
		return false, err
	}
	r.log.Debugf("administrator list for conversation %d now has %d entries", conversation, len(snapshot))
	return true, nil
}

func (r *Registry) persist(conversation membership.ConversationID, admins []membership.AdministratorInfo) error {
	value, err := json.Marshal(admins)
	if err != nil {
		return err
	}
	return r.db.KVSet(storageKey(conversation), value)
}

// Hash computes the revalidation hash of an administrator list. Two lists
// with the same users produce the same hash regardless of insertion order.
func Hash(admins []membership.AdministratorInfo) uint64 {
	sorted := append([]membership.AdministratorInfo{}, admins...)
	sortAdmins(sorted)
	d := xxhash.New()
	var buf [8]byte
	for _, a := range sorted {
		binary.LittleEndian.PutUint64(buf[:], uint64(a.User))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}
