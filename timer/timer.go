// A keyed deadline service. Callers schedule a wakeup under a string key and
// receive a callback when the deadline passes. Rescheduling a key replaces
// its deadline and cancelling removes it. One goroutine serves all keys,
// sleeping until the nearest deadline.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/meadow-im/go-roster/clock"
	"github.com/meadow-im/go-roster/config"
	"go.uber.org/zap"
)

type Handler func(key string)

type Service struct {
	log       *zap.SugaredLogger
	clock     clock.Clock
	handler   Handler
	lock      sync.Mutex
	deadlines map[string]uint64
	wake      chan struct{}
	ctx       context.Context
	cancelFn  context.CancelFunc
	wg        sync.WaitGroup
}

func NewService(c *config.Config, cl clock.Clock, h Handler) *Service {
	ctx, cancelFn := context.WithCancel(context.Background())
	return &Service{
		log:       c.Logger("timer"),
		clock:     cl,
		handler:   h,
		deadlines: make(map[string]uint64),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancelFn:  cancelFn,
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
}

func (s *Service) Shutdown() {
	s.cancelFn()
	s.wg.Wait()
}

// ScheduleKeyed arms key to fire at the absolute time atMs, replacing any
// existing deadline for key.
func (s *Service) ScheduleKeyed(key string, atMs uint64) {
	s.lock.Lock()
	s.deadlines[key] = atMs
	s.lock.Unlock()
	s.poke()
}

// ScheduleOnce arms key to fire delayMs from now.
func (s *Service) ScheduleOnce(key string, delayMs uint64) {
	s.ScheduleKeyed(key, s.clock.CurrentTimeMs()+delayMs)
}

func (s *Service) CancelKeyed(key string) {
	s.lock.Lock()
	delete(s.deadlines, key)
	s.lock.Unlock()
	s.poke()
}

func (s *Service) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) loop() {
	for {
		now := s.clock.CurrentTimeMs()
		due, nextAt := s.takeDue(now)
		for _, key := range due {
			s.log.Debugf("firing %s", key)
			s.handler(key)
		}

		if nextAt == 0 {
			select {
			case <-s.ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}

		wait := time.Duration(nextAt-now) * time.Millisecond
		t := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			t.Stop()
			return
		case <-s.wake:
			t.Stop()
		case <-t.C:
		}
	}
}

// takeDue removes and returns every key whose deadline has passed, along
// with the nearest remaining deadline, or zero when none remain.
func (s *Service) takeDue(nowMs uint64) ([]string, uint64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	var due []string
	var nextAt uint64
	for key, at := range s.deadlines {
		if at <= nowMs {
			due = append(due, key)
			delete(s.deadlines, key)
			continue
		}
		if nextAt == 0 || at < nextAt {
			nextAt = at
		}
	}
	return due, nextAt
}
