package orchestrator

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// deadlineScheduler is a single priority-queue timer keyed by deployment ID.
// Rescheduling replaces the existing entry and cancellation on a terminal
// transition is a single removal, instead of tracking one timer handle per
// deployment.
type deadlineScheduler struct {
	mu    sync.Mutex
	queue deadlineHeap
	index map[string]*deadlineItem
	wake  chan struct{}
	fire  func(deploymentID string)
	now   func() time.Time
}

type deadlineItem struct {
	id  string
	at  time.Time
	pos int
}

func newDeadlineScheduler(fire func(string)) *deadlineScheduler {
	return &deadlineScheduler{
		index: make(map[string]*deadlineItem),
		wake:  make(chan struct{}, 1),
		fire:  fire,
		now:   time.Now,
	}
}

// Set schedules (or reschedules) the deadline for a deployment.
func (s *deadlineScheduler) Set(deploymentID string, at time.Time) {
	s.mu.Lock()
	if item, ok := s.index[deploymentID]; ok {
		item.at = at
		heap.Fix(&s.queue, item.pos)
	} else {
		item := &deadlineItem{id: deploymentID, at: at}
		heap.Push(&s.queue, item)
		s.index[deploymentID] = item
	}
	s.mu.Unlock()
	s.wakeup()
}

// Cancel removes the deadline for a deployment if one is pending.
func (s *deadlineScheduler) Cancel(deploymentID string) {
	s.mu.Lock()
	if item, ok := s.index[deploymentID]; ok {
		heap.Remove(&s.queue, item.pos)
		delete(s.index, deploymentID)
	}
	s.mu.Unlock()
	s.wakeup()
}

// Next returns the pending deadline for a deployment, if any.
func (s *deadlineScheduler) Next(deploymentID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.index[deploymentID]; ok {
		return item.at, true
	}
	return time.Time{}, false
}

// Run dispatches due deadlines until the context is cancelled.
func (s *deadlineScheduler) Run(ctx context.Context) {
	for {
		due, wait := s.collectDue()
		for _, id := range due {
			s.fire(id)
		}

		var timerC <-chan time.Time
		var timer *time.Timer
		if wait > 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// collectDue pops every expired entry and reports how long to sleep until the
// next one (0 means sleep until woken).
func (s *deadlineScheduler) collectDue() ([]string, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var due []string
	for s.queue.Len() > 0 && !s.queue[0].at.After(now) {
		item := heap.Pop(&s.queue).(*deadlineItem)
		delete(s.index, item.id)
		due = append(due, item.id)
	}
	if s.queue.Len() == 0 {
		return due, 0
	}
	return due, s.queue[0].at.Sub(now)
}

func (s *deadlineScheduler) wakeup() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

type deadlineHeap []*deadlineItem

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *deadlineHeap) Push(x any) {
	item := x.(*deadlineItem)
	item.pos = len(*h)
	*h = append(*h, item)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
