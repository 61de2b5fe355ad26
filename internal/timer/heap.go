package timer

import (
	"container/heap"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrManagerStopped is returned by Schedule after Stop
var ErrManagerStopped = errors.New("timer manager is stopped")

// Task is a callback scheduled for a point in time
type Task struct {
	ID       string
	ExpiryAt time.Time
	Callback func()
	index    int // position in the heap
}

// taskHeap is a min-heap of tasks ordered by ExpiryAt
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].ExpiryAt.Before(h[j].ExpiryAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[0 : n-1]
	return task
}

// Manager runs scheduled tasks on a fixed pool of workers. Due tasks are
// handed to the pool in expiry order.
type Manager struct {
	mu      sync.Mutex
	heap    taskHeap
	tasks   map[string]*Task
	wakeup  chan struct{}
	ready   chan *Task
	workers int
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	executed atomic.Int64
}

// NewManager creates a timer manager with the given number of workers
func NewManager(workers int) *Manager {
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		heap:    make(taskHeap, 0),
		tasks:   make(map[string]*Task),
		wakeup:  make(chan struct{}, 1),
		ready:   make(chan *Task, workers),
		workers: workers,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the scheduler loop and the worker pool
func (m *Manager) Start() {
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}

	m.wg.Add(1)
	go m.run()
}

// Stop stops the scheduler and waits for running callbacks to return.
// Tasks that are still pending are dropped.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
}

// Schedule adds a task, replacing any pending task with the same id
func (m *Manager) Schedule(id string, expiryAt time.Time, callback func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrManagerStopped
	}

	if existing, ok := m.tasks[id]; ok {
		heap.Remove(&m.heap, existing.index)
		delete(m.tasks, id)
	}

	task := &Task{ID: id, ExpiryAt: expiryAt, Callback: callback}
	heap.Push(&m.heap, task)
	m.tasks[id] = task

	// Wake up the scheduler if this is the earliest task
	if m.heap[0] == task {
		select {
		case m.wakeup <- struct{}{}:
		default:
		}
	}

	return nil
}

// Cancel removes a pending task
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return false
	}

	heap.Remove(&m.heap, task.index)
	delete(m.tasks, id)
	return true
}

func (m *Manager) run() {
	defer m.wg.Done()

	for {
		m.mu.Lock()
		var due *Task
		wait := 24 * time.Hour
		if m.heap.Len() > 0 {
			wait = time.Until(m.heap[0].ExpiryAt)
			if wait <= 0 {
				due = heap.Pop(&m.heap).(*Task)
				delete(m.tasks, due.ID)
			}
		}
		m.mu.Unlock()

		if due != nil {
			select {
			case m.ready <- due:
			case <-m.stopCh:
				return
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-m.wakeup:
			timer.Stop()
		case <-m.stopCh:
			timer.Stop()
			return
		}
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()

	for {
		select {
		case task := <-m.ready:
			task.Callback()
			m.executed.Add(1)
		case <-m.stopCh:
			return
		}
	}
}

// Stats returns statistics about the timer manager
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		ScheduledTasks: len(m.tasks),
		Workers:        m.workers,
		Executed:       m.executed.Load(),
	}
}

// Stats contains statistics about the timer manager
type Stats struct {
	ScheduledTasks int
	Workers        int
	Executed       int64
}
