package utils

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WorkerPool runs jobs on a bounded number of goroutines and spaces job
// starts by at least rateLimitMs.
type WorkerPool struct {
	maxWorkers int
	semaphore  chan struct{}
	limiter    *rate.Limiter
	wg         sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool with the given concurrency and rate limit.
func NewWorkerPool(maxWorkers, rateLimitMs int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	limit := rate.Inf
	if rateLimitMs > 0 {
		limit = rate.Every(time.Duration(rateLimitMs) * time.Millisecond)
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		semaphore:  make(chan struct{}, maxWorkers),
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Submit enqueues a job. It blocks while all workers are busy and returns
// false without running the job if ctx is done first. An accepted job
// always runs, with ctx already done if it was cancelled while the job
// waited for its start slot.
func (wp *WorkerPool) Submit(ctx context.Context, job func(ctx context.Context)) bool {
	select {
	case wp.semaphore <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		_ = wp.limiter.Wait(ctx)
		job(ctx)
	}()
	return true
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// URLSet is a thread-safe set of store URLs. Keys are trimmed and compared
// without a trailing slash.
type URLSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewURLSet creates an empty URLSet.
func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

func urlKey(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

// Add returns true if the URL was newly added, false if already present or blank.
func (s *URLSet) Add(url string) bool {
	key := urlKey(url)
	if key == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Contains returns true if the URL has already been added.
func (s *URLSet) Contains(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[urlKey(url)]
	return exists
}

// Size returns the number of unique URLs tracked.
func (s *URLSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
