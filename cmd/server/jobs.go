package main

import (
	"sync"
	"time"

	"fade-backtest/services/engine"
	"fade-backtest/services/report"
)

// Job is a finished backtest kept for later retrieval
type Job struct {
	ID        string
	Status    string
	Symbol    string
	CreatedAt time.Time
	Duration  time.Duration
	Manifest  engine.RunManifest
	Summary   report.TradeSummary
	Levels    []report.LevelStats
	Trades    []engine.Trade
	Events    []engine.Event
}

// JobStore keeps the most recent jobs in memory, evicting the oldest beyond max
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
	max   int
}

func NewJobStore(max int) *JobStore {
	return &JobStore{jobs: make(map[string]*Job), max: max}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		s.order = append(s.order, job.ID)
	}
	s.jobs[job.ID] = job
	for s.max > 0 && len(s.order) > s.max {
		delete(s.jobs, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *JobStore) Get(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
