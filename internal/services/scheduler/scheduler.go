package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/TrackBot/internal/logger"
	"github.com/BearBump/TrackBot/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultFirstDelay = 5 * time.Second

type Job = func(ctx context.Context)

type task struct {
	entry cron.EntryID
	every time.Duration
}

// Scheduler keeps at most one recurring task per chat.
type Scheduler struct {
	log        zerolog.Logger
	c          *cron.Cron
	firstDelay time.Duration
	now        func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	tasks   map[models.ChatID]task
	started bool
}

func New(log zerolog.Logger) *Scheduler {
	log = logger.Component(log, "scheduler")
	cl := cronLogger{log: log}
	return &Scheduler{
		log: log,
		c: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		firstDelay: DefaultFirstDelay,
		now:        time.Now,
		ctx:        context.Background(),
		tasks:      map[models.ChatID]task{},
	}
}

func (s *Scheduler) WithFirstDelay(d time.Duration) *Scheduler {
	if d > 0 {
		s.firstDelay = d
	}
	return s
}

// Start begins dispatching. Jobs receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx = ctx
	s.started = true
	s.c.Start()
	s.log.Info().Int("tasks", len(s.tasks)).Msg("scheduler started")
}

// Stop halts dispatching and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info().Msg("scheduler stopped")
}

// Ensure creates the chat's task unless one already exists.
func (s *Scheduler) Ensure(id models.ChatID, every time.Duration, job Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; ok {
		return false
	}
	s.addLocked(id, every, job)
	return true
}

// Replace swaps the chat's task for a new one with the given interval.
func (s *Scheduler) Replace(id models.ChatID, every time.Duration, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
	s.addLocked(id, every, job)
}

func (s *Scheduler) Cancel(id models.ChatID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Scheduler) Active(id models.ChatID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) addLocked(id models.ChatID, every time.Duration, job Job) {
	if every < time.Second {
		every = time.Second
	}
	run := cron.FuncJob(func() { job(s.jobContext()) })
	entry := s.c.Schedule(newSchedule(s.now(), s.firstDelay, every), run)
	s.tasks[id] = task{entry: entry, every: every}
	s.log.Debug().Int64("chat", int64(id)).Dur("every", every).Msg("task scheduled")
}

func (s *Scheduler) removeLocked(id models.ChatID) bool {
	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	s.c.Remove(t.entry)
	delete(s.tasks, id)
	s.log.Debug().Int64("chat", int64(id)).Msg("task cancelled")
	return true
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

type TaskInfo struct {
	ChatID  models.ChatID `json:"chatId"`
	Every   string        `json:"every"`
	NextRun *time.Time    `json:"nextRun,omitempty"`
}

type Stats struct {
	Tasks []TaskInfo `json:"tasks"`
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Tasks: make([]TaskInfo, 0, len(s.tasks))}
	for id, t := range s.tasks {
		info := TaskInfo{ChatID: id, Every: t.every.String()}
		if e := s.c.Entry(t.entry); e.Valid() && !e.Next.IsZero() {
			next := e.Next.UTC()
			info.NextRun = &next
		}
		st.Tasks = append(st.Tasks, info)
	}
	sort.Slice(st.Tasks, func(i, j int) bool { return st.Tasks[i].ChatID < st.Tasks[j].ChatID })
	return st
}
