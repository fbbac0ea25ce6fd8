package schedule

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"tg-checkin-bot/internal/domain"
	"tg-checkin-bot/internal/infra/metrics"
)

// SessionSource сообщает, какие сессии сейчас подключены. Планировщик
// живёт в отдельном процессе и спрашивает об этом tgservice.
type SessionSource interface {
	ConnectedSessions(ctx context.Context) (map[string]struct{}, error)
}

// Config — параметры планировщика.
type Config struct {
	Workers          int
	RescheduleHour   int
	RescheduleMinute int
	Location         *time.Location
}

// Service устанавливает cron-задания чек-инов со случайным временем
// внутри окна и выполняет их через пул воркеров.
type Service struct {
	cfg      Config
	tasks    domain.TaskRepo
	users    domain.UserRepo
	slots    domain.SlotRepo
	jobs     domain.JobStore
	executor domain.Executor
	cache    domain.Cache
	checkins domain.CheckinLog
	notifier domain.Notifier
	sessions SessionSource
	log      zerolog.Logger

	intn func(int) int

	cron  *cron.Cron
	queue chan func()
	wg    sync.WaitGroup
	quit  chan struct{}

	mu      sync.Mutex
	entries map[string]cron.EntryID
	planned map[string]domain.ScheduledJob
}

// Deps — зависимости планировщика.
type Deps struct {
	Tasks    domain.TaskRepo
	Users    domain.UserRepo
	Slots    domain.SlotRepo
	Jobs     domain.JobStore
	Executor domain.Executor
	Cache    domain.Cache
	Checkins domain.CheckinLog
	Notifier domain.Notifier
	Sessions SessionSource
	Log      zerolog.Logger
}

// New создаёт планировщик. Cron не запущен до Start.
func New(cfg Config, deps Deps) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 20
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Service{
		cfg:      cfg,
		tasks:    deps.Tasks,
		users:    deps.Users,
		slots:    deps.Slots,
		jobs:     deps.Jobs,
		executor: deps.Executor,
		cache:    deps.Cache,
		checkins: deps.Checkins,
		notifier: deps.Notifier,
		sessions: deps.Sessions,
		log:      deps.Log,
		intn:     rand.Intn,
		cron:     cron.New(cron.WithSeconds(), cron.WithLocation(cfg.Location)),
		queue:    make(chan func(), 256),
		quit:     make(chan struct{}),
		entries:  make(map[string]cron.EntryID),
		planned:  make(map[string]domain.ScheduledJob),
	}
}

// Start поднимает воркеры, восстанавливает задания текущего дня из
// хранилища, делает стартовый reconcile и запускает cron.
func (s *Service) Start(ctx context.Context) error {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	if err := s.restoreJobs(ctx); err != nil {
		s.log.Warn().Err(err).Msg("восстановление заданий из хранилища не удалось")
	}

	rescheduleSpec := fmt.Sprintf("0 %d %d * * *", s.cfg.RescheduleMinute, s.cfg.RescheduleHour)
	if _, err := s.cron.AddFunc(rescheduleSpec, func() {
		s.enqueue(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			s.DailyReschedule(ctx)
		})
	}); err != nil {
		return fmt.Errorf("установка ежедневного пересчёта: %w", err)
	}

	if _, err := s.Reconcile(ctx); err != nil {
		s.log.Warn().Err(err).Msg("стартовый reconcile не удался")
	}
	s.LogScheduledJobs(ctx)

	s.cron.Start()
	s.log.Info().Int("workers", s.cfg.Workers).Msg("планировщик запущен")
	return nil
}

// Stop останавливает cron и дожидается воркеров.
func (s *Service) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	close(s.quit)
	s.wg.Wait()
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case job := <-s.queue:
			job()
		}
	}
}

func (s *Service) enqueue(job func()) {
	select {
	case s.queue <- job:
	default:
		s.log.Warn().Msg("очередь воркеров переполнена, задание выполняется синхронно")
		job()
	}
}

// InstalledJobIDs возвращает отсортированные id установленных заданий.
func (s *Service) InstalledJobIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PlannedJob возвращает запланированное время задания.
func (s *Service) PlannedJob(jobID string) (domain.ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.planned[jobID]
	return job, ok
}

func (s *Service) today() string {
	return time.Now().In(s.cfg.Location).Format("2006-01-02")
}

// restoreJobs поднимает cron-задания из сохранённых строк текущего дня.
// Строки прошлых дат игнорируются: их пересоздаст дневной пересчёт.
func (s *Service) restoreJobs(ctx context.Context) error {
	stored, err := s.jobs.ListJobs(ctx, s.today())
	if err != nil {
		return err
	}
	tasks, err := s.tasks.ListTasks(ctx)
	if err != nil {
		return err
	}
	byJobID := make(map[string]domain.Task, len(tasks))
	for _, task := range tasks {
		byJobID[task.JobID()] = task
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range stored {
		task, ok := byJobID[job.JobID]
		if !ok {
			continue
		}
		if err := s.installLocked(task, job, false); err != nil {
			s.log.Warn().Err(err).Str("job_id", job.JobID).Msg("задание из хранилища не установлено")
		}
	}
	s.log.Info().Int("restored", len(s.entries)).Msg("задания восстановлены из хранилища")
	return nil
}

// installLocked ставит cron-триггер и запоминает задание. persist
// управляет записью в долговечное хранилище.
func (s *Service) installLocked(task domain.Task, job domain.ScheduledJob, persist bool) error {
	userID := task.UserTelegramID
	target := task.Target
	entryID, err := s.cron.AddFunc(job.TriggerSpec(), func() {
		s.enqueue(func() { s.runJob(userID, target) })
	})
	if err != nil {
		return fmt.Errorf("cron-триггер %q: %w", job.TriggerSpec(), err)
	}
	s.entries[job.JobID] = entryID
	s.planned[job.JobID] = job
	metrics.SchedulerJobsInstalled.Set(float64(len(s.entries)))
	if persist {
		if err := s.jobs.SaveJob(context.Background(), job); err != nil {
			s.log.Warn().Err(err).Str("job_id", job.JobID).Msg("задание не сохранено в хранилище")
		}
	}
	return nil
}

func (s *Service) removeLocked(jobID string, dropStored bool) {
	if entryID, ok := s.entries[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, jobID)
		delete(s.planned, jobID)
	}
	metrics.SchedulerJobsInstalled.Set(float64(len(s.entries)))
	if dropStored {
		if err := s.jobs.DeleteJob(context.Background(), jobID); err != nil {
			s.log.Warn().Err(err).Str("job_id", jobID).Msg("задание не удалено из хранилища")
		}
	}
}

// LogScheduledJobs пишет дневной план в лог и шлёт его оператору.
func (s *Service) LogScheduledJobs(ctx context.Context) {
	tasks, err := s.tasks.ListTasks(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("дневной план: задачи недоступны")
		return
	}
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("дневной план: пользователи недоступны")
		return
	}
	nickByID := make(map[int64]string, len(users))
	for _, u := range users {
		nickByID[u.TelegramID] = u.Nickname
	}

	s.mu.Lock()
	lines := make([]string, 0, len(s.planned))
	for _, task := range tasks {
		job, ok := s.planned[task.JobID()]
		if !ok {
			continue
		}
		nick := nickByID[task.UserTelegramID]
		if nick == "" {
			nick = fmt.Sprintf("%d", task.UserTelegramID)
		}
		lines = append(lines, fmt.Sprintf("%s → %s в %02d:%02d:%02d",
			nick, task.Target.Identifier(), job.Hour, job.Minute, job.Second))
	}
	s.mu.Unlock()

	sort.Strings(lines)
	for _, line := range lines {
		s.log.Info().Str("plan", line).Msg("задание дня")
	}
	if s.notifier != nil && len(lines) > 0 {
		s.notifier.NotifyDailyPlan(lines)
	}
}
