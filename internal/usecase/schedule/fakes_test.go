package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-checkin-bot/internal/domain"
)

type taskRunRecord struct {
	taskID int64
	status string
}

type fakeTasks struct {
	mu        sync.Mutex
	tasks     []domain.Task
	runs      []taskRunRecord
	schedules map[int64]domain.ScheduledJob
}

func (f *fakeTasks) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return append([]domain.Task(nil), f.tasks...), nil
}

func (f *fakeTasks) FindTask(ctx context.Context, userTelegramID int64, identifier string) (domain.Task, error) {
	for _, task := range f.tasks {
		if task.UserTelegramID == userTelegramID && task.Target.Identifier() == identifier {
			return task, nil
		}
	}
	return domain.Task{}, errors.New("task not found")
}

func (f *fakeTasks) UpdateTaskRun(ctx context.Context, taskID int64, status string, at time.Time) error {
	f.mu.Lock()
	f.runs = append(f.runs, taskRunRecord{taskID: taskID, status: status})
	f.mu.Unlock()
	return nil
}

func (f *fakeTasks) UpdateTaskSchedule(ctx context.Context, taskID int64, hour, minute, second int, date string) error {
	f.mu.Lock()
	if f.schedules == nil {
		f.schedules = make(map[int64]domain.ScheduledJob)
	}
	f.schedules[taskID] = domain.ScheduledJob{Hour: hour, Minute: minute, Second: second, Date: date}
	f.mu.Unlock()
	return nil
}

type fakeUsers struct {
	users []domain.User
}

func (f *fakeUsers) ListUsers(ctx context.Context) ([]domain.User, error) { return f.users, nil }

func (f *fakeUsers) GetUserByTelegramID(ctx context.Context, telegramID int64) (domain.User, error) {
	for _, u := range f.users {
		if u.TelegramID == telegramID {
			return u, nil
		}
	}
	return domain.User{}, errors.New("user not found")
}

func (f *fakeUsers) UpsertUser(ctx context.Context, user domain.User) (domain.User, error) {
	return user, nil
}

func (f *fakeUsers) UpdateUserStatus(ctx context.Context, telegramID int64, status string) error {
	return nil
}

type fakeSlots struct {
	slots []domain.TimeSlot
}

func (f *fakeSlots) ListTimeSlots(ctx context.Context) ([]domain.TimeSlot, error) {
	return f.slots, nil
}

type fakeJobs struct {
	mu   sync.Mutex
	rows map[string]domain.ScheduledJob

	deletedAll int
}

func (f *fakeJobs) ListJobs(ctx context.Context, date string) ([]domain.ScheduledJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ScheduledJob
	for _, job := range f.rows {
		if job.Date == date {
			out = append(out, job)
		}
	}
	return out, nil
}

func (f *fakeJobs) SaveJob(ctx context.Context, job domain.ScheduledJob) error {
	f.mu.Lock()
	if f.rows == nil {
		f.rows = make(map[string]domain.ScheduledJob)
	}
	f.rows[job.JobID] = job
	f.mu.Unlock()
	return nil
}

func (f *fakeJobs) DeleteJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	delete(f.rows, jobID)
	f.mu.Unlock()
	return nil
}

func (f *fakeJobs) DeleteAllJobs(ctx context.Context) error {
	f.mu.Lock()
	f.rows = map[string]domain.ScheduledJob{}
	f.deletedAll++
	f.mu.Unlock()
	return nil
}

type executeCall struct {
	sessionName string
	strategyID  string
	target      string
}

type fakeExecutor struct {
	mu     sync.Mutex
	result domain.Result
	calls  []executeCall
}

func (f *fakeExecutor) Execute(ctx context.Context, sessionName string, target domain.TargetRef, strategyID string, params domain.StrategyParams) domain.Result {
	f.mu.Lock()
	f.calls = append(f.calls, executeCall{sessionName: sessionName, strategyID: strategyID, target: target.Identifier()})
	f.mu.Unlock()
	return f.result
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeCache ведёт себя как настоящий суточный guard: повторный Once по
// тому же ключу не выполняет функцию.
type fakeCache struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (f *fakeCache) Once(key string, ttl time.Duration, fn func() error) error {
	f.mu.Lock()
	if f.keys == nil {
		f.keys = make(map[string]bool)
	}
	if f.keys[key] {
		f.mu.Unlock()
		return nil
	}
	f.keys[key] = true
	f.mu.Unlock()
	if err := fn(); err != nil {
		f.mu.Lock()
		delete(f.keys, key)
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeCache) Set(key string, value []byte, ttl time.Duration) error { return nil }

func (f *fakeCache) Get(key string) ([]byte, error) { return nil, errors.New("not found") }

type fakeCheckins struct {
	mu      sync.Mutex
	entries []domain.CheckinLogEntry
}

func (f *fakeCheckins) AppendCheckinLog(ctx context.Context, entry domain.CheckinLogEntry) error {
	f.mu.Lock()
	f.entries = append(f.entries, entry)
	f.mu.Unlock()
	return nil
}

func (f *fakeCheckins) ListRecentCheckins(ctx context.Context, limit int) ([]domain.CheckinLogEntry, error) {
	return f.entries, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	failures []domain.CheckinLogEntry
	plans    [][]string
}

func (f *fakeNotifier) NotifyFailure(entry domain.CheckinLogEntry) {
	f.mu.Lock()
	f.failures = append(f.failures, entry)
	f.mu.Unlock()
}

func (f *fakeNotifier) NotifyDailyPlan(lines []string) {
	f.mu.Lock()
	f.plans = append(f.plans, lines)
	f.mu.Unlock()
}

type fakeSessions struct {
	connected map[string]struct{}
}

func (f *fakeSessions) ConnectedSessions(ctx context.Context) (map[string]struct{}, error) {
	if f.connected == nil {
		return map[string]struct{}{}, nil
	}
	return f.connected, nil
}

type scheduleFakes struct {
	tasks    *fakeTasks
	users    *fakeUsers
	slots    *fakeSlots
	jobs     *fakeJobs
	executor *fakeExecutor
	cache    *fakeCache
	checkins *fakeCheckins
	notifier *fakeNotifier
	sessions *fakeSessions
}

func (f *scheduleFakes) fill() {
	if f.tasks == nil {
		f.tasks = &fakeTasks{}
	}
	if f.users == nil {
		f.users = &fakeUsers{}
	}
	if f.slots == nil {
		f.slots = &fakeSlots{slots: []domain.TimeSlot{{ID: 1, StartHour: 9, EndHour: 10}}}
	}
	if f.jobs == nil {
		f.jobs = &fakeJobs{}
	}
	if f.executor == nil {
		f.executor = &fakeExecutor{result: domain.Result{Success: true, Message: "签到成功"}}
	}
	if f.cache == nil {
		f.cache = &fakeCache{}
	}
	if f.checkins == nil {
		f.checkins = &fakeCheckins{}
	}
	if f.notifier == nil {
		f.notifier = &fakeNotifier{}
	}
	if f.sessions == nil {
		f.sessions = &fakeSessions{}
	}
}

func newTestService(t *testing.T, f *scheduleFakes) *Service {
	t.Helper()
	f.fill()
	s := New(Config{Workers: 2, RescheduleHour: 1, Location: time.UTC}, Deps{
		Tasks:    f.tasks,
		Users:    f.users,
		Slots:    f.slots,
		Jobs:     f.jobs,
		Executor: f.executor,
		Cache:    f.cache,
		Checkins: f.checkins,
		Notifier: f.notifier,
		Sessions: f.sessions,
		Log:      zerolog.Nop(),
	})
	return s
}
