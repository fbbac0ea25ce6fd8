package schedule

import (
	"context"
	"fmt"

	"tg-checkin-bot/internal/domain"
	"tg-checkin-bot/internal/infra/metrics"
)

// Report — итог одного reconcile.
type Report struct {
	Installed int               `json:"installed"`
	Removed   int               `json:"removed"`
	Replaced  int               `json:"replaced"`
	Kept      int               `json:"kept"`
	Failures  map[string]string `json:"failures,omitempty"`
}

// Reconcile приводит установленные задания к ожидаемому набору: по
// заданию на каждую задачу, чья сессия подключена. Задачи с отключённой
// сессией молча пропускаются. Для forced-идентификаторов триггер
// заменяется на месте новым случайным временем, остальные задания не
// трогаются; несуществующий forced-id попадает в отчёт, а не роняет
// проход.
func (s *Service) Reconcile(ctx context.Context, forced ...string) (Report, error) {
	if len(forced) > 0 {
		return s.rescheduleForced(ctx, forced)
	}

	rep := Report{Failures: make(map[string]string)}

	tasks, err := s.tasks.ListTasks(ctx)
	if err != nil {
		return rep, fmt.Errorf("список задач: %w", err)
	}
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return rep, fmt.Errorf("список пользователей: %w", err)
	}
	connected, err := s.sessions.ConnectedSessions(ctx)
	if err != nil {
		return rep, fmt.Errorf("статусы сессий: %w", err)
	}
	slots, err := s.slots.ListTimeSlots(ctx)
	if err != nil {
		return rep, fmt.Errorf("окна времени: %w", err)
	}

	sessionByUser := make(map[int64]string, len(users))
	for _, u := range users {
		sessionByUser[u.TelegramID] = u.SessionName
	}

	expected := make(map[string]domain.Task, len(tasks))
	for _, task := range tasks {
		name := sessionByUser[task.UserTelegramID]
		if name == "" {
			name = fmt.Sprintf("session_%d", task.UserTelegramID)
		}
		if _, ok := connected[name]; !ok {
			continue
		}
		expected[task.JobID()] = task
	}

	date := s.today()

	s.mu.Lock()
	defer s.mu.Unlock()

	for jobID := range s.entries {
		if _, ok := expected[jobID]; ok {
			continue
		}
		s.removeLocked(jobID, true)
		rep.Removed++
		metrics.SchedulerReconcileOps.WithLabelValues("removed").Inc()
	}

	for jobID, task := range expected {
		if _, exists := s.entries[jobID]; exists {
			rep.Kept++
			continue
		}
		job, err := s.planJob(ctx, task, slots, date)
		if err != nil {
			rep.Failures[jobID] = err.Error()
			metrics.SchedulerReconcileOps.WithLabelValues("failed").Inc()
			continue
		}
		if err := s.installLocked(task, job, true); err != nil {
			rep.Failures[jobID] = err.Error()
			metrics.SchedulerReconcileOps.WithLabelValues("failed").Inc()
			continue
		}
		rep.Installed++
		metrics.SchedulerReconcileOps.WithLabelValues("installed").Inc()
	}

	s.log.Info().
		Int("installed", rep.Installed).
		Int("removed", rep.Removed).
		Int("kept", rep.Kept).
		Int("failed", len(rep.Failures)).
		Msg("reconcile завершён")
	return rep, nil
}

// rescheduleForced заново разыгрывает время названных заданий, не
// выполняя сверку ожидаемого и установленного наборов: уже стоящие
// задания других задач остаются как есть.
func (s *Service) rescheduleForced(ctx context.Context, forced []string) (Report, error) {
	rep := Report{Failures: make(map[string]string)}

	tasks, err := s.tasks.ListTasks(ctx)
	if err != nil {
		return rep, fmt.Errorf("список задач: %w", err)
	}
	slots, err := s.slots.ListTimeSlots(ctx)
	if err != nil {
		return rep, fmt.Errorf("окна времени: %w", err)
	}
	byJobID := make(map[string]domain.Task, len(tasks))
	for _, task := range tasks {
		byJobID[task.JobID()] = task
	}

	date := s.today()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, jobID := range forced {
		task, known := byJobID[jobID]
		if !known {
			rep.Failures[jobID] = "задача не найдена"
			metrics.SchedulerReconcileOps.WithLabelValues("failed").Inc()
			continue
		}
		if _, installed := s.entries[jobID]; !installed {
			rep.Failures[jobID] = "задание не установлено"
			metrics.SchedulerReconcileOps.WithLabelValues("failed").Inc()
			continue
		}
		s.removeLocked(jobID, true)
		job, err := s.planJob(ctx, task, slots, date)
		if err != nil {
			rep.Failures[jobID] = err.Error()
			metrics.SchedulerReconcileOps.WithLabelValues("failed").Inc()
			continue
		}
		if err := s.installLocked(task, job, true); err != nil {
			rep.Failures[jobID] = err.Error()
			metrics.SchedulerReconcileOps.WithLabelValues("failed").Inc()
			continue
		}
		rep.Replaced++
		metrics.SchedulerReconcileOps.WithLabelValues("rescheduled").Inc()
	}

	s.log.Info().
		Int("replaced", rep.Replaced).
		Int("failed", len(rep.Failures)).
		Msg("точечный пересчёт завершён")
	return rep, nil
}

// DailyReschedule снимает все задания и пересоздаёт их со свежими
// случайными временами. Запускается дневным cron-триггером.
func (s *Service) DailyReschedule(ctx context.Context) {
	s.mu.Lock()
	for jobID := range s.entries {
		s.removeLocked(jobID, false)
	}
	s.mu.Unlock()

	if err := s.jobs.DeleteAllJobs(ctx); err != nil {
		s.log.Warn().Err(err).Msg("очистка хранилища заданий не удалась")
	}

	if _, err := s.Reconcile(ctx); err != nil {
		s.log.Error().Err(err).Msg("дневной пересчёт не удался")
		return
	}
	s.LogScheduledJobs(ctx)
}

// planJob выбирает случайное время в окне задачи и фиксирует его в
// строке задачи.
func (s *Service) planJob(ctx context.Context, task domain.Task, slots []domain.TimeSlot, date string) (domain.ScheduledJob, error) {
	slot, err := s.slotForTask(task, slots)
	if err != nil {
		return domain.ScheduledJob{}, err
	}
	hour, minute, second := randomTimeInSlot(slot, s.intn)
	job := domain.ScheduledJob{
		JobID:  task.JobID(),
		Hour:   hour,
		Minute: minute,
		Second: second,
		Date:   date,
	}
	if err := s.tasks.UpdateTaskSchedule(ctx, task.ID, hour, minute, second, date); err != nil {
		s.log.Warn().Err(err).Int64("task_id", task.ID).Msg("расписание задачи не записано")
	}
	return job, nil
}
