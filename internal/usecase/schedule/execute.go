package schedule

import (
	"context"
	"fmt"
	"time"

	"tg-checkin-bot/internal/domain"
)

const (
	executeTimeout = 2 * time.Minute
	onceGuardTTL   = 48 * time.Hour
)

// runJob — сработавший cron-триггер. Суточный guard в Redis гасит
// повторное выполнение той же задачи в тот же день (рестарт процесса,
// дублирующий триггер).
func (s *Service) runJob(userTelegramID int64, target domain.TargetRef) {
	jobID := domain.JobID(userTelegramID, target)
	key := fmt.Sprintf("checkin:%s:%s", jobID, s.today())
	err := s.cache.Once(key, onceGuardTTL, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), executeTimeout)
		defer cancel()
		s.executeTask(ctx, userTelegramID, target, "")
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("суточный guard недоступен, задание пропущено")
	}
}

// ExecuteNow выполняет задачу немедленно, минуя суточный guard: ручной
// запуск — явное действие оператора.
func (s *Service) ExecuteNow(ctx context.Context, req domain.RunNowRequest) domain.Result {
	return s.executeTask(ctx, req.UserTelegramID, req.Target, req.StrategyID)
}

// executeTask перечитывает задачу, выполняет стратегию и фиксирует исход:
// статус задачи, журнал, уведомление о сбое. Сбой выполнения никогда не
// роняет планировщик.
func (s *Service) executeTask(ctx context.Context, userTelegramID int64, target domain.TargetRef, strategyOverride string) domain.Result {
	task, err := s.tasks.FindTask(ctx, userTelegramID, target.Identifier())
	if err != nil {
		s.log.Warn().Err(err).
			Int64("user", userTelegramID).
			Str("target", target.Identifier()).
			Msg("задача исчезла до выполнения")
		return domain.Result{Success: false, Message: "задача не найдена"}
	}

	user, err := s.users.GetUserByTelegramID(ctx, userTelegramID)
	if err != nil {
		user = domain.User{TelegramID: userTelegramID, Nickname: fmt.Sprintf("%d", userTelegramID)}
	}
	sessionName := user.SessionName
	if sessionName == "" {
		sessionName = fmt.Sprintf("session_%d", userTelegramID)
	}
	strategyID := task.StrategyID
	if strategyOverride != "" {
		strategyID = strategyOverride
	}

	res := s.executor.Execute(ctx, sessionName, task.Target, strategyID, task.Params)

	status := "failed"
	if res.Success {
		status = "success"
	}
	now := time.Now().In(s.cfg.Location)
	if err := s.tasks.UpdateTaskRun(ctx, task.ID, status, now); err != nil {
		s.log.Warn().Err(err).Int64("task_id", task.ID).Msg("статус задачи не записан")
	}

	entry := domain.CheckinLogEntry{
		At:           now,
		UserNickname: user.Nickname,
		TargetName:   task.Target.Identifier(),
		Strategy:     strategyID,
		Success:      res.Success,
		Message:      res.Message,
	}
	if err := s.checkins.AppendCheckinLog(ctx, entry); err != nil {
		s.log.Warn().Err(err).Msg("журнал выполнений недоступен")
	}
	if !res.Success && s.notifier != nil {
		s.notifier.NotifyFailure(entry)
	}

	s.log.Info().
		Str("user", user.Nickname).
		Str("target", task.Target.Identifier()).
		Str("strategy", strategyID).
		Bool("success", res.Success).
		Str("message", res.Message).
		Msg("чек-ин выполнен")
	return res
}
