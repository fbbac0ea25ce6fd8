package schedule

import (
	"fmt"

	"tg-checkin-bot/internal/domain"
)

const daySeconds = 24 * 60 * 60

// randomTimeInSlot выбирает равномерное случайное время внутри окна с
// секундным разрешением. Окно через полночь (start >= end) покрывает
// вечерний хвост и утро следующего дня, результат сворачивается в сутки.
// intn подставляется в тестах.
func randomTimeInSlot(slot domain.TimeSlot, intn func(int) int) (hour, minute, second int) {
	start := slot.StartSeconds()
	end := slot.EndSeconds()

	var offset int
	if slot.Wraps() {
		span := (daySeconds - start) + end
		if span <= 0 {
			span = 1
		}
		offset = (start + intn(span)) % daySeconds
	} else {
		span := end - start
		offset = start + intn(span)
	}
	return offset / 3600, (offset % 3600) / 60, offset % 60
}

// slotForTask находит окно задачи. Удалённое окно не ломает задачу:
// берётся первое окно по id.
func (s *Service) slotForTask(task domain.Task, slots []domain.TimeSlot) (domain.TimeSlot, error) {
	if len(slots) == 0 {
		return domain.TimeSlot{}, fmt.Errorf("нет ни одного окна времени")
	}
	for _, slot := range slots {
		if slot.ID == task.SelectedTimeSlotID {
			return slot, nil
		}
	}
	s.log.Warn().
		Int64("task_id", task.ID).
		Int64("slot_id", task.SelectedTimeSlotID).
		Int64("fallback_slot_id", slots[0].ID).
		Msg("окно задачи удалено, используется первое по id")
	return slots[0], nil
}
