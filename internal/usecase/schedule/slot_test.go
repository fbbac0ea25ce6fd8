package schedule

import (
	"testing"

	"tg-checkin-bot/internal/domain"
)

func TestRandomTimeInSlotStaysInsideWindow(t *testing.T) {
	slot := domain.TimeSlot{StartHour: 9, StartMinute: 30, EndHour: 11, EndMinute: 0}
	for draw := 0; draw < slot.EndSeconds()-slot.StartSeconds(); draw += 97 {
		d := draw
		h, m, sec := randomTimeInSlot(slot, func(n int) int { return d % n })
		total := h*3600 + m*60 + sec
		if total < slot.StartSeconds() || total >= slot.EndSeconds() {
			t.Fatalf("время %02d:%02d:%02d вне окна", h, m, sec)
		}
	}
}

func TestRandomTimeInSlotWrapsMidnight(t *testing.T) {
	slot := domain.TimeSlot{StartHour: 23, StartMinute: 0, EndHour: 1, EndMinute: 0}
	span := (24*3600 - slot.StartSeconds()) + slot.EndSeconds()

	h, m, sec := randomTimeInSlot(slot, func(n int) int {
		if n != span {
			t.Fatalf("диапазон розыгрыша = %d, ожидался %d", n, span)
		}
		return 0
	})
	if h != 23 || m != 0 || sec != 0 {
		t.Fatalf("нижняя граница окна = %02d:%02d:%02d", h, m, sec)
	}

	h, m, sec = randomTimeInSlot(slot, func(n int) int { return n - 1 })
	if h != 0 || m != 59 || sec != 59 {
		t.Fatalf("верхняя граница окна = %02d:%02d:%02d", h, m, sec)
	}

	// Розыгрыш, попадающий за полночь, сворачивается в утро.
	h, _, _ = randomTimeInSlot(slot, func(n int) int { return 3600 + 30 })
	if h != 0 {
		t.Fatalf("час после полуночи = %d, ожидался 0", h)
	}
}

func TestSlotFallbackToFirstByID(t *testing.T) {
	s := newTestService(t, &scheduleFakes{})
	slots := []domain.TimeSlot{
		{ID: 1, StartHour: 8, EndHour: 9},
		{ID: 2, StartHour: 10, EndHour: 11},
	}
	task := domain.Task{ID: 7, SelectedTimeSlotID: 99}

	slot, err := s.slotForTask(task, slots)
	if err != nil {
		t.Fatalf("slotForTask: %v", err)
	}
	if slot.ID != 1 {
		t.Fatalf("ожидалось первое окно, получено id=%d", slot.ID)
	}

	if _, err := s.slotForTask(task, nil); err == nil {
		t.Fatal("пустой список окон должен быть ошибкой")
	}
}
