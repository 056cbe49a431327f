package course

import (
	"time"

	"github.com/lessondrip/coursebot/pkg/timeutil"
)

// NothingDue возвращается NextDueIndex для пустого каталога.
const NothingDue = -1

// NextDueIndex возвращает индекс урока, который должен быть открыт к моменту now:
// число полных суток с активации, ограниченное диапазоном [0, length-1].
// Если now раньше activatedAt, результат 0.
func NextDueIndex(activatedAt, now time.Time, length int) int {
	if length <= 0 {
		return NothingDue
	}
	days := timeutil.ElapsedDays(activatedAt, now)
	if days > length-1 {
		return length - 1
	}
	return days
}

// DueLesson сообщает, нужно ли отправить урок, и какой именно.
// Отправляется только самый дальний открытый урок, пропущенные не догоняются.
func DueLesson(lastDelivered int, activatedAt, now time.Time, length int) (int, bool) {
	next := NextDueIndex(activatedAt, now, length)
	if next == NothingDue || next <= lastDelivered {
		return NothingDue, false
	}
	return next, true
}

// NextUnlockAt возвращает момент открытия следующего урока после lastDelivered
// или false, если весь каталог уже открыт.
func NextUnlockAt(lastDelivered int, activatedAt time.Time, length int) (time.Time, bool) {
	next := lastDelivered + 1
	if next < 0 {
		next = 0
	}
	if next >= length {
		return time.Time{}, false
	}
	return timeutil.DayBoundary(activatedAt, next), true
}
