// Package course описывает каталог видеоуроков и правила капельной выдачи.
package course

import (
	"fmt"
	"strings"

	"github.com/lessondrip/coursebot/internal/domain/shared"
)

// Lesson - один видеоурок.
type Lesson struct {
	// MediaRef - file_id видео, уже загруженного в Telegram.
	MediaRef string
	Caption  string
}

// IsValid сообщает, можно ли отправить урок.
func (l Lesson) IsValid() bool {
	return strings.TrimSpace(l.MediaRef) != ""
}

// defaultCaptions - подписи первых уроков курса.
var defaultCaptions = []string{
	"🎥 Урок 1: Подготовка ногтевой пластины",
	"🎥 Урок 2: Нанесение базы и цвета",
	"🎥 Урок 3: Финишное покрытие и уход",
}

// DefaultCaption возвращает подпись урока с номером n (с единицы),
// если для него не задана своя.
func DefaultCaption(n int) string {
	if n >= 1 && n <= len(defaultCaptions) {
		return defaultCaptions[n-1]
	}
	return fmt.Sprintf("🎥 Урок %d", n)
}

// WelcomeCaption - подпись бесплатного вступительного видео.
const WelcomeCaption = "🎬 Добро пожаловать! Это бесплатное вступление."

// Catalog - упорядоченный неизменяемый список платных уроков
// и бесплатное вступительное видео.
type Catalog struct {
	welcome Lesson
	lessons []Lesson
}

// NewCatalog строит каталог. Уроки без MediaRef отбрасываются, порядок
// остальных сохраняется. Пустой каталог допустим: активация тогда не
// отправляет видео, а капельная выдача ничего не делает.
func NewCatalog(welcome Lesson, lessons []Lesson) *Catalog {
	filtered := make([]Lesson, 0, len(lessons))
	for _, l := range lessons {
		if l.IsValid() {
			filtered = append(filtered, l)
		}
	}
	if welcome.Caption == "" {
		welcome.Caption = WelcomeCaption
	}
	return &Catalog{welcome: welcome, lessons: filtered}
}

// Welcome возвращает вступительное видео.
func (c *Catalog) Welcome() Lesson {
	return c.welcome
}

// Len возвращает число уроков после фильтрации.
func (c *Catalog) Len() int {
	return len(c.lessons)
}

// Lesson возвращает урок по индексу.
func (c *Catalog) Lesson(index int) (Lesson, bool) {
	if index < 0 || index >= len(c.lessons) {
		return Lesson{}, false
	}
	return c.lessons[index], true
}

// Lessons возвращает копию списка уроков.
func (c *Catalog) Lessons() []Lesson {
	out := make([]Lesson, len(c.lessons))
	copy(out, c.lessons)
	return out
}

// Validate проверяет, что каталогом можно пользоваться.
func (c *Catalog) Validate() error {
	if !c.welcome.IsValid() {
		return shared.WrapError("course", "Validate", shared.ErrEmptyValue, "welcome video is not set", nil)
	}
	if len(c.lessons) == 0 {
		return shared.ErrEmptyCatalog
	}
	return nil
}
