package command

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lessondrip/coursebot/internal/domain/course"
	"github.com/lessondrip/coursebot/internal/domain/entitlement"
	"github.com/lessondrip/coursebot/internal/domain/outbound"
	"github.com/lessondrip/coursebot/internal/domain/payment"
	"github.com/lessondrip/coursebot/internal/domain/shared"
	"github.com/lessondrip/coursebot/internal/infrastructure/persistence/memory"
	"github.com/lessondrip/coursebot/pkg/timeutil"
)

const (
	testUser  shared.TelegramID = 42
	otherUser shared.TelegramID = 7
	testChat  shared.ChatID     = 42
)

var activatedAt = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type routerFixture struct {
	handler *RouteUpdateHandler
	store   entitlement.Store
	clock   *timeutil.ManualClock
}

func newTestCatalog() *course.Catalog {
	return course.NewCatalog(
		course.Lesson{MediaRef: "welcome", Caption: "intro"},
		[]course.Lesson{
			{MediaRef: "v1", Caption: "one"},
			{MediaRef: "v2", Caption: "two"},
			{MediaRef: "v3", Caption: "three"},
		},
	)
}

func newRouter(t *testing.T, store entitlement.Store) *routerFixture {
	t.Helper()

	clock := timeutil.NewManualClock(activatedAt)
	if store == nil {
		mem, err := memory.NewStore(memory.Config{MaxUsers: 16, Clock: clock})
		require.NoError(t, err)
		store = mem
	}

	checkout, err := payment.NewCheckout("https://pay.example/?order={USER_ID}&x=1")
	require.NoError(t, err)

	h := NewRouteUpdateHandler(store, newTestCatalog(), payment.NewActivation(""), checkout, RouteUpdateHandlerConfig{
		BotUsername: "@LessonBot",
		Clock:       clock,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	return &routerFixture{handler: h, store: store, clock: clock}
}

func (f *routerFixture) send(t *testing.T, from shared.TelegramID, text string) *RouteUpdateResult {
	t.Helper()
	res, err := f.handler.Handle(context.Background(), RouteUpdateCommand{
		UpdateID: 1,
		ChatID:   shared.ChatID(from),
		SenderID: from,
		Text:     text,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func mediaRefs(intents []outbound.Intent) []string {
	refs := make([]string, 0, len(intents))
	for _, in := range intents {
		if in.Kind == outbound.KindVideo {
			refs = append(refs, in.MediaRef)
		}
	}
	return refs
}

// ══════════════════════════════════════════════════════════════════════════════
// COLD START
// ══════════════════════════════════════════════════════════════════════════════

func TestRouteUpdate_ColdStart(t *testing.T) {
	f := newRouter(t, nil)

	res := f.send(t, testUser, "/start")

	assert.Equal(t, OutcomeColdStart, res.Outcome)
	require.Len(t, res.Intents, 2)
	assert.Equal(t, outbound.Video(testChat, "welcome", "intro"), res.Intents[0])
	assert.Equal(t, outbound.KindText, res.Intents[1].Kind)
	assert.Contains(t, res.Intents[1].Text, "https://pay.example/?order=42&amp;x=1")

	_, err := f.store.Get(context.Background(), testUser)
	assert.ErrorIs(t, err, shared.ErrEntitlementNotFound)
}

func TestRouteUpdate_ColdStartOnForeignOrMalformedParam(t *testing.T) {
	tests := []string{
		"/start ref_abc",
		"/start paid_",
		"/start paid_12x",
		"/start paid_-5",
		"/start paid_99999999999999999999",
	}

	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			f := newRouter(t, nil)
			res := f.send(t, testUser, text)
			assert.Equal(t, OutcomeColdStart, res.Outcome)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVATION
// ══════════════════════════════════════════════════════════════════════════════

func TestRouteUpdate_Activation(t *testing.T) {
	f := newRouter(t, nil)

	res := f.send(t, testUser, "/start paid_42")

	assert.Equal(t, OutcomeActivated, res.Outcome)
	assert.True(t, res.FirstActivation)
	assert.Equal(t, 2, res.LessonIndex)
	require.Len(t, res.Intents, 4)
	assert.Equal(t, []string{"v1", "v2", "v3"}, mediaRefs(res.Intents))
	assert.Equal(t, outbound.Text(testChat, DefaultMessages().ActivationThanks), res.Intents[3])
	assert.NotContains(t, res.Intents[3].Text, "каждый день")

	rec, err := f.store.Get(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.LastDeliveredIndex)
	assert.True(t, rec.ActivatedAt.Equal(activatedAt))
}

func TestRouteUpdate_ConcurrentActivationGrantsOnce(t *testing.T) {
	f := newRouter(t, nil)

	const attempts = 8
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make(chan *RouteUpdateResult, attempts)
		errs    = make(chan error, attempts)
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(updateID int64) {
			defer wg.Done()
			<-start
			res, err := f.handler.Handle(context.Background(), RouteUpdateCommand{
				UpdateID: updateID,
				ChatID:   testChat,
				SenderID: testUser,
				Text:     "/start paid_42",
			})
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}(int64(i + 1))
	}

	close(start)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	first := 0
	for res := range results {
		assert.Equal(t, OutcomeActivated, res.Outcome)
		if res.FirstActivation {
			first++
		}
	}
	assert.Equal(t, 1, first)

	rec, err := f.store.Get(context.Background(), testUser)
	require.NoError(t, err)
	assert.True(t, rec.ActivatedAt.Equal(activatedAt))
}

func TestRouteUpdate_ReactivationKeepsActivationTime(t *testing.T) {
	f := newRouter(t, nil)
	f.send(t, testUser, "/start paid_42")

	f.clock.Advance(5 * timeutil.Day)
	res := f.send(t, testUser, "/start paid_42")

	assert.Equal(t, OutcomeActivated, res.Outcome)
	assert.False(t, res.FirstActivation)
	assert.Len(t, mediaRefs(res.Intents), 3)

	rec, err := f.store.Get(context.Background(), testUser)
	require.NoError(t, err)
	assert.True(t, rec.ActivatedAt.Equal(activatedAt))
}

func TestRouteUpdate_ActivationMismatch(t *testing.T) {
	f := newRouter(t, nil)

	res := f.send(t, otherUser, "/start paid_42")

	assert.Equal(t, OutcomeActivationMismatch, res.Outcome)
	require.Len(t, res.Intents, 1)
	assert.Equal(t, DefaultMessages().ActivationMismatch, res.Intents[0].Text)

	for _, id := range []shared.TelegramID{testUser, otherUser} {
		_, err := f.store.Get(context.Background(), id)
		assert.ErrorIs(t, err, shared.ErrEntitlementNotFound)
	}
}

func TestRouteUpdate_BotMention(t *testing.T) {
	f := newRouter(t, nil)

	res := f.send(t, testUser, "/start@lessonbot paid_42")
	assert.Equal(t, OutcomeActivated, res.Outcome)

	g := newRouter(t, nil)
	res = g.send(t, testUser, "/start@OtherBot paid_42")
	assert.Equal(t, OutcomeHint, res.Outcome)
}

// ══════════════════════════════════════════════════════════════════════════════
// DRIP
// ══════════════════════════════════════════════════════════════════════════════

func TestRouteUpdate_HintWithoutEntitlement(t *testing.T) {
	f := newRouter(t, nil)

	res := f.send(t, testUser, "hello")

	assert.Equal(t, OutcomeHint, res.Outcome)
	require.Len(t, res.Intents, 1)
	assert.Equal(t, DefaultMessages().StartHint, res.Intents[0].Text)
}

func TestRouteUpdate_DripDeliversAtMostOneLesson(t *testing.T) {
	f := newRouter(t, nil)
	ctx := context.Background()

	_, _, err := f.store.CreateIfAbsent(ctx, testUser, activatedAt)
	require.NoError(t, err)

	res := f.send(t, testUser, "hi")
	assert.Equal(t, OutcomeDripDelivered, res.Outcome)
	assert.Equal(t, []string{"v1"}, mediaRefs(res.Intents))
	assert.Equal(t, 0, res.LessonIndex)

	res = f.send(t, testUser, "hi again")
	assert.Equal(t, OutcomeDripIdle, res.Outcome)
	assert.Empty(t, res.Intents)

	f.clock.Advance(timeutil.Day + time.Minute)
	res = f.send(t, testUser, "next")
	assert.Equal(t, []string{"v2"}, mediaRefs(res.Intents))
	assert.Equal(t, 1, res.LessonIndex)

	f.clock.Advance(timeutil.Day)
	res = f.send(t, testUser, "next")
	assert.Equal(t, []string{"v3"}, mediaRefs(res.Intents))
	assert.Equal(t, 2, res.LessonIndex)

	res = f.send(t, testUser, "next")
	assert.Equal(t, OutcomeDripIdle, res.Outcome)

	rec, err := f.store.Get(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.LastDeliveredIndex)
}

func TestRouteUpdate_DripSkipsMissedDays(t *testing.T) {
	f := newRouter(t, nil)
	_, _, err := f.store.CreateIfAbsent(context.Background(), testUser, activatedAt)
	require.NoError(t, err)

	f.clock.Advance(2*timeutil.Day + time.Hour)
	res := f.send(t, testUser, "back after a while")
	assert.Equal(t, []string{"v3"}, mediaRefs(res.Intents))

	res = f.send(t, testUser, "and again")
	assert.Equal(t, OutcomeDripIdle, res.Outcome)
}

func TestRouteUpdate_DripAfterActivationIsIdle(t *testing.T) {
	f := newRouter(t, nil)
	f.send(t, testUser, "/start paid_42")

	f.clock.Advance(30 * timeutil.Day)
	res := f.send(t, testUser, "anything new?")

	assert.Equal(t, OutcomeDripIdle, res.Outcome)
	assert.Empty(t, res.Intents)
}

// ══════════════════════════════════════════════════════════════════════════════
// IGNORED EVENTS AND ERRORS
// ══════════════════════════════════════════════════════════════════════════════

func TestRouteUpdate_Ignored(t *testing.T) {
	f := newRouter(t, nil)

	tests := []struct {
		name string
		cmd  RouteUpdateCommand
	}{
		{"empty text", RouteUpdateCommand{ChatID: testChat, SenderID: testUser}},
		{"no sender", RouteUpdateCommand{ChatID: testChat, Text: "/start"}},
		{"no chat", RouteUpdateCommand{SenderID: testUser, Text: "/start"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.handler.Handle(context.Background(), tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, OutcomeIgnored, res.Outcome)
			assert.Empty(t, res.Intents)
		})
	}
}

type failingStore struct {
	err error
}

func (s failingStore) Get(context.Context, entitlement.UserID) (*entitlement.Record, error) {
	return nil, s.err
}

func (s failingStore) CreateIfAbsent(context.Context, entitlement.UserID, time.Time) (*entitlement.Record, bool, error) {
	return nil, false, s.err
}

func (s failingStore) Advance(context.Context, entitlement.UserID, int) (*entitlement.Record, error) {
	return nil, s.err
}

func (s failingStore) Lock(context.Context, entitlement.UserID) (func(), error) {
	return func() {}, nil
}

func TestRouteUpdate_StoreErrors(t *testing.T) {
	boom := errors.New("connection refused")
	f := newRouter(t, failingStore{err: boom})

	for _, text := range []string{"/start paid_42", "hello"} {
		res, err := f.handler.Handle(context.Background(), RouteUpdateCommand{
			ChatID:   testChat,
			SenderID: testUser,
			Text:     text,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.True(t, strings.HasPrefix(err.Error(), "route_update:"))
		assert.Nil(t, res)
	}

	// Cold start never touches the store.
	res := f.send(t, testUser, "/start")
	assert.Equal(t, OutcomeColdStart, res.Outcome)
}

func TestRouteUpdateResult_Batch(t *testing.T) {
	f := newRouter(t, nil)
	res := f.send(t, testUser, "/start")

	batch := res.Batch(77)
	assert.Equal(t, int64(77), batch.UpdateID)
	assert.False(t, batch.Empty())
	assert.Len(t, batch.Intents, 2)
}
