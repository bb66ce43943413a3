package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, title, message string) error {
	return m.Called(ctx, title, message).Error(0)
}

func (m *mockSender) Name() string { return "mock" }

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func (m *mockLimiter) Wait(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestNotifier_FiltersEvents(t *testing.T) {
	s := new(mockSender)
	s.On("Send", mock.Anything, "Bonding complete", "sovereign 4").Return(nil).Once()
	n := NewNotifier([]Sender{s}, []string{"bonding_complete", " unwound "}, discard())

	require.NoError(t, n.Notify(context.Background(), "bonding_complete", "Bonding complete", "sovereign 4"))
	require.NoError(t, n.Notify(context.Background(), "pledged", "Pledged", "ignored"))
	s.AssertExpectations(t)
	assert.True(t, n.Enabled())
}

func TestNotifier_OneFailingSenderDoesNotStopOthers(t *testing.T) {
	bad, good := new(mockSender), new(mockSender)
	bad.On("Send", mock.Anything, "t", "m").Return(errors.New("boom"))
	good.On("Send", mock.Anything, "t", "m").Return(nil)

	err := NewNotifier([]Sender{bad, good}, nil, discard()).NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	good.AssertExpectations(t)
}

func TestNotifier_RateLimited(t *testing.T) {
	s := new(mockSender)
	rl := new(mockLimiter)
	rl.On("Allow", mock.Anything, "notify:bonding_failed", 2, time.Minute).Return(false, nil)

	n := NewNotifier([]Sender{s}, nil, discard()).WithRateLimit(rl, 2, time.Minute)
	require.NoError(t, n.Notify(context.Background(), "bonding_failed", "t", "m"))
	s.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42").WithAPIBase(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Unwound", "sovereign 9"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Unwound*\nsovereign 9", got["text"])
}

func TestDiscordSender_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 429")
}

func TestDiscordSender_Embed(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	d.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, d.Send(context.Background(), "Bonding failed", "sovereign 7: bonding_failed"))

	require.Len(t, got.Embeds, 1)
	e := got.Embeds[0]
	assert.Equal(t, "sovereignd", got.Username)
	assert.Equal(t, "Bonding failed", e.Title)
	assert.Equal(t, "sovereign 7: bonding_failed", e.Description)
	assert.Equal(t, colorAlarm, e.Color)
	assert.Equal(t, "2026-03-01T12:00:00Z", e.Timestamp)
}

func TestEmbedColorAndTruncate(t *testing.T) {
	assert.Equal(t, colorOK, embedColor("Bonding complete"))
	assert.Equal(t, colorAlarm, embedColor("Emergency unlock"))
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abcd", 3))
}
