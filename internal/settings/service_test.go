package settings

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/supportbot/internal/db/sqlc"
)

type fakeStore struct {
	row      sqlc.BotSetting
	err      error
	gets     int
	upserted []sqlc.UpsertBotSettingsParams
}

func (f *fakeStore) GetBotSettings(_ context.Context, botName string) (sqlc.BotSetting, error) {
	f.gets++
	if f.err != nil {
		return sqlc.BotSetting{}, f.err
	}
	row := f.row
	row.BotName = botName
	return row, nil
}

func (f *fakeStore) UpsertBotSettings(_ context.Context, arg sqlc.UpsertBotSettingsParams) (sqlc.BotSetting, error) {
	f.upserted = append(f.upserted, arg)
	f.row = sqlc.BotSetting{
		BotName:      arg.BotName,
		Enabled:      arg.Enabled,
		DelaySeconds: arg.DelaySeconds,
		DisplayName:  arg.DisplayName,
	}
	f.err = nil
	return f.row, nil
}

type memoryShared struct {
	values  map[string]BotSettings
	deletes int
}

func (m *memoryShared) Get(_ context.Context, botName string) (BotSettings, bool, error) {
	v, ok := m.values[botName]
	return v, ok, nil
}

func (m *memoryShared) Set(_ context.Context, botName string, value BotSettings, _ time.Duration) error {
	m.values[botName] = value
	return nil
}

func (m *memoryShared) Delete(_ context.Context, botName string) error {
	m.deletes++
	delete(m.values, botName)
	return nil
}

func newTestService(store Store, clock clockwork.Clock, shared SharedCache) *Service {
	return NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), store, Options{
		BotName:  "support",
		TTL:      30 * time.Second,
		Defaults: BotSettings{Enabled: true, DelaySeconds: 120},
		Shared:   shared,
		Clock:    clock,
	})
}

func TestGetCachesWithinTTL(t *testing.T) {
	store := &fakeStore{row: sqlc.BotSetting{Enabled: true, DelaySeconds: 45}}
	clock := clockwork.NewFakeClock()
	svc := newTestService(store, clock, nil)

	got := svc.Get(context.Background())
	assert.True(t, got.Enabled)
	assert.Equal(t, 45*time.Second, got.Delay())

	store.row.DelaySeconds = 10
	clock.Advance(29 * time.Second)
	assert.Equal(t, 45, svc.Get(context.Background()).DelaySeconds)
	assert.Equal(t, 1, store.gets)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 10, svc.Get(context.Background()).DelaySeconds)
	assert.Equal(t, 2, store.gets)
}

func TestGetMissingRowUsesDefaults(t *testing.T) {
	store := &fakeStore{err: pgx.ErrNoRows}
	svc := newTestService(store, clockwork.NewFakeClock(), nil)

	got := svc.Get(context.Background())
	assert.True(t, got.Enabled)
	assert.Equal(t, 120, got.DelaySeconds)
}

func TestGetFailsClosedWithoutCachedValue(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	svc := newTestService(store, clockwork.NewFakeClock(), nil)

	got := svc.Get(context.Background())
	assert.False(t, got.Enabled)
}

func TestGetServesStaleValueOnError(t *testing.T) {
	store := &fakeStore{row: sqlc.BotSetting{Enabled: true, DelaySeconds: 60}}
	clock := clockwork.NewFakeClock()
	svc := newTestService(store, clock, nil)
	require.True(t, svc.Get(context.Background()).Enabled)

	store.err = errors.New("timeout")
	clock.Advance(time.Minute)
	got := svc.Get(context.Background())
	assert.True(t, got.Enabled)
	assert.Equal(t, 60, got.DelaySeconds)
}

func TestSharedCacheIsReadBeforeStore(t *testing.T) {
	store := &fakeStore{row: sqlc.BotSetting{Enabled: true, DelaySeconds: 60}}
	shared := &memoryShared{values: map[string]BotSettings{
		"support": {Enabled: false, DelaySeconds: 5},
	}}
	svc := newTestService(store, clockwork.NewFakeClock(), shared)

	got := svc.Get(context.Background())
	assert.False(t, got.Enabled)
	assert.Equal(t, 0, store.gets)
}

func TestSharedCacheIsFilledFromStore(t *testing.T) {
	store := &fakeStore{row: sqlc.BotSetting{Enabled: true, DelaySeconds: 60}}
	shared := &memoryShared{values: map[string]BotSettings{}}
	svc := newTestService(store, clockwork.NewFakeClock(), shared)

	svc.Get(context.Background())
	assert.Equal(t, BotSettings{Enabled: true, DelaySeconds: 60}, shared.values["support"])
}

func TestUpsertInvalidatesCache(t *testing.T) {
	store := &fakeStore{row: sqlc.BotSetting{Enabled: true, DelaySeconds: 60}}
	shared := &memoryShared{values: map[string]BotSettings{}}
	svc := newTestService(store, clockwork.NewFakeClock(), shared)
	require.True(t, svc.Get(context.Background()).Enabled)

	disabled := false
	updated, err := svc.Upsert(context.Background(), UpsertRequest{Enabled: &disabled})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, 60, updated.DelaySeconds)
	require.Len(t, store.upserted, 1)
	assert.Equal(t, "support", store.upserted[0].BotName)
	assert.Equal(t, 1, shared.deletes)

	assert.False(t, svc.Get(context.Background()).Enabled)
}

func TestDelayZeroWhenNotPositive(t *testing.T) {
	assert.Equal(t, time.Duration(0), BotSettings{DelaySeconds: -1}.Delay())
}
