package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/names-scraper/pkg/model"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_Load(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "test")
	ctx := context.Background()

	mock.ExpectHGetAll("test:progress:meta").SetVal(map[string]string{
		"total_pages:male": "120",
		"records:male":     "30",
		"total_records":    "30",
		"last_updated":     "2024-05-01T10:00:00Z",
	})
	mock.ExpectSMembers("test:progress:male:completed").SetVal([]string{"3", "1", "2"})
	mock.ExpectSMembers("test:progress:female:completed").SetVal([]string{})

	state, err := store.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, state.Categories[model.Male].CompletedPages)
	assert.Equal(t, 120, state.Categories[model.Male].TotalPages)
	assert.Equal(t, 30, state.TotalRecords)
	assert.NotContains(t, state.Categories, model.Female)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_LoadCorruptMember(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "test")

	mock.ExpectHGetAll("test:progress:meta").SetVal(map[string]string{})
	mock.ExpectSMembers("test:progress:male:completed").SetVal([]string{"x"})

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestRedisStore_LoadError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "test")

	mock.ExpectHGetAll("test:progress:meta").SetErr(errors.New("connection refused"))

	_, err := store.Load(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis hgetall")
}

func TestRedisStore_Save(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "test")

	updated := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	state := NewState()
	state.Category(model.Male).CompletedPages = []int{1, 2}
	state.Category(model.Male).Records = 20
	state.TotalRecords = 20
	state.LastUpdated = updated

	mock.ExpectTxPipeline()
	mock.ExpectSAdd("test:progress:male:completed", 1, 2).SetVal(2)
	mock.ExpectHSet("test:progress:meta",
		"total_records", 20,
		"last_updated", updated.Format(time.RFC3339Nano),
		"total_pages:male", 0,
		"records:male", 20,
	).SetVal(4)
	mock.ExpectTxPipelineExec()

	require.NoError(t, store.Save(context.Background(), state))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Clear(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "")

	mock.ExpectDel("names:progress:meta", "names:progress:male:completed", "names:progress:female:completed").SetVal(3)

	require.NoError(t, store.Clear(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
