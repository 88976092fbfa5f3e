//go:build integration

package idempotency

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oagudo/newsletter/internal/testinfra"
	"github.com/oagudo/newsletter/pkg/store"
)

// raceDo runs concurrent Do calls for one key and checks that exactly one
// of them performed the work and everyone else got the stored response.
func raceDo(t *testing.T, db *sql.DB, dialect store.SQLDialect) {
	t.Helper()
	ctx := context.Background()
	dbCtx := store.NewDBContext(db, dialect)
	st := NewStore(dbCtx)
	coord := NewCoordinator(dbCtx, st)
	actor := uuid.New()
	key := Key("race-1")

	const callers = 10

	var (
		mu        sync.Mutex
		calls     int
		started   int
		responses []*Response
	)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, outcome, err := coord.Do(ctx, actor, key, func(ctx context.Context, tx store.TxQueryer) (*Response, error) {
				mu.Lock()
				calls++
				mu.Unlock()
				return seeOther(), nil
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrConflictRace)
				return
			}
			if outcome == StartProcessing {
				started++
			}
			responses = append(responses, resp)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, started)
	require.NotEmpty(t, responses)
	for _, r := range responses {
		assert.Equal(t, seeOther(), r)
	}
	assert.Equal(t, 1, testinfra.CountRows(t, db, "idempotency"))

	rec, err := st.Get(ctx, db, actor, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, actor, rec.ActorID)
	require.NotNil(t, rec.Response)
	assert.Equal(t, uint16(303), rec.Response.StatusCode)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()
	err = st.SaveResponse(ctx, tx, actor, key, &Response{StatusCode: 500})
	assert.ErrorIs(t, err, ErrRecordNotPending)
}

func TestPostgresDoRunsWorkOnce(t *testing.T) {
	raceDo(t, testinfra.NewPostgresDB(t), store.SQLDialectPostgres)
}

func TestMySQLDoRunsWorkOnce(t *testing.T) {
	raceDo(t, testinfra.NewMySQLDB(t), store.SQLDialectMySQL)
}

func TestPostgresStoresFullStatusCodeRange(t *testing.T) {
	ctx := context.Background()
	db := testinfra.NewPostgresDB(t)
	dbCtx := store.NewDBContext(db, store.SQLDialectPostgres)
	coord := NewCoordinator(dbCtx, NewStore(dbCtx))
	actor := uuid.New()

	_, _, err := coord.Do(ctx, actor, Key("max-status"), func(ctx context.Context, tx store.TxQueryer) (*Response, error) {
		return &Response{StatusCode: 65535}, nil
	})
	require.NoError(t, err)

	saved, err := coord.GetSavedResponse(ctx, actor, Key("max-status"))
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, uint16(65535), saved.StatusCode)
}
