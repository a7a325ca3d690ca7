package jsonfile

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsign/internal/model"
	"docsign/internal/repository"
)

func newTestStore(t *testing.T) *RecordFile {
	t.Helper()
	store, err := NewRecordFile(filepath.Join(t.TempDir(), "records.json"))
	require.NoError(t, err)
	return store
}

func testRecord(id string) *model.DocumentRecord {
	return &model.DocumentRecord{
		ID:             id,
		SourcePath:     "documents/" + id + ".pdf",
		RecipientEmail: "signer@example.com",
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
}

func TestRecordFile_CreateAndFind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, testRecord("doc-1"))
	require.NoError(t, err)
	assert.False(t, created.Signed)

	got, err := store.FindByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = store.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRecordFile_Create_DuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, testRecord("doc-1"))
	require.NoError(t, err)

	_, err = store.Create(ctx, testRecord("doc-1"))
	assert.ErrorIs(t, err, repository.ErrDuplicateID)
}

func TestRecordFile_MarkSigned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, testRecord("doc-1"))
	require.NoError(t, err)

	rec, err := store.MarkSigned(ctx, "doc-1", "signed/doc-1_a.pdf")
	require.NoError(t, err)
	assert.True(t, rec.Signed)
	assert.Equal(t, "signed/doc-1_a.pdf", rec.SignedPath)

	// Second transition must conflict and leave the stored path untouched.
	_, err = store.MarkSigned(ctx, "doc-1", "signed/doc-1_b.pdf")
	assert.ErrorIs(t, err, repository.ErrAlreadySigned)

	got, err := store.FindByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "signed/doc-1_a.pdf", got.SignedPath)

	_, err = store.MarkSigned(ctx, "missing", "signed/missing.pdf")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRecordFile_MarkSigned_ConcurrentCallersSerialize(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, testRecord("doc-1"))
	require.NoError(t, err)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = store.MarkSigned(ctx, "doc-1", "signed/doc-1_"+string(rune('a'+n))+".pdf")
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		default:
			assert.ErrorIs(t, err, repository.ErrAlreadySigned)
			conflicts++
		}
	}
	assert.Equal(t, 1, wins, "exactly one caller may finalize")
	assert.Equal(t, callers-1, conflicts)
}

func TestRecordFile_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.Create(ctx, testRecord(id))
		require.NoError(t, err)
	}

	res, err := store.List(ctx, repository.PageQuery{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "b", res.Items[0].ID)
	assert.Equal(t, "c", res.Items[1].ID)

	res, err = store.List(ctx, repository.PageQuery{Limit: 10, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestRecordFile_DurableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	ctx := context.Background()

	store, err := NewRecordFile(path)
	require.NoError(t, err)
	_, err = store.Create(ctx, testRecord("doc-1"))
	require.NoError(t, err)

	reopened, err := NewRecordFile(path)
	require.NoError(t, err)
	got, err := reopened.FindByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.ID)
}
