package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite checks the behaviour shared by every backend. newStore must return an empty store.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("auto increment ids", func(t *testing.T) {
		s := newStore(t)
		first, err := s.Add(ctx, File{Name: "a.png", MimeType: "image/png", Kind: KindImage, Data: []byte{1}})
		require.NoError(t, err)
		second, err := s.Add(ctx, File{Name: "b.png", MimeType: "image/png", Kind: KindImage, Data: []byte{2}})
		require.NoError(t, err)
		assert.Greater(t, second, first)

		rec, err := s.Get(ctx, second)
		require.NoError(t, err)
		assert.Equal(t, "b.png", rec.File.Name)
		assert.Equal(t, []byte{2}, rec.File.Data)
		assert.Nil(t, rec.Processed)
		assert.Equal(t, StatusPending, rec.Status())
	})

	t.Run("update processed file and failure", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Add(ctx, File{Name: "a.png", MimeType: "image/png", Kind: KindImage, Data: []byte{1}})
		require.NoError(t, err)

		require.NoError(t, s.Update(ctx, id, Update{Failure: "boom"}))
		rec, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, rec.Status())

		processed := &File{Name: "a-bg-blasted.png", MimeType: "image/png", Kind: KindImage, Data: []byte{9, 9}}
		require.NoError(t, s.Update(ctx, id, Update{Processed: processed}))
		rec, err = s.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec.Processed)
		assert.Equal(t, processed.Data, rec.Processed.Data)
		assert.Empty(t, rec.Failure)
		assert.Equal(t, StatusProcessed, rec.Status())

		assert.ErrorIs(t, s.Update(ctx, id+100, Update{}), ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Add(ctx, File{Name: "a.png", Kind: KindImage, Data: []byte{1}})
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, id))
		_, err = s.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, id), ErrNotFound)

		all, err := s.ToArray(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("update after delete", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Add(ctx, File{Name: "a.png", Kind: KindImage, Data: []byte{1}})
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, id))

		err = s.Update(ctx, id, Update{Processed: &File{Name: "a-bg-blasted.png", Data: []byte{9}}})
		assert.ErrorIs(t, err, ErrNotFound)

		all, err := s.ToArray(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("filter and order", func(t *testing.T) {
		s := newStore(t)
		var ids []int64
		for _, f := range []File{
			{Name: "1.png", Kind: KindImage, Data: []byte{1}},
			{Name: "clip.mp4", Kind: KindVideo, Data: []byte{2}},
			{Name: "3.png", Kind: KindImage, Data: []byte{3}},
		} {
			id, err := s.Add(ctx, f)
			require.NoError(t, err)
			ids = append(ids, id)
		}

		all, err := s.ToArray(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		for i, r := range all {
			assert.Equal(t, ids[i], r.ID)
		}

		pending, err := s.Filter(ctx, Pending)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "1.png", pending[0].File.Name)
		assert.Equal(t, "3.png", pending[1].File.Name)
	})

	t.Run("clear", func(t *testing.T) {
		s := newStore(t)
		last, err := s.Add(ctx, File{Name: "a.png", Kind: KindImage, Data: []byte{1}})
		require.NoError(t, err)

		require.NoError(t, s.Clear(ctx))
		all, err := s.ToArray(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		next, err := s.Add(ctx, File{Name: "b.png", Kind: KindImage, Data: []byte{2}})
		require.NoError(t, err)
		assert.Greater(t, next, last, "ids are never reused")
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemory()
	})
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory().Add(ctx, File{Name: "a.png"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("REMBG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("REMBG_TEST_POSTGRES_DSN not set")
	}

	runStoreSuite(t, func(t *testing.T) Store {
		ctx := context.Background()
		db, err := openPostgresDSN(ctx, dsn)
		require.NoError(t, err)
		s, err := NewPostgres(ctx, db)
		require.NoError(t, err)
		require.NoError(t, s.Clear(ctx))
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REMBG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("REMBG_TEST_REDIS_ADDR not set")
	}

	runStoreSuite(t, func(t *testing.T) Store {
		ctx := context.Background()
		s, err := NewRedis(ctx, RedisConfig{Addr: addr, Prefix: "rembg-test:"})
		require.NoError(t, err)
		require.NoError(t, s.Clear(ctx))
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestRedisUpdateDoesNotRestoreDeletedRecord(t *testing.T) {
	addr := os.Getenv("REMBG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("REMBG_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	s, err := NewRedis(ctx, RedisConfig{Addr: addr, Prefix: "rembg-test:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Clear(ctx))

	id, err := s.Add(ctx, File{Name: "a.png", Kind: KindImage, Data: []byte{1}})
	require.NoError(t, err)

	// The record disappears after Update has read it.
	s.beforeWrite = func(id int64) {
		require.NoError(t, s.Delete(ctx, id))
	}

	err = s.Update(ctx, id, Update{Processed: &File{Name: "a-bg-blasted.png", Data: []byte{9}}})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	all, err := s.ToArray(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRecordStatus(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want Status
	}{
		{name: "new image", rec: Record{File: File{Kind: KindImage}}, want: StatusPending},
		{name: "video", rec: Record{File: File{Kind: KindVideo}}, want: StatusSkipped},
		{name: "failed", rec: Record{File: File{Kind: KindImage}, Failure: "x"}, want: StatusFailed},
		{name: "processed", rec: Record{File: File{Kind: KindImage}, Processed: &File{}}, want: StatusProcessed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.Status())
			assert.Equal(t, tt.want == StatusPending, Pending(tt.rec))
		})
	}
}
