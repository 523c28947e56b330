package idempotency

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1_700_000_000, 0)

func TestMemoryStore(t *testing.T) {
	clk := clock.NewTestClock(epoch)
	store := NewMemoryStore(clk)
	ctx := context.Background()

	rec, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, rec)

	record := Record{
		StatusCode: 202,
		Response:   []byte("ok"),
		CreatedAt:  epoch,
		ExpiresAt:  epoch.Add(time.Minute),
	}
	require.NoError(t, store.Save(ctx, "abc", record))

	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, "ok", string(got.Response))

	clk.SetTime(epoch.Add(2 * time.Minute))
	got, err = store.Get(ctx, "abc")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intents.json")
	clk := clock.NewTestClock(epoch)

	store, err := NewFileStore(path, clk)
	require.NoError(t, err)

	ctx := context.Background()
	record := Record{
		StatusCode: 202,
		Response:   []byte("resp"),
		TxHash:     "0xfeed",
		CreatedAt:  epoch,
		ExpiresAt:  epoch.Add(time.Hour),
	}
	require.NoError(t, store.Save(ctx, "key", record))

	_, err = os.Stat(path)
	require.NoError(t, err)

	store2, err := NewFileStore(path, clk)
	require.NoError(t, err)

	got, err := store2.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, "resp", string(got.Response))
	require.Equal(t, "0xfeed", got.TxHash)
}

func TestFileStoreDropsExpiredOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intents.json")
	clk := clock.NewTestClock(epoch)
	ctx := context.Background()

	store, err := NewFileStore(path, clk)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "old", Record{ExpiresAt: epoch.Add(time.Second)}))

	clk.SetTime(epoch.Add(time.Hour))
	store2, err := NewFileStore(path, clk)
	require.NoError(t, err)

	got, err := store2.Get(ctx, "old")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestLookupDetectsReuse(t *testing.T) {
	store := NewMemoryStore(clock.NewTestClock(epoch))
	ctx := context.Background()
	key := Key("mint", "0xABC", "k1")
	require.Equal(t, "mint:0xabc:k1", key)

	fp := Fingerprint([]byte(`{}`))
	require.NoError(t, store.Save(ctx, key, Record{
		StatusCode:  202,
		Fingerprint: fp,
		ExpiresAt:   epoch.Add(time.Minute),
	}))

	rec, err := Lookup(ctx, store, key, fp)
	require.NoError(t, err)
	require.Equal(t, 202, rec.StatusCode)

	_, err = Lookup(ctx, store, key, Fingerprint([]byte(`{"x":1}`)))
	require.ErrorIs(t, err, ErrKeyReused)

	rec, err = Lookup(ctx, store, Key("mint", "0xabc", "other"), fp)
	require.NoError(t, err)
	require.Nil(t, rec)
}
