package diskstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHasher struct{}

func (fakeHasher) Digest(key string) string { return "digest:" + key }

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), "test-app", fakeHasher{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWriteReadInline(t *testing.T) {
	s := openTestStore(t)

	ok := s.Write("a", []byte("hello"), "")
	require.True(t, ok)

	data, found := s.Read("a")
	require.True(t, found)
	assert.Equal(t, []byte("hello"), data)

	name, _ := s.Filename("a")
	assert.Empty(t, name, "inline writes must not record a sidecar filename")
}

func TestWriteReadSidecarFile(t *testing.T) {
	s := openTestStore(t)

	ok := s.Write("big", []byte("large payload"), "big.bin")
	require.True(t, ok)

	data, found := s.Read("big")
	require.True(t, found)
	assert.Equal(t, []byte("large payload"), data)

	name, ok := s.Filename("big")
	require.True(t, ok)
	assert.Equal(t, "big.bin", name)
}

func TestContainsDoesNotTouchAccessTime(t *testing.T) {
	s := openTestStore(t)
	assert.False(t, s.Contains("missing"))

	s.Write("a", []byte("x"), "")
	_, err := s.db.Exec(`UPDATE detailed SET last_access_time = 1 WHERE key = 'a'`)
	require.NoError(t, err)
	assert.True(t, s.Contains("a"))

	var accessTime int64
	require.NoError(t, s.db.QueryRow(`SELECT last_access_time FROM detailed WHERE key = 'a'`).Scan(&accessTime))
	assert.Equal(t, int64(1), accessTime)
}

func TestOverwriteInlineRemovesOldSidecar(t *testing.T) {
	s := openTestStore(t)
	require.True(t, s.Write("k", []byte("v1"), "k.bin"))

	require.True(t, s.Write("k", []byte("v2"), ""))

	data, found := s.Read("k")
	require.True(t, found)
	assert.Equal(t, []byte("v2"), data)

	name, _ := s.Filename("k")
	assert.Empty(t, name)

	_, err := os.Stat(filepath.Join(s.Dir(), "k.bin"))
	assert.True(t, os.IsNotExist(err), "old sidecar file should be removed, got err=%v", err)
}

func TestRemoveDeletesRowAndSidecar(t *testing.T) {
	s := openTestStore(t)
	require.True(t, s.Write("k", []byte("v"), "k.bin"))

	ok := s.Remove("k")
	require.True(t, ok)
	assert.False(t, s.Contains("k"))

	_, found := s.Read("k")
	assert.False(t, found)

	_, err := os.Stat(filepath.Join(s.Dir(), "k.bin"))
	assert.True(t, os.IsNotExist(err), "sidecar file should be removed, got err=%v", err)
}

func TestRemoveAllResetsStore(t *testing.T) {
	s := openTestStore(t)
	require.True(t, s.Write("a", []byte("1"), ""))
	require.True(t, s.Write("b", []byte("2"), "b.bin"))

	err := s.RemoveAll()
	require.NoError(t, err)

	assert.Equal(t, int64(0), s.TotalCount())
	assert.False(t, s.Contains("a"))
	assert.False(t, s.Contains("b"))

	// store must still be usable after RemoveAll
	require.True(t, s.Write("c", []byte("3"), ""))
	data, found := s.Read("c")
	require.True(t, found)
	assert.Equal(t, []byte("3"), data)
}

func TestExpiredFilenamesAndDeleteExpired(t *testing.T) {
	s := openTestStore(t)

	require.True(t, s.Write("old", []byte("1"), "old.bin"))
	require.True(t, s.Write("new", []byte("2"), ""))

	// force old's last_access_time far in the past directly via SQL so the
	// test doesn't depend on real wall-clock sleeps.
	_, err := s.db.Exec(`UPDATE detailed SET last_access_time = 0 WHERE key = 'old'`)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE detailed SET last_access_time = 9999999999 WHERE key = 'new'`)
	require.NoError(t, err)

	names := s.ExpiredFilenames(100)
	assert.Equal(t, []string{"old.bin"}, names)

	ok := s.DeleteExpired(100)
	require.True(t, ok)

	assert.False(t, s.Contains("old"))
	assert.True(t, s.Contains("new"))
}

func TestOldestItemsOrdersByAccessTime(t *testing.T) {
	s := openTestStore(t)
	require.True(t, s.Write("a", []byte("1"), ""))
	require.True(t, s.Write("b", []byte("2"), ""))
	require.True(t, s.Write("c", []byte("3"), ""))

	_, err := s.db.Exec(`UPDATE detailed SET last_access_time = 1 WHERE key = 'a'`)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE detailed SET last_access_time = 2 WHERE key = 'b'`)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE detailed SET last_access_time = 3 WHERE key = 'c'`)
	require.NoError(t, err)

	items := s.OldestItems(2)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Key)
	assert.Equal(t, "b", items[1].Key)
}

func TestTotalSizeAndCount(t *testing.T) {
	s := openTestStore(t)
	require.True(t, s.Write("a", []byte("123"), ""))
	require.True(t, s.Write("b", []byte("45678"), ""))

	assert.Equal(t, int64(2), s.TotalCount())
	assert.Equal(t, int64(8), s.TotalSize())
}

func TestSingleCacheDirectoryLevel(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, "myapp", fakeHasher{})
	require.NoError(t, err)
	defer s.Close()

	// the store must live directly under "<root>/diskcache.<appID>/",
	// never doubled into "<root>/diskcache.<appID>/diskcache.<appID>/".
	assert.Equal(t, root+"/diskcache.myapp", s.Dir())
}
