package img

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/img/core/testutil"
)

func TestAddCopiesData(t *testing.T) {
	t.Parallel()

	a, path := openTest(t)
	data := []byte("original")
	require.NoError(t, a.Add("x.dat", data))
	copy(data, "MUTATED!")

	_, err := a.Save()
	require.NoError(t, err)

	a = reopen(t, a, path)
	got, err := a.ExtractToMemory("x.dat")
	require.NoError(t, err)
	assert.Equal(t, "original", string(got[:8]))
}

func TestAddSameNameKeepsPosition(t *testing.T) {
	t.Parallel()

	a, _ := openTest(t)
	require.NoError(t, a.Add("one", []byte("1")))
	require.NoError(t, a.Add("two", []byte("2")))
	require.NoError(t, a.Add("one", []byte("uno")))

	assert.Equal(t, []string{"one", "two"}, a.Pending().Additions)

	_, err := a.Save()
	require.NoError(t, err)
	e, ok := a.Entry("one")
	require.True(t, ok)
	assert.Equal(t, uint16(3), e.DeclaredSize)
}

func TestQueuedChangesAreNotVisibleBeforeSave(t *testing.T) {
	t.Parallel()

	a, _ := openTest(t, testutil.HelloRecord())
	require.NoError(t, a.Add("new.dat", []byte("x")))
	require.NoError(t, a.Delete("hello.txt"))

	assert.False(t, a.Exists("new.dat"))
	assert.True(t, a.Exists("hello.txt"))
	assert.Equal(t, 1, a.Len())
}

func TestPendingSnapshot(t *testing.T) {
	t.Parallel()

	a, _ := openTest(t, testutil.HelloRecord())
	assert.True(t, a.Pending().Empty())

	require.NoError(t, a.Replace("hello.txt", []byte("bye")))
	require.NoError(t, a.Delete("hello.txt"))
	require.NoError(t, a.Add("b", nil))

	p := a.Pending()
	assert.Equal(t, []string{"hello.txt", "b"}, p.Additions)
	assert.Equal(t, []string{"hello.txt"}, p.Deletions)
	assert.False(t, p.Empty())

	// The snapshot does not alias the queue.
	p.Additions[0] = "changed"
	assert.Equal(t, "hello.txt", a.Pending().Additions[0])
}

func TestCancel(t *testing.T) {
	t.Parallel()

	a, _ := openTest(t, testutil.HelloRecord())
	require.NoError(t, a.Add("a", nil))
	require.NoError(t, a.Replace("hello.txt", []byte("x")))
	require.NoError(t, a.Add("c", nil))

	a.Cancel("hello.txt")
	p := a.Pending()
	assert.Equal(t, []string{"a", "c"}, p.Additions)
	assert.Empty(t, p.Deletions)

	// Positions are reindexed after a cancel.
	require.NoError(t, a.Add("c", []byte("again")))
	assert.Equal(t, []string{"a", "c"}, a.Pending().Additions)

	a.Cancel("not-queued")
	assert.Len(t, a.Pending().Additions, 2)
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	a, path := openTest(t, testutil.HelloRecord())
	before := testutil.ReadFile(t, path)

	require.NoError(t, a.Add("a", []byte("a")))
	require.NoError(t, a.Delete("hello.txt"))
	a.Discard()
	assert.True(t, a.Pending().Empty())

	_, err := a.Save()
	require.NoError(t, err)
	assert.Equal(t, before, testutil.ReadFile(t, path))
}
