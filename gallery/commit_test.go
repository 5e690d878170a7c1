package gallery

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestCommit_NoLocalEntriesNoUploads(t *testing.T) {
	ctrl := gomock.NewController(t)
	up := NewMockUploader(ctrl)

	c := Normalize([]string{"u1?original", "u2?delete"})

	require.NoError(t, c.Commit(context.Background(), up, nil))
	assert.Equal(t, []string{"u1?original", "u2?delete"}, tagged(t, c))
}

func TestCommit_ConvertsInPlace(t *testing.T) {
	ctrl := gomock.NewController(t)
	up := NewMockUploader(ctrl)

	c := Normalize([]string{"u1?original"})
	e, _ := c.Add(memSource{name: "a.jpg"})
	require.NoError(t, c.Move(1, 0))

	id := e.ID()

	up.EXPECT().
		Upload(gomock.Any(), gomock.Any(), map[string]string{"record": "42"}).
		Return(UploadResult{RemotePath: "path/a.jpg"}, nil)

	require.NoError(t, c.Commit(context.Background(), up, map[string]string{"record": "42"}))

	// The uploaded entry holds the same slot and the same ID.
	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, id, entries[0].ID())
	assert.False(t, entries[0].IsLocal())
	assert.Equal(t, "path/a.jpg", entries[0].Path())
	assert.Equal(t, StateAdd, entries[0].State())
	assert.Equal(t, []string{"path/a.jpg?add", "u1?original"}, tagged(t, c))
}

func TestCommit_SequentialInCollectionOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	up := NewMockUploader(ctrl)

	c := NewCollection()
	c.Add(memSource{name: "a.jpg"})
	c.Add(memSource{name: "b.jpg"})
	c.Add(memSource{name: "c.jpg"})

	var order []string

	up.EXPECT().
		Upload(gomock.Any(), gomock.Any(), gomock.Nil()).
		DoAndReturn(func(_ context.Context, src Source, _ map[string]string) (UploadResult, error) {
			order = append(order, src.Filename())
			return UploadResult{RemotePath: "srv/" + src.Filename()}, nil
		}).
		Times(3)

	require.NoError(t, c.Commit(context.Background(), up, nil))

	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, order)
	assert.Equal(t, []string{"srv/a.jpg?add", "srv/b.jpg?add", "srv/c.jpg?add"}, tagged(t, c))

	for _, e := range c.Entries() {
		assert.False(t, e.IsLocal(), "no local entries remain after a successful commit")
	}
}

func TestCommit_FailFastLeavesPartialState(t *testing.T) {
	ctrl := gomock.NewController(t)
	up := NewMockUploader(ctrl)

	c := Normalize([]string{"u1?original"})
	c.Add(memSource{name: "a.jpg"})
	c.Add(memSource{name: "b.jpg"})
	c.Add(memSource{name: "c.jpg"})

	boom := fmt.Errorf("server said no")

	gomock.InOrder(
		up.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Nil()).
			Return(UploadResult{RemotePath: "srv/a.jpg"}, nil),
		up.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Nil()).
			Return(UploadResult{}, boom),
	)

	err := c.Commit(context.Background(), up, nil)
	require.Error(t, err)

	var cerr *CommitError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 3, cerr.Pos, "1-based position of the failing entry")
	assert.Equal(t, "b.jpg", cerr.Filename)
	assert.ErrorIs(t, err, boom)

	// a.jpg converted, b.jpg and c.jpg still local, order untouched.
	assert.Equal(t,
		[]string{"u1?original", "srv/a.jpg?add", "local:b.jpg", "local:c.jpg"},
		tagged(t, c))
}

func TestCommit_RetryResumesWithoutReupload(t *testing.T) {
	ctrl := gomock.NewController(t)
	up := NewMockUploader(ctrl)

	c := NewCollection()
	c.Add(memSource{name: "a.jpg"})
	c.Add(memSource{name: "b.jpg"})

	gomock.InOrder(
		up.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Nil()).
			Return(UploadResult{RemotePath: "srv/a.jpg"}, nil),
		up.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Nil()).
			Return(UploadResult{}, fmt.Errorf("transient")),
		// Retry uploads only b.jpg.
		up.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Nil()).
			DoAndReturn(func(_ context.Context, src Source, _ map[string]string) (UploadResult, error) {
				assert.Equal(t, "b.jpg", src.Filename())
				return UploadResult{RemotePath: "srv/b.jpg"}, nil
			}),
	)

	require.Error(t, c.Commit(context.Background(), up, nil))
	require.NoError(t, c.Commit(context.Background(), up, nil))

	assert.Equal(t, []string{"srv/a.jpg?add", "srv/b.jpg?add"}, tagged(t, c))
}

func TestCommit_ReleasesPreviewOnSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	up := NewMockUploader(ctrl)

	c := NewCollection()

	released := false
	c.Add(memSource{name: "a.jpg"}, WithPreview("p://a", func() { released = true }))

	up.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Nil()).
		Return(UploadResult{RemotePath: "srv/a.jpg"}, nil)

	require.NoError(t, c.Commit(context.Background(), up, nil))
	assert.True(t, released)
}

func TestCommit_CancelledContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	up := NewMockUploader(ctrl)

	c := NewCollection()
	c.Add(memSource{name: "a.jpg"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Commit(ctx, up, nil)

	var cerr *CommitError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, cerr.Pos)
}

// Converting an entry in place rewrites its kind, path and state, so
// readers holding the entry pointer must not observe torn values. Run
// with -race.
func TestCommit_ConcurrentReadersDuringConversion(t *testing.T) {
	ctrl := gomock.NewController(t)
	up := NewMockUploader(ctrl)

	c := NewCollection()
	for i := 0; i < 8; i++ {
		c.Add(memSource{name: fmt.Sprintf("f%d.jpg", i)})
	}
	held := c.Entries()

	up.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Nil()).
		DoAndReturn(func(_ context.Context, src Source, _ map[string]string) (UploadResult, error) {
			return UploadResult{RemotePath: "srv/" + src.Filename()}, nil
		}).
		Times(len(held))

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		for i := 0; i < 100; i++ {
			for _, e := range held {
				_ = e.IsLocal()
				_ = e.Path()
				_ = e.Filename()
				_, _ = e.Tagged()
			}
		}
	}()

	require.NoError(t, c.Commit(context.Background(), up, nil))
	wg.Wait()

	for _, e := range held {
		assert.False(t, e.IsLocal())
	}
}

func TestCommit_NotifiesSubscribers(t *testing.T) {
	ctrl := gomock.NewController(t)
	up := NewMockUploader(ctrl)

	c := NewCollection()
	c.Add(memSource{name: "a.jpg"})
	c.Add(memSource{name: "b.jpg"})

	var fired int
	c.OnChange(func() { fired++ })

	up.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Nil()).
		Return(UploadResult{RemotePath: "srv/x.jpg"}, nil).
		Times(2)

	require.NoError(t, c.Commit(context.Background(), up, nil))
	assert.Equal(t, 2, fired, "one notification per converted entry")
}
