package proxy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avatar-hub/avatar-hub/internal/avatar"
	"github.com/avatar-hub/avatar-hub/internal/cache"
	"github.com/avatar-hub/avatar-hub/internal/logging"
	"github.com/avatar-hub/avatar-hub/internal/upstream"
)

var defaultFormat = avatar.FormatOptions{
	Filetype:         "png",
	FallbackFiletype: "png",
	ImageSize:        128,
}

func TestAvatarMissFetchesAndPersists(t *testing.T) {
	store := cache.NewMemoryStore()
	up := &fakeUpstream{hash: "cafe", payload: []byte("fresh-bytes")}
	svc := newTestService(store, up, true)

	result, err := svc.Avatar(context.Background())
	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	assert.Equal(t, "png", result.Extension)
	assert.Equal(t, []byte("fresh-bytes"), result.Payload)
	assert.Equal(t, int32(1), up.userCalls.Load())
	assert.Equal(t, int32(1), up.avatarCalls.Load())
	assert.Equal(t, []string{"https://cdn.test/avatars/1/cafe.png?size=128"}, up.urls())

	entry, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh-bytes"), entry.Payload)
	assert.Equal(t, "png", entry.Extension)
}

func TestAvatarHitSkipsUpstream(t *testing.T) {
	store := cache.NewMemoryStore()
	_, err := store.Put(context.Background(), []byte("cached"), "webp", cache.PutOptions{ModTime: time.Now()})
	require.NoError(t, err)

	up := &fakeUpstream{hash: "cafe", payload: []byte("never")}
	svc := newTestService(store, up, true)

	result, err := svc.Avatar(context.Background())
	require.NoError(t, err)
	assert.True(t, result.CacheHit)
	assert.Equal(t, "webp", result.Extension)
	assert.Equal(t, []byte("cached"), result.Payload)
	assert.Zero(t, up.userCalls.Load())
	assert.Zero(t, up.avatarCalls.Load())
}

func TestAvatarStaleRefreshes(t *testing.T) {
	store := cache.NewMemoryStore()
	_, err := store.Put(context.Background(), []byte("old"), "png", cache.PutOptions{ModTime: time.Now().Add(-2 * time.Hour)})
	require.NoError(t, err)

	up := &fakeUpstream{hash: "a_cafe", payload: []byte("new")}
	svc := newTestService(store, up, true)

	result, err := svc.Avatar(context.Background())
	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	assert.Equal(t, []byte("new"), result.Payload)

	again, err := svc.Avatar(context.Background())
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
	assert.Equal(t, []byte("new"), again.Payload)
	assert.Equal(t, int32(1), up.userCalls.Load())
}

func TestAvatarUserFailureLeavesCacheIntact(t *testing.T) {
	store := cache.NewMemoryStore()
	stale := time.Now().Add(-2 * time.Hour)
	_, err := store.Put(context.Background(), []byte("old"), "png", cache.PutOptions{ModTime: stale})
	require.NoError(t, err)

	up := &fakeUpstream{userErr: &upstream.Error{Kind: upstream.KindUserFetchFailed, Status: 500}}
	svc := newTestService(store, up, true)

	_, err = svc.Avatar(context.Background())
	assert.True(t, upstream.IsKind(err, upstream.KindUserFetchFailed))
	assert.Zero(t, up.avatarCalls.Load())

	entry, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), entry.Payload)
	assert.True(t, entry.ModTime.Equal(stale))
}

func TestAvatarAvatarFailureDoesNotPersist(t *testing.T) {
	store := cache.NewMemoryStore()
	up := &fakeUpstream{hash: "cafe", avatarErr: &upstream.Error{Kind: upstream.KindAvatarFetchFailed, Status: 404}}
	svc := newTestService(store, up, true)

	_, err := svc.Avatar(context.Background())
	upstreamErr, ok := upstream.AsError(err)
	require.True(t, ok)
	assert.Equal(t, upstream.KindAvatarFetchFailed, upstreamErr.Kind)
	assert.Equal(t, 404, upstreamErr.Status)

	_, err = store.Get(context.Background())
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestAvatarReadErrorTreatedAsMiss(t *testing.T) {
	store := &brokenReadStore{Store: cache.NewMemoryStore()}
	_, err := store.Put(context.Background(), []byte("cached"), "png", cache.PutOptions{ModTime: time.Now()})
	require.NoError(t, err)

	up := &fakeUpstream{hash: "cafe", payload: []byte("refetched")}
	svc := newTestService(store, up, true)

	result, err := svc.Avatar(context.Background())
	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	assert.Equal(t, []byte("refetched"), result.Payload)
	assert.Equal(t, int32(1), up.userCalls.Load())
}

func TestAvatarWriteFailureStillServes(t *testing.T) {
	store := &failingWriteStore{Store: cache.NewMemoryStore()}
	up := &fakeUpstream{hash: "cafe", payload: []byte("bytes")}
	svc := newTestService(store, up, true)

	result, err := svc.Avatar(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), result.Payload)
}

func TestAvatarCacheDisabledAlwaysFetches(t *testing.T) {
	store := cache.NewMemoryStore()
	up := &fakeUpstream{hash: "cafe", payload: []byte("bytes")}
	svc := newTestService(store, up, false)

	for i := 0; i < 3; i++ {
		result, err := svc.Avatar(context.Background())
		require.NoError(t, err)
		assert.False(t, result.CacheHit)
	}
	assert.Equal(t, int32(3), up.userCalls.Load())

	_, err := store.Get(context.Background())
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestAvatarNegotiatesGifFallback(t *testing.T) {
	store := cache.NewMemoryStore()
	up := &fakeUpstream{hash: "cafe", payload: []byte("jpeg-bytes")}
	svc := NewService(cache.NewSlot(store, time.Hour, true), up, avatar.FormatOptions{
		Filetype:         "gif",
		FallbackFiletype: "jpeg",
		ImageSize:        64,
	}, logging.Discard())

	result, err := svc.Avatar(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jpeg", result.Extension)
	assert.Equal(t, []string{"https://cdn.test/avatars/1/cafe.jpeg?size=64"}, up.urls())

	cached, err := svc.Avatar(context.Background())
	require.NoError(t, err)
	assert.True(t, cached.CacheHit)
	assert.Equal(t, "jpeg", cached.Extension)
}

func TestAvatarConcurrentMissesShareRefresh(t *testing.T) {
	store := cache.NewMemoryStore()
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	up := &fakeUpstream{hash: "cafe", payload: []byte("bytes"), block: release, entered: entered}
	svc := newTestService(store, up, true)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Avatar(context.Background())
		}(i)
	}

	<-entered
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("bytes"), results[i].Payload)
	}
	assert.Equal(t, int32(1), up.userCalls.Load())
	assert.Equal(t, int32(1), up.avatarCalls.Load())
}

func TestAvatarCallerCancelDoesNotAbortRefresh(t *testing.T) {
	store := cache.NewMemoryStore()
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	up := &fakeUpstream{hash: "cafe", payload: []byte("bytes"), block: release, entered: entered}
	svc := newTestService(store, up, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Avatar(ctx)
		done <- err
	}()

	<-entered
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background())
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestPrewarm(t *testing.T) {
	store := cache.NewMemoryStore()
	up := &fakeUpstream{hash: "cafe", payload: []byte("bytes")}
	svc := newTestService(store, up, true)

	require.NoError(t, svc.Prewarm(context.Background()))
	require.NoError(t, svc.Prewarm(context.Background()))
	assert.Equal(t, int32(1), up.userCalls.Load())

	failing := newTestService(cache.NewMemoryStore(), &fakeUpstream{userErr: &upstream.Error{Kind: upstream.KindUserFetchFailed, Status: 503}}, true)
	assert.Error(t, failing.Prewarm(context.Background()))
}

func newTestService(store cache.Store, up Upstream, enabled bool) *Service {
	return NewService(cache.NewSlot(store, time.Hour, enabled), up, defaultFormat, logging.Discard())
}

type fakeUpstream struct {
	hash      string
	payload   []byte
	userErr   error
	avatarErr error
	block     chan struct{}
	entered   chan struct{}

	userCalls   atomic.Int32
	avatarCalls atomic.Int32

	mu      sync.Mutex
	fetched []string
}

func (f *fakeUpstream) FetchUser(ctx context.Context) (upstream.User, error) {
	f.userCalls.Add(1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}
	if f.userErr != nil {
		return upstream.User{}, f.userErr
	}
	return upstream.User{ID: "1", Avatar: f.hash}, nil
}

func (f *fakeUpstream) FetchAvatarBytes(ctx context.Context, url string) ([]byte, error) {
	f.avatarCalls.Add(1)
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	f.mu.Unlock()
	if f.avatarErr != nil {
		return nil, f.avatarErr
	}
	return f.payload, nil
}

func (f *fakeUpstream) AvatarURL(hash string, params avatar.Params) string {
	return avatar.URL("https://cdn.test/avatars/1", hash, params)
}

func (f *fakeUpstream) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

type brokenReadStore struct {
	cache.Store
	failed atomic.Bool
}

// Get 首次调用失败，模拟读取到一半的缓存文件。
func (s *brokenReadStore) Get(ctx context.Context) (*cache.Entry, error) {
	if s.failed.CompareAndSwap(false, true) {
		return nil, errors.New("disk read failed")
	}
	return s.Store.Get(ctx)
}

type failingWriteStore struct {
	cache.Store
}

func (s *failingWriteStore) Put(context.Context, []byte, string, cache.PutOptions) (*cache.Entry, error) {
	return nil, errors.New("disk full")
}

func TestPrewarmSkipsUpstreamWhenCacheDisabled(t *testing.T) {
	up := &fakeUpstream{hash: "cafe", payload: []byte("bytes")}
	svc := newTestService(cache.NewMemoryStore(), up, false)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Prewarm(context.Background()))
	}
	assert.Zero(t, up.userCalls.Load())
	assert.Zero(t, up.avatarCalls.Load())
}
