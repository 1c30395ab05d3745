package embed

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qacompanion/qac/errors"
)

// fakeService counts lifecycle calls and returns canned vectors.
type fakeService struct {
	name       string
	dim        int
	initErr    error
	embedErr   error
	initCalls  atomic.Int64
	closeCalls atomic.Int64
	embedCalls atomic.Int64
}

func newFakeService(name string, dim int) *fakeService {
	return &fakeService{name: name, dim: dim}
}

func (f *fakeService) Init(ctx context.Context) error {
	f.initCalls.Add(1)
	return f.initErr
}

func (f *fakeService) ModelInfo() (string, int) {
	return f.name, f.dim
}

func (f *fakeService) Embed(ctx context.Context, text string) ([]float32, error) {
	f.embedCalls.Add(1)
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return make([]float32, f.dim), nil
}

func (f *fakeService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.embedCalls.Add(1)
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f *fakeService) Close() error {
	f.closeCalls.Add(1)
	return nil
}

func TestManaged_LazyInit(t *testing.T) {
	fake := newFakeService("fake", 4)
	m := NewManaged(fake)

	assert.Zero(t, fake.initCalls.Load())

	vec, err := m.Embed(context.Background(), "first call initializes")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, int64(1), fake.initCalls.Load())

	_, err = m.Embed(context.Background(), "second call does not")
	require.NoError(t, err)
	assert.Equal(t, int64(1), fake.initCalls.Load())
}

func TestManaged_InitIsIdempotent(t *testing.T) {
	fake := newFakeService("fake", 4)
	m := NewManaged(fake)

	require.NoError(t, m.Init(context.Background()))
	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, int64(1), fake.initCalls.Load())
}

func TestManaged_InitFailureRetriesOnNextUse(t *testing.T) {
	fake := newFakeService("fake", 4)
	fake.initErr = errors.New("model not pulled")
	m := NewManaged(fake)

	_, err := m.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not pulled")

	fake.initErr = nil
	_, err = m.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, int64(2), fake.initCalls.Load())
}

func TestManaged_NilService(t *testing.T) {
	m := NewManaged(nil)

	_, err := m.Embed(context.Background(), "text")
	require.Error(t, err)

	name, dim := m.ModelInfo()
	assert.Empty(t, name)
	assert.Zero(t, dim)
}

func TestManaged_ModelInfoDoesNotInitialize(t *testing.T) {
	fake := newFakeService("all-minilm", 384)
	m := NewManaged(fake)

	name, dim := m.ModelInfo()
	assert.Equal(t, "all-minilm", name)
	assert.Equal(t, 384, dim)
	assert.Zero(t, fake.initCalls.Load())
}

func TestManaged_Swap(t *testing.T) {
	old := newFakeService("old-model", 4)
	m := NewManaged(old)
	require.NoError(t, m.Init(context.Background()))

	next := newFakeService("next-model", 4)
	require.NoError(t, m.Swap(context.Background(), next))

	assert.Equal(t, int64(1), next.initCalls.Load())
	assert.Equal(t, int64(1), old.closeCalls.Load())

	name, _ := m.ModelInfo()
	assert.Equal(t, "next-model", name)

	_, err := m.Embed(context.Background(), "routes to the new service")
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.embedCalls.Load())
	assert.Zero(t, old.embedCalls.Load())
}

func TestManaged_SwapFailureKeepsCurrentService(t *testing.T) {
	current := newFakeService("current", 4)
	m := NewManaged(current)
	require.NoError(t, m.Init(context.Background()))

	broken := newFakeService("broken", 4)
	broken.initErr = errors.New("connection refused")

	err := m.Swap(context.Background(), broken)
	require.Error(t, err)
	assert.Zero(t, current.closeCalls.Load())

	name, _ := m.ModelInfo()
	assert.Equal(t, "current", name)
}

func TestManaged_CloseThenReuse(t *testing.T) {
	fake := newFakeService("fake", 4)
	m := NewManaged(fake)

	require.NoError(t, m.Init(context.Background()))
	require.NoError(t, m.Close())
	assert.Equal(t, int64(1), fake.closeCalls.Load())

	// Closing twice is a no-op.
	require.NoError(t, m.Close())
	assert.Equal(t, int64(1), fake.closeCalls.Load())

	// The next request re-initializes.
	_, err := m.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, int64(2), fake.initCalls.Load())
}

func TestManaged_ConcurrentEmbedInitializesOnce(t *testing.T) {
	fake := newFakeService("fake", 4)
	m := NewManaged(fake)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Embed(context.Background(), "concurrent")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), fake.initCalls.Load())
	assert.Equal(t, int64(16), fake.embedCalls.Load())
}
