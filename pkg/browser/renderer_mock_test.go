package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func initializedMock(t *testing.T) (*Renderer, *MockEngine, *Callbacks) {
	t.Helper()
	ctrl := gomock.NewController(t)
	eng := NewMockEngine(ctrl)
	var cb Callbacks
	eng.EXPECT().Initialize(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ EngineConfig, c Callbacks) error {
			cb = c
			return nil
		})
	r := NewRenderer(eng)
	require.NoError(t, r.Initialize(context.Background(), Config{}))
	return r, eng, &cb
}

func TestRendererInitializePassesEngineConfig(t *testing.T) {
	ctrl := gomock.NewController(t)
	eng := NewMockEngine(ctrl)
	want := EngineConfig{Viewport: Viewport{Width: 640, Height: 480, DeviceScaleFactor: 2}, UserAgent: "lantern-test"}
	eng.EXPECT().Initialize(gomock.Any(), want, gomock.Any()).Return(nil)

	r := NewRenderer(eng)
	err := r.Initialize(context.Background(), Config{
		Viewport:  Viewport{Width: 640, Height: 480, DeviceScaleFactor: 2},
		UserAgent: "lantern-test",
	})
	require.NoError(t, err)
}

func TestRendererInitializeFailureIsConfigurationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	eng := NewMockEngine(ctrl)
	eng.EXPECT().Initialize(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("no gpu"))

	r := NewRenderer(eng)
	err := r.Initialize(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "no gpu")
	assert.False(t, r.Initialized())
	assert.Nil(t, r.Waker())
}

func TestRendererNavigateForwardsGeneration(t *testing.T) {
	r, eng, _ := initializedMock(t)
	ctx := context.Background()

	eng.EXPECT().CreateView(gomock.Any(), gomock.Any(), DefaultConfig().Viewport).Return(nil)
	id, err := r.CreateView(ctx, "")
	require.NoError(t, err)

	gomock.InOrder(
		eng.EXPECT().Navigate(gomock.Any(), id, Generation(1), "https://a.test").Return(nil),
		eng.EXPECT().Navigate(gomock.Any(), id, Generation(2), "https://b.test/").Return(nil),
		eng.EXPECT().Stop(gomock.Any(), id, Generation(2)).Return(nil),
	)
	require.NoError(t, r.Navigate(ctx, id, "https://a.test"))
	require.NoError(t, r.Navigate(ctx, id, " https://b.test/ "))
	require.NoError(t, r.Stop(ctx, id))
}

func TestRendererStopFailureIsAdvisory(t *testing.T) {
	r, eng, _ := initializedMock(t)
	ctx := context.Background()

	eng.EXPECT().CreateView(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	id, err := r.CreateView(ctx, "")
	require.NoError(t, err)

	eng.EXPECT().Navigate(gomock.Any(), id, Generation(1), gomock.Any()).Return(nil)
	eng.EXPECT().Stop(gomock.Any(), id, Generation(1)).Return(errors.New("already finished"))
	require.NoError(t, r.Navigate(ctx, id, "https://a.test"))
	require.NoError(t, r.Stop(ctx, id))

	snap, err := r.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, PhaseCancelled, snap.Phase)
}

func TestRendererTickPumpsOnce(t *testing.T) {
	r, eng, cb := initializedMock(t)

	eng.EXPECT().CreateView(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	id, err := r.CreateView(context.Background(), "")
	require.NoError(t, err)
	eng.EXPECT().Navigate(gomock.Any(), id, Generation(1), gomock.Any()).Return(nil)
	require.NoError(t, r.Navigate(context.Background(), id, "https://a.test"))

	eng.EXPECT().Pump().Do(func() {
		cb.Sink.Deliver(Event{Kind: EventLoadCompleted, View: id, Generation: 1, Location: "https://a.test"})
	})
	res := r.Tick()
	require.Len(t, res.Updates, 1)
	assert.Equal(t, PhaseLoaded, res.Updates[0].Phase)
	assert.False(t, res.Updates[0].CanGoBack)
}

func TestRendererDestroyViewIgnoresEngineError(t *testing.T) {
	r, eng, _ := initializedMock(t)
	ctx := context.Background()

	eng.EXPECT().CreateView(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	id, err := r.CreateView(ctx, "")
	require.NoError(t, err)

	eng.EXPECT().DestroyView(gomock.Any(), id).Return(errors.New("gone"))
	assert.NoError(t, r.DestroyView(ctx, id))
	assert.Empty(t, r.Views())
}

func TestRendererShutdownEngineErrorIsNotTimeout(t *testing.T) {
	r, eng, _ := initializedMock(t)

	eng.EXPECT().Shutdown(gomock.Any()).Return(errors.New("socket closed"))
	assert.NoError(t, r.Shutdown(context.Background()))
	assert.False(t, r.Initialized())
}

func TestRendererShutdownHonoursCallerContext(t *testing.T) {
	r, eng, _ := initializedMock(t)

	ctx, cancel := context.WithCancel(context.Background())
	eng.EXPECT().Shutdown(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	err := r.Shutdown(ctx)
	assert.ErrorIs(t, err, ErrShutdownTimeout)
}
