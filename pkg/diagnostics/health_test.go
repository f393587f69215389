package diagnostics

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/lantern/pkg/browser"
	"github.com/odvcencio/lantern/pkg/browser/browsertest"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newInitializedRenderer(t *testing.T) *browser.Renderer {
	t.Helper()
	r := browser.NewRenderer(browsertest.New())
	require.NoError(t, r.Initialize(context.Background(), browser.Config{}))
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

func TestCheckerUninitializedRenderer(t *testing.T) {
	c := NewChecker(browser.NewRenderer(browsertest.New()), nil)
	ctx := context.Background()

	live := c.Liveness(ctx)
	assert.Equal(t, StatusHealthy, live.Status)
	assert.True(t, live.Ready)

	ready := c.Readiness(ctx)
	assert.Equal(t, StatusUnhealthy, ready.Status)
	assert.False(t, ready.Ready)
	require.Len(t, ready.Checks, 2)
	assert.Equal(t, "renderer not initialized", ready.Checks[0].Message)
}

func TestCheckerReadyRenderer(t *testing.T) {
	c := NewChecker(newInitializedRenderer(t), fakePinger{})
	ctx := context.Background()

	ready := c.Readiness(ctx)
	assert.Equal(t, StatusHealthy, ready.Status)
	assert.True(t, ready.Ready)
	assert.Len(t, ready.Checks, 3)

	health := c.Health(ctx)
	assert.Equal(t, StatusHealthy, health.Status)
}

func TestCheckerStorageFailureDegrades(t *testing.T) {
	c := NewChecker(newInitializedRenderer(t), fakePinger{err: errors.New("database is locked")})

	report := c.Readiness(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.False(t, report.Ready, "a degraded host is not ready")
	assert.Equal(t, "database unreachable: database is locked", report.Checks[2].Message)
}

func TestCheckerNavigationFailuresDegrade(t *testing.T) {
	r := newInitializedRenderer(t)
	r.Metrics().RecordNavigationFailed("v1", 1, "https://down.test/", errors.New("refused"))

	report := NewChecker(r, nil).Health(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "recent load failure: refused", report.Checks[1].Message)
	assert.EqualValues(t, 1, report.Metrics.NavigationsFailed)
}

func TestCheckerStorageAndNavigationFailingIsUnhealthy(t *testing.T) {
	r := newInitializedRenderer(t)
	r.Metrics().RecordNavigationFailed("v1", 1, "https://down.test/", errors.New("refused"))

	report := NewChecker(r, fakePinger{err: errors.New("disk I/O error")}).Health(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.False(t, report.Ready)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(report.Status))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusCode(StatusHealthy))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(StatusDegraded))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(StatusUnhealthy))
}
