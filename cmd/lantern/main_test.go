package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/lantern/pkg/browser"
	"github.com/odvcencio/lantern/pkg/config"
)

func stubConfig(t *testing.T, mutate func(*config.Config)) {
	t.Helper()
	orig := loadConfigFn
	t.Cleanup(func() { loadConfigFn = orig })
	loadConfigFn = func(string) (*config.Config, error) {
		cfg := config.DefaultConfig()
		cfg.Storage.Path = filepath.Join(t.TempDir(), "lantern.db")
		cfg.Telemetry.MetricsAddr = ""
		if mutate != nil {
			mutate(cfg)
		}
		return cfg, nil
	}
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"-engine", "servo", "-url=https://a.test/", "-metrics-addr", "off", "-interactive=false"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "servo", opts.engine)
	assert.Equal(t, "https://a.test/", opts.url)
	assert.Equal(t, "off", opts.metricsAddr)
	assert.False(t, opts.interactive)

	_, err = parseOptions([]string{"extra"}, io.Discard)
	assert.Error(t, err)

	_, err = parseOptions([]string{"-h"}, io.Discard)
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestLoadConfigAppliesFlags(t *testing.T) {
	stubConfig(t, nil)

	cfg, err := loadConfig(&options{engine: "SERVO", url: "https://a.test/", metricsAddr: "127.0.0.1:9999"})
	require.NoError(t, err)
	assert.Equal(t, config.EngineServo, cfg.Engine.Kind)
	assert.Equal(t, "https://a.test/", cfg.Renderer.InitialLocation)
	assert.Equal(t, "127.0.0.1:9999", cfg.Telemetry.MetricsAddr)

	cfg, err = loadConfig(&options{metricsAddr: "off"})
	require.NoError(t, err)
	assert.Empty(t, cfg.Telemetry.MetricsAddr)

	_, err = loadConfig(&options{engine: "gecko"})
	assert.Error(t, err)
}

func TestWatchPathPrefersFlag(t *testing.T) {
	assert.Equal(t, "x.yaml", watchPath(&options{configPath: "x.yaml"}))

	chdir(t, t.TempDir())
	assert.Empty(t, watchPath(&options{}))
}

func TestExitCodeForError(t *testing.T) {
	assert.Equal(t, 0, exitCodeForError(nil))
	assert.Equal(t, 1, exitCodeForError(errors.New("boom")))
	assert.Equal(t, exitConfig, exitCodeForError(withExitCode(errors.New("bad"), exitConfig)))
	assert.Equal(t, exitShutdownTimeout, exitCodeForError(browser.ErrShutdownTimeout))
	assert.Equal(t, exitEngine, exitCodeForError(errors.Join(nil, withExitCode(errors.New("x"), exitEngine))))
	assert.Nil(t, withExitCode(nil, exitConfig))
}

func TestRunConfigErrorExitCode(t *testing.T) {
	orig := loadConfigFn
	t.Cleanup(func() { loadConfigFn = orig })
	loadConfigFn = func(string) (*config.Config, error) { return nil, errors.New("unreadable") }

	err := run(context.Background(), &options{}, strings.NewReader(""), io.Discard, io.Discard)
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCodeForError(err))
}

func TestRunHeadlessSession(t *testing.T) {
	stubConfig(t, func(cfg *config.Config) {
		cfg.Renderer.IdleTick = 10 * time.Millisecond
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	in := strings.NewReader("views\nhistory\nbookmarks\nquit\n")
	require.NoError(t, run(ctx, &options{interactive: true}, in, &out, io.Discard))

	text := out.String()
	assert.Contains(t, text, "lantern> ")
	assert.Contains(t, text, "* ")
	assert.Contains(t, text, "(none)")
}

func TestRunServoMissingBinary(t *testing.T) {
	stubConfig(t, func(cfg *config.Config) {
		cfg.Engine.Kind = config.EngineServo
		cfg.Engine.BrowserdPath = filepath.Join(t.TempDir(), "missing-browserd")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := run(ctx, &options{}, strings.NewReader(""), io.Discard, io.Discard)
	require.Error(t, err)
	assert.Equal(t, exitEngine, exitCodeForError(err))
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
