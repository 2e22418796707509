package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bios-notifier/internal/config"
	"github.com/JakeFAU/bios-notifier/internal/pipeline"
	"github.com/JakeFAU/bios-notifier/internal/storage/snapshot"
	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Snapshot.Path = filepath.Join(dir, "models.json")
	cfg.Headless.Enabled = false
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"
	return &cfg
}

func seedSnapshot(t *testing.T, path string) {
	t.Helper()
	err := snapshot.NewFile(path).Save(context.Background(), []tracker.Model{{
		ID:          "mobo_1",
		Name:        "B650M Pro RS",
		Maker:       "AMD",
		Socket:      "AM5",
		BiosPage:    "https://www.asrock.com/mb/AMD/B650M%20Pro%20RS/bios.html",
		HeldVersion: "3.20",
	}})
	require.NoError(t, err)
}

func TestBuildSeedsMemoryStoreFromSnapshot(t *testing.T) {
	cfg := testConfig(t)
	seedSnapshot(t, cfg.Snapshot.Path)

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	models, err := a.store.GetModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, "B650M Pro RS", models[0].Name)
	require.Nil(t, a.mirror)
	require.NotNil(t, a.Runner())
}

func TestRunNotifyWithLocalMirror(t *testing.T) {
	cfg := testConfig(t)
	seedSnapshot(t, cfg.Snapshot.Path)
	mirrorDir := filepath.Join(t.TempDir(), "mirror")
	cfg.Mirror.Kind = "local"
	cfg.Mirror.LocalDir = mirrorDir

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	summaries, err := a.Run(context.Background(), pipeline.Options{Stages: []string{tracker.StageNotify}, Origin: true})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, tracker.StageNotify, summaries[0].Stage)

	mirrored, err := os.ReadFile(filepath.Join(mirrorDir, "models.json"))
	require.NoError(t, err)
	require.Contains(t, string(mirrored), "B650M Pro RS")

	history, err := os.ReadDir(filepath.Join(mirrorDir, "history"))
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestRunRejectsUnknownStage(t *testing.T) {
	cfg := testConfig(t)

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Run(context.Background(), pipeline.Options{Stages: []string{"deploy"}})
	require.ErrorIs(t, err, pipeline.ErrUnknownStage)
}

func TestBuildUsesRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Addr = mr.Addr()

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.redis)

	_, err = a.Run(context.Background(), pipeline.Options{Stages: []string{tracker.StageNotify}})
	require.NoError(t, err)
	require.False(t, mr.Exists(cfg.Redis.LockKey), "lock should be released after the run")
}

func TestBuildFailsOnUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "redis ping")
}

func TestBuildFailsOnCorruptSnapshot(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Snapshot.Path, []byte("{not json"), 0o600))

	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "seed memory store")
}
