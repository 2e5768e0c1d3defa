package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"signalrelay/internal/relay"
)

func TestArchive_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfgSrc := filepath.Join(dir, "config.json")
	if err := os.WriteFile(cfgSrc, []byte(`{"normalize":{"mode":"structured"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	archive := filepath.Join(dir, "backup.tar.gz")
	if err := writeArchive(archive, map[string]string{archiveConfigName: cfgSrc}); err != nil {
		t.Fatalf("writeArchive: %v", err)
	}

	target := filepath.Join(dir, "restored", "config.json")
	restored, err := extractArchive(archive, map[string]string{
		archiveConfigName: target,
		archiveDBName:     filepath.Join(dir, "restored", "relay.db"),
	})
	if err != nil {
		t.Fatalf("extractArchive: %v", err)
	}
	if len(restored) != 1 || restored[0] != target {
		t.Fatalf("restored = %v", restored)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"normalize":{"mode":"structured"}}` {
		t.Fatalf("content = %q", data)
	}
}

func TestSnapshotDatabase_CopiesRecords(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	src := filepath.Join(dir, "relay.db")
	store, err := relay.NewSQLiteStore(src, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.Record(ctx, 7, 700); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "snapshot.db")
	if err := snapshotDatabase(ctx, src, dst); err != nil {
		t.Fatalf("snapshotDatabase: %v", err)
	}

	copied, err := relay.NewSQLiteStore(dst, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer copied.Close()
	dest, ok, err := copied.Lookup(ctx, 7)
	if err != nil || !ok || dest != 700 {
		t.Fatalf("snapshot lookup = %d %v %v", dest, ok, err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
