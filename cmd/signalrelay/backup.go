package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"signalrelay/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const (
	archiveConfigName = "config.json"
	archiveDBName     = "relay.db"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the config and the relay-record database",
		Long: `Creates a compressed .tar.gz archive with the configuration file and, when
the sqlite store is used, a consistent snapshot of the relay-record database.
Safe to run while the relay is running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			dbPath := resolveDBPath()

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o700); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("signalrelay-backup-%s.tar.gz", ts))
			}

			entries := map[string]string{}
			if _, err := os.Stat(cfgPath); err == nil {
				entries[archiveConfigName] = cfgPath
			}
			if _, err := os.Stat(dbPath); err == nil {
				tmpDir, err := os.MkdirTemp("", "signalrelay-backup")
				if err != nil {
					return err
				}
				defer os.RemoveAll(tmpDir)
				snapshot := filepath.Join(tmpDir, archiveDBName)
				if err := snapshotDatabase(cmd.Context(), dbPath, snapshot); err != nil {
					return fmt.Errorf("snapshot database: %w", err)
				}
				entries[archiveDBName] = snapshot
			}
			if len(entries) == 0 {
				return fmt.Errorf("nothing to back up (db: %s, config: %s)", dbPath, cfgPath)
			}

			if err := writeArchive(outputPath, entries); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			for name, path := range entries {
				size := int64(0)
				if info, err := os.Stat(path); err == nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", name, humanize.IBytes(uint64(size)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: ~/.signalrelay/backups/signalrelay-backup-<timestamp>.tar.gz)")
	cmd.AddCommand(restoreCmd())
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore the config and database from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := map[string]string{
				archiveConfigName: resolveConfigPath(),
				archiveDBName:     resolveDBPath(),
			}

			if !force {
				for _, path := range targets {
					if _, err := os.Stat(path); err == nil {
						fmt.Printf("WARNING: %s exists and would be overwritten.\n", path)
						return errors.New("restore aborted (use --force to proceed)")
					}
				}
			}

			restored, err := extractArchive(args[0], targets)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Printf("Restored from %s:\n", args[0])
			for _, path := range restored {
				fmt.Printf("  - %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

// resolveDBPath returns the relay-record database named by the config, or
// the default location when the config cannot be read.
func resolveDBPath() string {
	if cfg, err := config.Load(resolveConfigPath()); err == nil && cfg.Store.DBPath != "" {
		return cfg.Store.DBPath
	}
	return config.ExpandPath(config.Defaults().Store.DBPath)
}

// snapshotDatabase writes a consistent copy of a live WAL database.
func snapshotDatabase(ctx context.Context, src, dst string) error {
	db, err := sql.Open("sqlite", src+"?_busy_timeout=5000")
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err = db.ExecContext(ctx, "VACUUM INTO ?", dst)
	return err
}

// writeArchive stores each source file under its archive name.
func writeArchive(outputPath string, entries map[string]string) error {
	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for name, path := range entries {
		if err := addFileToTar(tw, name, path); err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Close()
}

func addFileToTar(tw *tar.Writer, name, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractArchive restores known archive entries to their target paths.
// Unknown entries are skipped.
func extractArchive(archivePath string, targets map[string]string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var restored []string
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		target, ok := targets[header.Name]
		if !ok {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
			return nil, err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", target, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return nil, fmt.Errorf("extract %s: %w", target, err)
		}
		if err := out.Close(); err != nil {
			return nil, err
		}
		// Stale WAL files from the replaced database must not be replayed.
		if header.Name == archiveDBName {
			os.Remove(target + "-wal")
			os.Remove(target + "-shm")
		}
		restored = append(restored, target)
	}
	return restored, nil
}
