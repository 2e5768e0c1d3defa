package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"signalrelay/internal/channel"
	"signalrelay/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

// checkReport counts check outcomes and prints one line per check.
type checkReport struct {
	passed, warned, failed int
}

func (r *checkReport) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-22s %s\n", check, detail)
}

func (r *checkReport) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-22s %s\n", check, detail)
}

func (r *checkReport) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-22s %s\n", check, detail)
}

func checkCmd() *cobra.Command {
	var offline, sendTest bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run diagnostic checks on the relay setup",
		Long: `Verifies the configuration, normalizer rules, database and metrics port, then
contacts Telegram to confirm the token and that the bot can see both chats.
Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("signalrelay check v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			r := &checkReport{}

			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults and environment", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := loadConfig()
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			if err := config.RequireCredentials(cfg); err != nil {
				r.fail("Credentials", err.Error())
			} else {
				r.pass("Credentials", "token and chat ids set")
			}

			if _, err := buildNormalizer(cfg.Normalize); err != nil {
				r.fail("Normalizer", err.Error())
			} else {
				detail := cfg.Normalize.Mode
				if cfg.Normalize.RulesFile != "" {
					detail += " (" + cfg.Normalize.RulesFile + ")"
				}
				r.pass("Normalizer", detail)
			}

			if cfg.Store.Backend == "sqlite" {
				if err := checkDatabase(cfg.Store.DBPath); err != nil {
					r.fail("Database", err.Error())
				} else {
					r.pass("Database", cfg.Store.DBPath)
				}
			} else {
				r.pass("Relay store", "memory (edits are not tracked across restarts)")
			}

			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					r.warn("Metrics listener", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
				} else {
					r.pass("Metrics listener", cfg.Metrics.Listen+cfg.Metrics.Endpoint)
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			if !offline && cfg.Telegram.Token != "" {
				checkTelegram(cmd.Context(), r, cfg, sendTest)
			}

			return r.summary()
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip checks that contact Telegram")
	cmd.Flags().BoolVar(&sendTest, "send-test", false, "post a test message into the destination chat")
	return cmd
}

func checkTelegram(ctx context.Context, r *checkReport, cfg *config.Config, sendTest bool) {
	tg, err := channel.NewTelegram(telegramConfig(cfg))
	if err != nil {
		r.fail("Bot token", err.Error())
		return
	}
	r.pass("Bot token", "@"+tg.Username())

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, c := range []struct {
		name string
		id   config.FlexInt64
	}{
		{"Source channel", cfg.Telegram.SourceChatID},
		{"Destination chat", cfg.Telegram.DestinationChatID},
	} {
		if c.id == 0 {
			continue
		}
		title, err := tg.ChatTitle(ctx, int64(c.id))
		if err != nil {
			r.fail(c.name, err.Error())
			continue
		}
		r.pass(c.name, fmt.Sprintf("%s (%d)", title, c.id))
	}

	if sendTest && cfg.Telegram.DestinationChatID != 0 {
		dest := int64(cfg.Telegram.DestinationChatID)
		id, err := tg.SendMessage(ctx, dest, "signalrelay check: the bot can post here.")
		if err != nil {
			r.fail("Destination write", err.Error())
			return
		}
		r.pass("Destination write", fmt.Sprintf("message %d sent", id))
		if err := tg.DeleteMessage(ctx, dest, id); err != nil {
			r.warn("Destination delete", err.Error())
		}
	}
}

func (r *checkReport) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running the relay.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nThe relay should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! Start the relay with 'signalrelay run'.\n")
	}
	return nil
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _check_probe (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _check_probe")
	return nil
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
