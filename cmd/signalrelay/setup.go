package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"signalrelay/internal/config"

	"github.com/spf13/cobra"
)

var knownModes = []struct {
	ID   string
	Desc string
}{
	{"generic", "strip every link, keep all text"},
	{"structured", "keep only labelled lines (Token, Exchange, Trading Pair)"},
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup: token → chats → normalizer → store → save config",
		Long:  "Guides you through the bot token, source and destination chat ids, normalizer mode and relay store. Writes config to the path used by --config or default.",
		RunE:  runSetup,
	}
}

func runSetup(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}

	reader := bufio.NewReader(os.Stdin)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(os.Stdout, " [%s]: ", def)
		} else {
			fmt.Fprint(os.Stdout, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" && def != "" {
			return def, nil
		}
		return s, nil
	}
	promptChatID := func(label string, cur config.FlexInt64) (config.FlexInt64, error) {
		def := ""
		if cur != 0 {
			def = strconv.FormatInt(int64(cur), 10)
		}
		for {
			fmt.Fprint(os.Stdout, label)
			s, err := prompt(def)
			if err != nil {
				return 0, err
			}
			n, err := strconv.ParseInt(s, 10, 64)
			if err == nil && n != 0 {
				return config.FlexInt64(n), nil
			}
			fmt.Println("  Enter a numeric chat id, e.g. -1001234567890 (see 'signalrelay chatid').")
		}
	}

	// Step 1: Token
	fmt.Println("\n--- Step 1: Bot token ---")
	fmt.Fprint(os.Stdout, "Telegram bot token from @BotFather, or ${BOT_TOKEN}")
	def := cfg.Telegram.Token
	if def == "" {
		def = "${BOT_TOKEN}"
	}
	tok, err := prompt(def)
	if err != nil {
		return err
	}
	cfg.Telegram.Token = tok

	// Step 2: Chats
	fmt.Println("\n--- Step 2: Chats ---")
	fmt.Println("The bot must be an administrator of the source channel and able to post in the destination.")
	if cfg.Telegram.SourceChatID, err = promptChatID("Source channel id", cfg.Telegram.SourceChatID); err != nil {
		return err
	}
	if cfg.Telegram.DestinationChatID, err = promptChatID("Destination chat id", cfg.Telegram.DestinationChatID); err != nil {
		return err
	}

	// Step 3: Normalizer
	fmt.Println("\n--- Step 3: Normalizer ---")
	defNum := "1"
	for i, m := range knownModes {
		fmt.Fprintf(os.Stdout, "  %d) %s - %s\n", i+1, m.ID, m.Desc)
		if m.ID == cfg.Normalize.Mode {
			defNum = strconv.Itoa(i + 1)
		}
	}
	fmt.Fprint(os.Stdout, "Choose mode (1–"+strconv.Itoa(len(knownModes))+")")
	choice, err := prompt(defNum)
	if err != nil {
		return err
	}
	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > len(knownModes) {
		idx = 1
	}
	cfg.Normalize.Mode = knownModes[idx-1].ID
	fmt.Fprintf(os.Stdout, "  Using mode: %s\n", cfg.Normalize.Mode)

	// Step 4: Store
	fmt.Println("\n--- Step 4: Relay store ---")
	fmt.Fprint(os.Stdout, "Keep edit tracking across restarts in SQLite? (y/n)")
	defStore := "n"
	if cfg.Store.Backend == "sqlite" {
		defStore = "y"
	}
	yn, err := prompt(defStore)
	if err != nil {
		return err
	}
	if strings.HasPrefix(strings.ToLower(yn), "y") {
		cfg.Store.Backend = "sqlite"
		fmt.Fprint(os.Stdout, "Database path")
		dbPath, err := prompt(cfg.Store.DBPath)
		if err != nil {
			return err
		}
		cfg.Store.DBPath = config.ExpandPath(dbPath)
	} else {
		cfg.Store.Backend = "memory"
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nConfig saved to %s\n", cfgPath)
	fmt.Println("Next: run 'signalrelay check', then 'signalrelay run'.")
	return nil
}
