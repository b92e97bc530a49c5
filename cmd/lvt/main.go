// Command lvt is the operator CLI for likevault: manual login,
// one-off collection runs, archive stats and debugging helpers.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/chromedp/chromedp"
	"github.com/joho/godotenv"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"

	browseropts "likevault/internal/browser"
	"likevault/internal/collector"
	"likevault/internal/config"
	"likevault/internal/logging"
	"likevault/internal/session"
	"likevault/internal/store"
	"likevault/internal/types"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	var err error
	switch os.Args[1] {
	case "login":
		err = runLogin()
	case "collect":
		err = runCollect(os.Args[2:])
	case "stats":
		err = runStats()
	case "open":
		if len(os.Args) < 3 {
			fmt.Println("Usage: lvt open <config|data>")
			os.Exit(1)
		}
		err = runOpen(os.Args[2])
	case "bot-test":
		err = runBotTest()
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "lvt:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: lvt <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  login              Open a browser window to log in to X.com")
	fmt.Println("  collect [mode]     Run one collection (incremental or backfill)")
	fmt.Println("  stats              Show archive totals and session state")
	fmt.Println("  open config        Open the config file")
	fmt.Println("  open data          Open the data directory")
	fmt.Println("  bot-test           Open bot.sannysoft.com to audit browser fingerprint")
}

func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadOrDefault()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}

// runLogin opens a headful browser on the app-owned profile and waits
// for the user to log in by hand. The session snapshot lands when the
// likes feed loads.
func runLogin() error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	sess := session.New(cfg, log)
	if err := sess.Start(context.Background(), true); err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.EnsureFeed(context.Background()); err != nil {
		return err
	}
	fmt.Printf("Logged in as @%s\n", sess.Handle())
	return nil
}

func runCollect(args []string) error {
	mode := types.ModeIncremental
	if len(args) > 0 {
		var err error
		mode, err = types.ParseMode(args[0])
		if err != nil {
			return err
		}
	}

	cfg, log, err := setup()
	if err != nil {
		return err
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return err
	}
	st, err := store.Open(dbPath, log)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer st.Close()

	coll := collector.New(cfg, st, log)
	if err := coll.RunOnce(context.Background(), mode); err != nil {
		return err
	}

	counts := coll.Stats().Counts
	fmt.Printf("Run finished: %d seen, %d inserted, %d skipped, %d failed\n",
		counts.Attempted, counts.Inserted, counts.Skipped, counts.Failed)
	fmt.Printf("Media: %d saved, %d skipped, %d failed; threads: %d saved, %d skipped\n",
		counts.MediaSaved, counts.MediaSkipped, counts.MediaFailed,
		counts.ThreadsSaved, counts.ThreadsSkipped)
	return nil
}

func runStats() error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	sessionPath, err := cfg.SessionPath()
	if err != nil {
		return err
	}
	snap := session.LoadSnapshot(sessionPath)
	if snap.Authenticated() {
		fmt.Printf("Session: logged in as @%s (captured %s)\n",
			snap.Handle, snap.CapturedAt.Format("2006-01-02 15:04"))
	} else {
		fmt.Println("Session: not logged in (run `lvt login`)")
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return err
	}
	st, err := store.Open(dbPath, log)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer st.Close()

	totals, err := st.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("Archive: %d posts, %d links, %d media items, %d threads\n",
		totals.Posts, totals.Links, totals.Media, totals.Threads)
	return nil
}

func runOpen(target string) error {
	var path string
	var err error
	switch target {
	case "config":
		path, err = config.ConfigPath()
	case "data":
		cfg, loadErr := config.LoadOrDefault()
		if loadErr != nil {
			return loadErr
		}
		path, err = cfg.DataDir()
	default:
		return fmt.Errorf("unknown open target %q", target)
	}
	if err != nil {
		return err
	}
	return browser.OpenFile(path)
}

// runBotTest opens the fingerprint audit page with the same stealth
// options collection uses, so detection regressions are visible by
// eye.
func runBotTest() error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	profileDir, err := cfg.ProfileDir()
	if err != nil {
		return err
	}

	opts := browseropts.Options(false, profileDir, cfg.Browser.ChromePath)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	defer cancelAlloc()
	ctx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	go func() {
		if err := chromedp.Run(ctx, chromedp.Navigate("https://bot.sannysoft.com")); err != nil {
			fmt.Fprintln(os.Stderr, "navigate:", err)
		}
	}()

	fmt.Println("Press Enter to end...")
	fmt.Scanln()
	return nil
}
