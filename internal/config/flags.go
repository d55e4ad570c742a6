package config

import (
	"flag"
	"os"
	"time"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-d string   path to the local SQLite database file
//	-r string   base URL of the remote sync API
//	-a string   account id
//	-i int      sync base interval in seconds
//
// The function filters os.Args to only the flags it knows about, using
// flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-r", "-a", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "path to local database file")
	fs.StringVar(&cfg.RemoteBaseURL, "r", cfg.RemoteBaseURL, "base URL of the remote sync API")
	fs.StringVar(&cfg.AccountID, "a", cfg.AccountID, "account id")
	syncInterval := fs.Int("i", int(cfg.SyncBaseInterval.Seconds()), "sync base interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.SyncBaseInterval = time.Duration(*syncInterval) * time.Second
}
