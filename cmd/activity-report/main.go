// Command activity-report prints archived account activity, newest first.
// It reads the same ARCHIVE_* settings as the server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/welldanyogia/secure-login/backend/internal/archive"
	"github.com/welldanyogia/secure-login/backend/internal/config"
	"github.com/welldanyogia/secure-login/backend/internal/logger"
)

func main() {
	log := logger.New(logger.DefaultConfig())

	cfg := config.Load()
	userID := flag.Int64("user", 0, "Only show activity of this account id")
	limit := flag.Int("limit", 50, "Maximum number of records, 0 for all")
	format := flag.String("format", "table", "Output format: table, json or summary")
	backend := flag.String("backend", cfg.Archive.Backend, "Archive backend: fs or s3 (ARCHIVE_BACKEND)")
	path := flag.String("path", cfg.Archive.Path, "Archive root for the fs backend (ARCHIVE_PATH)")
	timeout := flag.Duration("timeout", 2*time.Minute, "Give up scanning after this long")
	flag.Parse()

	cfg.Archive.Backend = *backend
	cfg.Archive.Path = *path

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, &cfg.Archive, *userID, *limit, *format, os.Stdout, log); err != nil {
		log.Error("activity report failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ArchiveConfig, userID int64, limit int, format string, out io.Writer, log *slog.Logger) error {
	tree, err := archive.NewTree(cfg)
	if err != nil {
		return err
	}
	if tree == nil {
		return errors.New("archive backend is disabled")
	}
	arch := archive.New(tree, log)

	var records []archive.Record
	if userID > 0 {
		records, err = arch.ListForAccount(ctx, userID, limit)
	} else {
		records, err = arch.ListAll(ctx, limit)
	}
	if err != nil {
		return err
	}

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case "summary":
		return writeSummary(out, records)
	case "table":
		return writeTable(out, records)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func writeTable(out io.Writer, records []archive.Record) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATETIME\tUSER_ID\tUSERNAME\tACTION\tIP_ADDRESS")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", r.Datetime, r.UserID, r.Username, r.Action, r.IPAddress)
	}
	return tw.Flush()
}

// writeSummary prints per action counts of the listed records
func writeSummary(out io.Writer, records []archive.Record) error {
	counts := make(map[string]int)
	accounts := make(map[int64]bool)
	for _, r := range records {
		counts[r.Action]++
		accounts[r.UserID] = true
	}

	actions := make([]string, 0, len(counts))
	for a := range counts {
		actions = append(actions, a)
	}
	sort.Strings(actions)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "records\t%d\n", len(records))
	fmt.Fprintf(tw, "accounts\t%d\n", len(accounts))
	for _, a := range actions {
		fmt.Fprintf(tw, "%s\t%d\n", a, counts[a])
	}
	return tw.Flush()
}
