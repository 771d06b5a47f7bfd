// Package archive stores one JSON file per account action in a date
// partitioned tree and answers per-account activity queries by scanning it.
//
// Layout: {year}/{month}/{day}/{user_id}/{unix}_{ACTION}.json
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/welldanyogia/secure-login/backend/internal/metrics"
)

// ErrStorageUnavailable wraps every failure to reach the underlying tree
var ErrStorageUnavailable = errors.New("activity archive unavailable")

// Tree is a flat key/value view over a hierarchical object store.
// Keys are slash separated and relative to the tree root.
type Tree interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Walk(ctx context.Context, fn func(key string) error) error
	Ping(ctx context.Context) error
}

// Archive is the activity archive
type Archive struct {
	tree   Tree
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Archive on top of tree
func New(tree Tree, logger *slog.Logger) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{
		tree:   tree,
		logger: logger,
		now:    time.Now,
	}
}

// Append writes a new record and returns its key.
// A record with the same second and action for the same account is overwritten.
func (a *Archive) Append(ctx context.Context, userID int64, username, action, ipAddress string, data map[string]any) (string, error) {
	now := a.now().UTC()

	if ipAddress == "" {
		ipAddress = "unknown"
	}
	if data == nil {
		data = map[string]any{}
	}

	record := Record{
		Timestamp: now.Unix(),
		Datetime:  now.Format(DatetimeLayout),
		UserID:    userID,
		Username:  username,
		Action:    action,
		Data:      data,
		IPAddress: ipAddress,
	}

	body, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode activity record: %w", err)
	}

	key := recordKey(now, userID, action)
	if err := a.tree.Put(ctx, key, body); err != nil {
		return "", fmt.Errorf("%w: write %s: %w", ErrStorageUnavailable, key, err)
	}

	return key, nil
}

// ListForAccount returns the account's records, newest first.
// A limit of zero or less returns everything.
func (a *Archive) ListForAccount(ctx context.Context, userID int64, limit int) ([]Record, error) {
	return a.scan(ctx, &userID, limit)
}

// ListAll returns records of every account, newest first
func (a *Archive) ListAll(ctx context.Context, limit int) ([]Record, error) {
	return a.scan(ctx, nil, limit)
}

// StatsForAccount folds the full listing of an account into Stats
func (a *Archive) StatsForAccount(ctx context.Context, userID int64) (*Stats, error) {
	records, err := a.ListForAccount(ctx, userID, 0)
	if err != nil {
		return nil, err
	}

	stats := EmptyStats()
	stats.TotalActivities = len(records)
	if len(records) > 0 {
		first := records[len(records)-1]
		last := records[0]
		stats.FirstActivity = &first
		stats.LastActivity = &last
	}
	for _, r := range records {
		stats.ActivitiesByType[r.Action]++
	}

	return &stats, nil
}

// Ping checks that the underlying tree is reachable
func (a *Archive) Ping(ctx context.Context) error {
	if err := a.tree.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

type keyedRecord struct {
	key    string
	record Record
}

func (a *Archive) scan(ctx context.Context, userID *int64, limit int) ([]Record, error) {
	start := time.Now()
	defer func() {
		metrics.ArchiveScanDuration.Observe(time.Since(start).Seconds())
	}()

	var found []keyedRecord
	err := a.tree.Walk(ctx, func(key string) error {
		owner, ok := parseKey(key)
		if !ok {
			return nil
		}
		if userID != nil && owner != *userID {
			return nil
		}

		body, err := a.tree.Get(ctx, key)
		if err != nil {
			a.logger.Warn("skipping unreadable activity record", slog.String("key", key), slog.Any("error", err))
			return nil
		}

		var record Record
		if err := json.Unmarshal(body, &record); err != nil {
			a.logger.Warn("skipping malformed activity record", slog.String("key", key), slog.Any("error", err))
			return nil
		}

		found = append(found, keyedRecord{key: key, record: record})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %w", ErrStorageUnavailable, err)
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].record.Timestamp != found[j].record.Timestamp {
			return found[i].record.Timestamp > found[j].record.Timestamp
		}
		return found[i].key > found[j].key
	})

	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	records := make([]Record, len(found))
	for i, kr := range found {
		records[i] = kr.record
	}
	return records, nil
}

func recordKey(t time.Time, userID int64, action string) string {
	return fmt.Sprintf("%04d/%02d/%02d/%d/%d_%s.json",
		t.Year(), int(t.Month()), t.Day(), userID, t.Unix(), action)
}

// parseKey validates the partition layout and returns the owning account id
func parseKey(key string) (int64, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 5 {
		return 0, false
	}
	for _, p := range parts[:3] {
		if _, err := strconv.Atoi(p); err != nil {
			return 0, false
		}
	}
	if !strings.HasSuffix(parts[4], ".json") || strings.HasPrefix(parts[4], ".") {
		return 0, false
	}
	owner, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return 0, false
	}
	return owner, true
}
