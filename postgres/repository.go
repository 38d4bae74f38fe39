package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/khanakat/cachekit/cache"
)

const entryColumns = `key, value, ttl_seconds, tags, metadata, hit_count, created_at, updated_at, expires_at`

const (
	saveEntryQuery = `
		INSERT INTO cache_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key) DO UPDATE SET
			value       = EXCLUDED.value,
			ttl_seconds = EXCLUDED.ttl_seconds,
			tags        = EXCLUDED.tags,
			metadata    = EXCLUDED.metadata,
			hit_count   = EXCLUDED.hit_count,
			created_at  = EXCLUDED.created_at,
			updated_at  = EXCLUDED.updated_at,
			expires_at  = EXCLUDED.expires_at`

	findByKeyQuery  = `SELECT ` + entryColumns + ` FROM cache_entries WHERE key = $1`
	findByKeysQuery = `SELECT ` + entryColumns + ` FROM cache_entries WHERE key = ANY($1)`
	existsQuery     = `
		SELECT EXISTS(
			SELECT 1 FROM cache_entries
			WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)
		)`

	deleteQuery          = `DELETE FROM cache_entries WHERE key = $1`
	deleteManyQuery      = `DELETE FROM cache_entries WHERE key = ANY($1)`
	deleteByTagsQuery    = `DELETE FROM cache_entries WHERE tags && $1::text[]`
	deleteByPatternQuery = `DELETE FROM cache_entries WHERE key LIKE $1`
	clearQuery           = `DELETE FROM cache_entries`

	findExpiredQuery = `
		SELECT ` + entryColumns + ` FROM cache_entries
		WHERE expires_at IS NOT NULL AND expires_at <= $1`
	countAllQuery     = `SELECT COUNT(*) FROM cache_entries`
	countExpiredQuery = `
		SELECT COUNT(*) FROM cache_entries
		WHERE expires_at IS NOT NULL AND expires_at <= $1`

	statisticsQuery = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE expires_at IS NOT NULL AND expires_at <= $1),
			COALESCE(SUM(hit_count), 0),
			COALESCE(SUM(length(key) + length(value)), 0),
			MIN(created_at),
			MAX(created_at)
		FROM cache_entries`
	entriesByTagQuery = `
		SELECT t, COUNT(*) FROM cache_entries, unnest(tags) AS t GROUP BY t`

	keysByTagQuery     = `SELECT key FROM cache_entries WHERE $1 = ANY(tags)`
	keysByPatternQuery = `SELECT key FROM cache_entries WHERE key LIKE $1`
	allKeysQuery       = `SELECT key FROM cache_entries`

	// A live row accumulates; an expired row is reset as if absent. Both
	// branches run inside one statement so racing callers serialize on the
	// row.
	incrementQuery = `
		INSERT INTO cache_entries (` + entryColumns + `)
		VALUES ($1, ($2)::text, $3, '{}', NULL, 0, $4, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			value = CASE
				WHEN cache_entries.expires_at IS NOT NULL AND cache_entries.expires_at <= $4
					THEN ($2)::text
				ELSE ((cache_entries.value)::bigint + $2)::text
			END,
			ttl_seconds = CASE
				WHEN cache_entries.expires_at IS NOT NULL AND cache_entries.expires_at <= $4
					THEN $3 ELSE cache_entries.ttl_seconds
			END,
			expires_at = CASE
				WHEN cache_entries.expires_at IS NOT NULL AND cache_entries.expires_at <= $4
					THEN $5 ELSE cache_entries.expires_at
			END,
			created_at = CASE
				WHEN cache_entries.expires_at IS NOT NULL AND cache_entries.expires_at <= $4
					THEN $4 ELSE cache_entries.created_at
			END,
			hit_count = CASE
				WHEN cache_entries.expires_at IS NOT NULL AND cache_entries.expires_at <= $4
					THEN 0 ELSE cache_entries.hit_count
			END,
			updated_at = $4
		RETURNING (value)::bigint`

	setIfNotExistsQuery = `
		INSERT INTO cache_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, '{}', NULL, 0, $4, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
			value       = EXCLUDED.value,
			ttl_seconds = EXCLUDED.ttl_seconds,
			tags        = EXCLUDED.tags,
			metadata    = EXCLUDED.metadata,
			hit_count   = EXCLUDED.hit_count,
			created_at  = EXCLUDED.created_at,
			updated_at  = EXCLUDED.updated_at,
			expires_at  = EXCLUDED.expires_at
		WHERE cache_entries.expires_at IS NOT NULL AND cache_entries.expires_at <= $4`

	selectForSwapQuery = `
		SELECT value, expires_at FROM cache_entries WHERE key = $1 FOR UPDATE`
	getAndDeleteQuery = `
		DELETE FROM cache_entries WHERE key = $1 RETURNING value, expires_at`

	extendTTLQuery = `
		UPDATE cache_entries
		SET ttl_seconds = $2, expires_at = $3, updated_at = $4
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > $4)`
	getTTLQuery = `SELECT expires_at FROM cache_entries WHERE key = $1`
	isExpiredQuery = `SELECT expires_at FROM cache_entries WHERE key = $1`
)

// Repository implements cache.Repository over a *sql.DB opened with Open.
// Callers own the database handle; Close closes it.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps an open database handle. The cache_entries schema must
// already be in place (see Schema and ApplyMigrations).
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Save(ctx context.Context, entry *cache.Entry) error {
	meta, err := encodeMetadata(entry.Metadata())
	if err != nil {
		return err
	}
	expires, _ := entry.ExpiresAt()
	_, err = r.db.ExecContext(ctx, saveEntryQuery,
		entry.Key().String(),
		entry.Value(),
		entry.TTL().Seconds(),
		pq.Array(cache.TagStrings(entry.Tags())),
		meta,
		entry.HitCount(),
		entry.CreatedAt(),
		entry.UpdatedAt(),
		nullTime(expires),
	)
	if err != nil {
		return fmt.Errorf("postgres: save: %w", err)
	}
	return nil
}

func (r *Repository) FindByKey(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	row := r.db.QueryRowContext(ctx, findByKeyQuery, key.String())
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find: %w", err)
	}
	return entry, nil
}

func (r *Repository) FindByKeys(ctx context.Context, keys []cache.Key) (map[cache.Key]*cache.Entry, error) {
	if len(keys) == 0 {
		return map[cache.Key]*cache.Entry{}, nil
	}
	rows, err := r.db.QueryContext(ctx, findByKeysQuery, pq.Array(rawKeys(keys)))
	if err != nil {
		return nil, fmt.Errorf("postgres: find many: %w", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[cache.Key]*cache.Entry, len(entries))
	for _, entry := range entries {
		out[entry.Key()] = entry
	}
	return out, nil
}

func (r *Repository) Exists(ctx context.Context, key cache.Key) (bool, error) {
	var present bool
	err := r.db.QueryRowContext(ctx, existsQuery, key.String(), r.now()).Scan(&present)
	if err != nil {
		return false, fmt.Errorf("postgres: exists: %w", err)
	}
	return present, nil
}

func (r *Repository) Delete(ctx context.Context, key cache.Key) error {
	if _, err := r.db.ExecContext(ctx, deleteQuery, key.String()); err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	return nil
}

func (r *Repository) DeleteMany(ctx context.Context, keys []cache.Key) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, deleteManyQuery, pq.Array(rawKeys(keys)))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete many: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) DeleteByTag(ctx context.Context, tag cache.Tag) (int64, error) {
	return r.DeleteByTags(ctx, []cache.Tag{tag})
}

func (r *Repository) DeleteByTags(ctx context.Context, tags []cache.Tag) (int64, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, deleteByTagsQuery, pq.Array(cache.TagStrings(tags)))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete by tags: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteByPatternQuery, globToLike(pattern))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete by pattern: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) Clear(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, clearQuery)
	if err != nil {
		return 0, fmt.Errorf("postgres: clear: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) Search(ctx context.Context, criteria cache.Criteria) ([]*cache.Entry, error) {
	query, args := buildSearch(`SELECT `+entryColumns+` FROM cache_entries`, criteria, true)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w", err)
	}
	return collectEntries(rows)
}

func (r *Repository) FindByTag(ctx context.Context, tag cache.Tag) ([]*cache.Entry, error) {
	return r.Search(ctx, cache.Criteria{Tags: []cache.Tag{tag}})
}

func (r *Repository) FindByTags(ctx context.Context, tags []cache.Tag) ([]*cache.Entry, error) {
	return r.Search(ctx, cache.Criteria{Tags: tags})
}

func (r *Repository) FindByPattern(ctx context.Context, pattern string) ([]*cache.Entry, error) {
	return r.Search(ctx, cache.Criteria{KeyPattern: pattern})
}

func (r *Repository) FindExpired(ctx context.Context) ([]*cache.Entry, error) {
	rows, err := r.db.QueryContext(ctx, findExpiredQuery, r.now())
	if err != nil {
		return nil, fmt.Errorf("postgres: find expired: %w", err)
	}
	return collectEntries(rows)
}

func (r *Repository) FindExpiringBefore(ctx context.Context, at time.Time) ([]*cache.Entry, error) {
	return r.Search(ctx, cache.Criteria{ExpiresBefore: at})
}

func (r *Repository) Count(ctx context.Context, criteria cache.Criteria) (int64, error) {
	query, args := buildSearch(`SELECT COUNT(*) FROM cache_entries`, criteria, false)
	var count int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	if criteria.Limit > 0 && count > int64(criteria.Limit) {
		count = int64(criteria.Limit)
	}
	return count, nil
}

func (r *Repository) CountAll(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, countAllQuery).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count all: %w", err)
	}
	return count, nil
}

func (r *Repository) CountExpired(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, countExpiredQuery, r.now()).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count expired: %w", err)
	}
	return count, nil
}

func (r *Repository) Statistics(ctx context.Context) (cache.Statistics, error) {
	stats := cache.Statistics{EntriesByTag: make(map[string]int64)}
	var oldest, newest sql.NullTime
	err := r.db.QueryRowContext(ctx, statisticsQuery, r.now()).Scan(
		&stats.TotalEntries,
		&stats.ExpiredEntries,
		&stats.Hits,
		&stats.MemoryBytes,
		&oldest,
		&newest,
	)
	if err != nil {
		return cache.Statistics{}, fmt.Errorf("postgres: statistics: %w", err)
	}
	stats.ActiveEntries = stats.TotalEntries - stats.ExpiredEntries
	if oldest.Valid {
		stats.OldestEntry = oldest.Time
	}
	if newest.Valid {
		stats.NewestEntry = newest.Time
	}

	rows, err := r.db.QueryContext(ctx, entriesByTagQuery)
	if err != nil {
		return cache.Statistics{}, fmt.Errorf("postgres: statistics tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			tag   string
			count int64
		)
		if err := rows.Scan(&tag, &count); err != nil {
			return cache.Statistics{}, fmt.Errorf("postgres: statistics tags: %w", err)
		}
		stats.EntriesByTag[tag] = count
	}
	if err := rows.Err(); err != nil {
		return cache.Statistics{}, fmt.Errorf("postgres: statistics tags: %w", err)
	}
	return stats, nil
}

func (r *Repository) KeysByTag(ctx context.Context, tag cache.Tag) ([]cache.Key, error) {
	return r.queryKeys(ctx, keysByTagQuery, tag.String())
}

func (r *Repository) KeysByPattern(ctx context.Context, pattern string) ([]cache.Key, error) {
	return r.queryKeys(ctx, keysByPatternQuery, globToLike(pattern))
}

func (r *Repository) AllKeys(ctx context.Context) ([]cache.Key, error) {
	return r.queryKeys(ctx, allKeysQuery)
}

func (r *Repository) Increment(ctx context.Context, key cache.Key, amount int64, ttl cache.TTL) (int64, error) {
	now := r.now()
	var next int64
	err := r.db.QueryRowContext(ctx, incrementQuery,
		key.String(), amount, ttl.Seconds(), now, expiryAt(ttl, now),
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("postgres: increment: %w", err)
	}
	return next, nil
}

func (r *Repository) Decrement(ctx context.Context, key cache.Key, amount int64, ttl cache.TTL) (int64, error) {
	return r.Increment(ctx, key, -amount, ttl)
}

func (r *Repository) GetAndSet(ctx context.Context, key cache.Key, value string, ttl cache.TTL) (string, bool, error) {
	now := r.now()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("postgres: get and set: %w", err)
	}
	defer tx.Rollback()

	var (
		prev    string
		expires sql.NullTime
		present bool
	)
	err = tx.QueryRowContext(ctx, selectForSwapQuery, key.String()).Scan(&prev, &expires)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return "", false, fmt.Errorf("postgres: get and set: %w", err)
	default:
		present = !expires.Valid || expires.Time.After(now)
	}
	if !present {
		prev = ""
	}

	_, err = tx.ExecContext(ctx, saveEntryQuery,
		key.String(), value, ttl.Seconds(), pq.Array([]string{}), nil,
		int64(0), now, now, expiryAt(ttl, now),
	)
	if err != nil {
		return "", false, fmt.Errorf("postgres: get and set: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("postgres: get and set: %w", err)
	}
	return prev, present, nil
}

func (r *Repository) SetIfNotExists(ctx context.Context, key cache.Key, value string, ttl cache.TTL) (bool, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx, setIfNotExistsQuery,
		key.String(), value, ttl.Seconds(), now, expiryAt(ttl, now),
	)
	if err != nil {
		return false, fmt.Errorf("postgres: set if not exists: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: set if not exists: %w", err)
	}
	return n > 0, nil
}

func (r *Repository) GetAndDelete(ctx context.Context, key cache.Key) (string, bool, error) {
	var (
		value   string
		expires sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, getAndDeleteQuery, key.String()).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres: get and delete: %w", err)
	}
	if expires.Valid && !expires.Time.After(r.now()) {
		return "", false, nil
	}
	return value, true, nil
}

func (r *Repository) SetMany(ctx context.Context, entries []*cache.Entry) error {
	for _, entry := range entries {
		if err := r.Save(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) GetMany(ctx context.Context, keys []cache.Key) (map[cache.Key]string, error) {
	entries, err := r.FindByKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[cache.Key]string, len(entries))
	for k, entry := range entries {
		out[k] = entry.Value()
	}
	return out, nil
}

func (r *Repository) ExtendTTL(ctx context.Context, key cache.Key, ttl cache.TTL) (bool, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx, extendTTLQuery,
		key.String(), ttl.Seconds(), expiryAt(ttl, now), now,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: extend ttl: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: extend ttl: %w", err)
	}
	return n > 0, nil
}

func (r *Repository) GetTTL(ctx context.Context, key cache.Key) (int64, error) {
	var expires sql.NullTime
	err := r.db.QueryRowContext(ctx, getTTLQuery, key.String()).Scan(&expires)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, cache.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get ttl: %w", err)
	}
	if !expires.Valid {
		return 0, nil
	}
	remaining := int64(expires.Time.Sub(r.now()).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (r *Repository) IsExpired(ctx context.Context, key cache.Key) (bool, error) {
	var expires sql.NullTime
	err := r.db.QueryRowContext(ctx, isExpiredQuery, key.String()).Scan(&expires)
	if errors.Is(err, sql.ErrNoRows) {
		return false, cache.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("postgres: is expired: %w", err)
	}
	return expires.Valid && !expires.Time.After(r.now()), nil
}

func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) now() time.Time {
	return time.Now().UTC()
}

func (r *Repository) queryKeys(ctx context.Context, query string, args ...any) ([]cache.Key, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: keys: %w", err)
	}
	defer rows.Close()
	var out []cache.Key
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: keys: %w", err)
		}
		key, err := cache.NewKey(raw)
		if err != nil {
			return nil, fmt.Errorf("postgres: keys: %w", err)
		}
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: keys: %w", err)
	}
	return out, nil
}

// buildSearch assembles a WHERE clause from the populated criteria fields.
// KeyPattern is translated to LIKE, so the glob dialect here matches the
// memory backend for the common * and ? forms.
func buildSearch(prefix string, criteria cache.Criteria, withLimit bool) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(criteria.Tags) > 0 {
		conds = append(conds, "tags && "+arg(pq.Array(cache.TagStrings(criteria.Tags)))+"::text[]")
	}
	if criteria.KeyPattern != "" {
		conds = append(conds, "key LIKE "+arg(globToLike(criteria.KeyPattern)))
	}
	if !criteria.CreatedAfter.IsZero() {
		conds = append(conds, "created_at > "+arg(criteria.CreatedAfter))
	}
	if !criteria.CreatedBefore.IsZero() {
		conds = append(conds, "created_at < "+arg(criteria.CreatedBefore))
	}
	if !criteria.ExpiresBefore.IsZero() {
		conds = append(conds, "expires_at IS NOT NULL AND expires_at < "+arg(criteria.ExpiresBefore))
	}
	if criteria.MinHitCount > 0 {
		conds = append(conds, "hit_count >= "+arg(criteria.MinHitCount))
	}

	query := prefix
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if withLimit && criteria.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", criteria.Limit)
	}
	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*cache.Entry, error) {
	var (
		rawKey     string
		value      string
		ttlSeconds int64
		rawTags    []string
		rawMeta    []byte
		hitCount   int64
		createdAt  time.Time
		updatedAt  time.Time
		expiresAt  sql.NullTime
	)
	err := row.Scan(&rawKey, &value, &ttlSeconds, pq.Array(&rawTags), &rawMeta,
		&hitCount, &createdAt, &updatedAt, &expiresAt)
	if err != nil {
		return nil, err
	}

	key, err := cache.NewKey(rawKey)
	if err != nil {
		return nil, err
	}
	ttl, err := cache.NewTTL(ttlSeconds)
	if err != nil {
		return nil, err
	}
	tags, err := cache.NewTags(rawTags...)
	if err != nil {
		return nil, err
	}
	var metadata map[string]string
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %q: %w", rawKey, err)
		}
	}

	var expires time.Time
	if expiresAt.Valid {
		expires = expiresAt.Time
	}
	return cache.RestoreEntry(key, value, ttl, tags, metadata, hitCount, createdAt, updatedAt, expires), nil
}

func collectEntries(rows *sql.Rows) ([]*cache.Entry, error) {
	defer rows.Close()
	var out []*cache.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan: %w", err)
	}
	return out, nil
}

func encodeMetadata(metadata map[string]string) (any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode metadata: %w", err)
	}
	return raw, nil
}

func rawKeys(keys []cache.Key) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	return out
}

func nullTime(at time.Time) sql.NullTime {
	return sql.NullTime{Time: at, Valid: !at.IsZero()}
}

func expiryAt(ttl cache.TTL, now time.Time) sql.NullTime {
	at, ok := ttl.ExpiresAt(now)
	return sql.NullTime{Time: at, Valid: ok}
}

// globToLike rewrites the * and ? glob forms into a LIKE pattern, escaping
// characters LIKE treats specially. Backslash escapes in the glob carry the
// next character through literally.
func globToLike(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '\\':
			if i+1 < len(pattern) {
				i++
				c = pattern[i]
			}
			if c == '%' || c == '_' || c == '\\' {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
		case '%', '_':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
