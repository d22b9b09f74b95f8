package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"statuswatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const schemaVersionKey = "schema_version"

// Store is the sqlite-backed persistence layer.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- meta ----

// SchemaVersion returns the persisted schema version, 0 when unset
// (fresh database).
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, schemaVersionKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("corrupt schema_version %q: %w", v, err)
	}
	return n, nil
}

func (s *Store) SetSchemaVersion(ctx context.Context, v int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		schemaVersionKey, strconv.Itoa(v),
	)
	return err
}

// ---- seen updates ----

func (s *Store) SeenIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT update_id FROM seen_updates`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// InsertSeen records update IDs as delivered. Re-inserting a known ID is a
// no-op, which keeps MarkSeen idempotent across crashed cycles.
func (s *Store) InsertSeen(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO seen_updates(update_id, first_seen) VALUES(?, ?)
		 ON CONFLICT(update_id) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	ts := at.UTC().Format(time.RFC3339Nano)
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, id, ts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ---- subscriptions ----

func (s *Store) ListSubscriptions(ctx context.Context) ([]SubscriptionRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, service_id, mode, use_webhook, webhook_url, webhook_ok FROM subscriptions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubscriptionRow
	for rows.Next() {
		var r SubscriptionRow
		var webhookOK sql.NullBool
		if err := rows.Scan(&r.ChatID, &r.ServiceID, &r.Mode, &r.UseWebhook, &r.WebhookURL, &webhookOK); err != nil {
			return nil, err
		}
		if webhookOK.Valid {
			v := webhookOK.Bool
			r.WebhookOK = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpsertSubscription(ctx context.Context, r SubscriptionRow) error {
	var webhookOK any
	if r.WebhookOK != nil {
		webhookOK = *r.WebhookOK
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(chat_id, service_id, mode, use_webhook, webhook_url, webhook_ok)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(chat_id, service_id) DO UPDATE SET
		   mode = excluded.mode,
		   use_webhook = excluded.use_webhook,
		   webhook_url = excluded.webhook_url,
		   webhook_ok = excluded.webhook_ok`,
		r.ChatID, r.ServiceID, r.Mode, r.UseWebhook, r.WebhookURL, webhookOK,
	)
	return err
}

func (s *Store) DeleteSubscription(ctx context.Context, chatID int64, serviceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE chat_id = ? AND service_id = ?`, chatID, serviceID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM edit_refs WHERE chat_id = ? AND service_id = ?`, chatID, serviceID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) SetWebhookOK(ctx context.Context, chatID int64, serviceID string, ok bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET webhook_ok = ? WHERE chat_id = ? AND service_id = ?`,
		ok, chatID, serviceID,
	)
	return err
}

// ---- edit refs ----

func (s *Store) ListEditRefs(ctx context.Context) ([]EditRefRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, service_id, incident_id, message_id FROM edit_refs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EditRefRow
	for rows.Next() {
		var r EditRefRow
		if err := rows.Scan(&r.ChatID, &r.ServiceID, &r.IncidentID, &r.MessageID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) PutEditRef(ctx context.Context, r EditRefRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO edit_refs(chat_id, service_id, incident_id, message_id)
		 VALUES(?,?,?,?)
		 ON CONFLICT(chat_id, service_id, incident_id) DO UPDATE SET
		   message_id = excluded.message_id`,
		r.ChatID, r.ServiceID, r.IncidentID, r.MessageID,
	)
	return err
}
