package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UserQueries provides access to follower accounts and their overrides.
type UserQueries struct {
	db *sql.DB
}

// NewUserQueries creates a UserQueries instance.
func NewUserQueries(db *sql.DB) *UserQueries {
	return &UserQueries{db: db}
}

const userColumns = `
	id, COALESCE(display_name, ''),
	COALESCE(api_key_enc, ''), COALESCE(api_secret_enc, ''), COALESCE(key_version, 1),
	auto_trade_enabled, enabled, created_at, updated_at`

func scanUser(scan func(dest ...any) error) (*User, error) {
	var u User
	err := scan(&u.ID, &u.DisplayName,
		&u.APIKeyEnc, &u.APISecretEnc, &u.KeyVersion,
		&u.AutoTradeEnabled, &u.Enabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Get returns one user by id.
func (q *UserQueries) Get(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	row := q.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = ?
	`, userID)

	u, err := scanUser(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// ListBroadcastTargets returns every enabled user with auto-trade on.
// Users without credentials are included; the caller counts them as skipped.
func (q *UserQueries) ListBroadcastTargets(ctx context.Context) ([]*User, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE enabled = 1 AND auto_trade_enabled = 1
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query broadcast targets: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Upsert creates or updates a user row (credentials untouched).
func (q *UserQueries) Upsert(ctx context.Context, u *User) error {
	if u.ID == "" {
		return ErrUserIDRequired
	}

	now := time.Now().UTC()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, auto_trade_enabled, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			auto_trade_enabled = excluded.auto_trade_enabled,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, u.ID, u.DisplayName, u.AutoTradeEnabled, u.Enabled, now, now)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// SetCredentials stores freshly encrypted API credentials for a user.
func (q *UserQueries) SetCredentials(ctx context.Context, userID, apiKeyEnc, apiSecretEnc string, keyVersion int) error {
	if userID == "" {
		return ErrUserIDRequired
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE users SET
			api_key_enc = ?,
			api_secret_enc = ?,
			key_version = ?,
			updated_at = ?
		WHERE id = ?
	`, apiKeyEnc, apiSecretEnc, keyVersion, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("set credentials: %w", err)
	}
	return requireRow(res)
}

// GetSettings returns per-user overrides; ErrNotFound when the user has none.
func (q *UserQueries) GetSettings(ctx context.Context, userID string) (*UserSettings, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	var s UserSettings
	err := q.db.QueryRowContext(ctx, `
		SELECT user_id, risk_percent, max_position_usdt, max_daily_loss_usdt,
		       max_dca_per_symbol, dca_risk_multiplier, fixed_leverage,
		       allowed_symbols, dedup_enabled, default_symbol, updated_at
		FROM user_settings
		WHERE user_id = ?
	`, userID).Scan(&s.UserID, &s.RiskPercent, &s.MaxPositionUsdt, &s.MaxDailyLossUsdt,
		&s.MaxDcaPerSymbol, &s.DcaRiskMultiplier, &s.FixedLeverage,
		&s.AllowedSymbols, &s.DedupEnabled, &s.DefaultSymbol, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user settings: %w", err)
	}
	return &s, nil
}

// UpsertSettings writes per-user overrides. NULL fields fall back to the
// global defaults at resolution time; validation happened before this call.
func (q *UserQueries) UpsertSettings(ctx context.Context, s *UserSettings) error {
	if s.UserID == "" {
		return ErrUserIDRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO user_settings (
			user_id, risk_percent, max_position_usdt, max_daily_loss_usdt,
			max_dca_per_symbol, dca_risk_multiplier, fixed_leverage,
			allowed_symbols, dedup_enabled, default_symbol, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			risk_percent = excluded.risk_percent,
			max_position_usdt = excluded.max_position_usdt,
			max_daily_loss_usdt = excluded.max_daily_loss_usdt,
			max_dca_per_symbol = excluded.max_dca_per_symbol,
			dca_risk_multiplier = excluded.dca_risk_multiplier,
			fixed_leverage = excluded.fixed_leverage,
			allowed_symbols = excluded.allowed_symbols,
			dedup_enabled = excluded.dedup_enabled,
			default_symbol = excluded.default_symbol,
			updated_at = excluded.updated_at
	`, s.UserID, s.RiskPercent, s.MaxPositionUsdt, s.MaxDailyLossUsdt,
		s.MaxDcaPerSymbol, s.DcaRiskMultiplier, s.FixedLeverage,
		s.AllowedSymbols, s.DedupEnabled, s.DefaultSymbol, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert user settings: %w", err)
	}
	return nil
}
