package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"polity/engine/internal/poll"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const pollColumns = `id, tenant_id, kind, name, question, created_at, deadline, active,
	COALESCE(result, ''), options, policy_id, about_to_end_notified_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPoll(row rowScanner) (poll.Poll, error) {
	var (
		meta       poll.Meta
		kind       string
		options    []byte
		policyID   sql.NullString
		notifiedAt sql.NullTime
	)
	if err := row.Scan(
		&meta.ID, &meta.TenantID, &kind, &meta.Name, &meta.Question,
		&meta.CreatedAt, &meta.Deadline, &meta.Active, &meta.Result,
		&options, &policyID, &notifiedAt,
	); err != nil {
		return nil, err
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &meta.Options); err != nil {
			return nil, fmt.Errorf("decode options of poll %s: %w", meta.ID, err)
		}
	}
	if policyID.Valid {
		id := policyID.String
		meta.PolicyID = &id
	}
	if notifiedAt.Valid {
		at := notifiedAt.Time
		meta.AboutToEndNotifiedAt = &at
	}
	return poll.FromRecord(poll.Kind(kind), meta)
}

func (s *PostgresStore) queryPolls(ctx context.Context, query string, args ...any) ([]poll.Poll, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var polls []poll.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		polls = append(polls, p)
	}
	return polls, rows.Err()
}

func (s *PostgresStore) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM tenants ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		var tenant Tenant
		if err := rows.Scan(&tenant.ID, &tenant.Name, &tenant.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

func (s *PostgresStore) GetActivePolls(ctx context.Context) ([]poll.Poll, error) {
	polls, err := s.queryPolls(ctx, `SELECT `+pollColumns+` FROM polls WHERE active ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list active polls: %w", err)
	}
	return polls, nil
}

// GetUnresolvedPolls returns polls that were ended without a stored result.
func (s *PostgresStore) GetUnresolvedPolls(ctx context.Context) ([]poll.Poll, error) {
	polls, err := s.queryPolls(ctx, `SELECT `+pollColumns+` FROM polls WHERE NOT active AND result IS NULL ORDER BY deadline, id`)
	if err != nil {
		return nil, fmt.Errorf("list unresolved polls: %w", err)
	}
	return polls, nil
}

// GetPollsSince returns the tenant's polls whose deadline is at or after since.
func (s *PostgresStore) GetPollsSince(ctx context.Context, tenantID string, since time.Time) ([]poll.Poll, error) {
	polls, err := s.queryPolls(ctx, `
		SELECT `+pollColumns+`
		FROM polls
		WHERE tenant_id = $1 AND deadline >= $2
		ORDER BY deadline, id
	`, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("list polls since: %w", err)
	}
	return polls, nil
}

// LatestEndedAuthorityPoll returns nil when the tenant never finished one.
func (s *PostgresStore) LatestEndedAuthorityPoll(ctx context.Context, tenantID string) (poll.Poll, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+pollColumns+`
		FROM polls
		WHERE tenant_id = $1 AND kind = $2 AND NOT active
		ORDER BY deadline DESC, id DESC
		LIMIT 1
	`, tenantID, string(poll.KindAuthority))
	p, err := scanPoll(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest authority poll: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) CountPolls(ctx context.Context, tenantID string, kind poll.Kind) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM polls WHERE tenant_id = $1 AND kind = $2`, tenantID, string(kind)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count polls: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) AddPoll(ctx context.Context, p poll.Poll) error {
	meta := p.Info()
	var options any
	if meta.Options != nil {
		encoded, err := json.Marshal(meta.Options)
		if err != nil {
			return fmt.Errorf("encode poll options: %w", err)
		}
		options = encoded
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO polls (id, tenant_id, kind, name, question, created_at, deadline, active, options, policy_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, meta.ID, meta.TenantID, string(p.Kind()), meta.Name, meta.Question,
		meta.CreatedAt, meta.Deadline, meta.Active, options, meta.PolicyID)
	if err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}
	return nil
}

// EndPoll closes an active poll and stamps its deadline with the closing time.
func (s *PostgresStore) EndPoll(ctx context.Context, pollID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE polls SET active = FALSE, deadline = $2 WHERE id = $1 AND active`, pollID, at)
	if err != nil {
		return fmt.Errorf("end poll: %w", err)
	}
	return nil
}

// SetResult writes the result once; later writes are ignored.
func (s *PostgresStore) SetResult(ctx context.Context, pollID, result string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE polls SET result = $2 WHERE id = $1 AND result IS NULL`, pollID, result)
	if err != nil {
		return fmt.Errorf("set poll result: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkAboutToEnd(ctx context.Context, pollID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE polls SET about_to_end_notified_at = $2
		WHERE id = $1 AND about_to_end_notified_at IS NULL
	`, pollID, at)
	if err != nil {
		return fmt.Errorf("mark poll about to end: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetVotesFor(ctx context.Context, pollID string) ([]poll.Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT poll_id, voter_id, voted_for, value, created_at
		FROM votes
		WHERE poll_id = $1
		ORDER BY created_at, id
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var votes []poll.Vote
	for rows.Next() {
		var (
			vote     poll.Vote
			votedFor sql.NullString
		)
		if err := rows.Scan(&vote.PollID, &vote.VoterID, &votedFor, &vote.Value, &vote.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		if votedFor.Valid {
			target := votedFor.String
			vote.VotedFor = &target
		}
		votes = append(votes, vote)
	}
	return votes, rows.Err()
}

func (s *PostgresStore) CountDistinctVoters(ctx context.Context, pollID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT voter_id) FROM votes WHERE poll_id = $1`, pollID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count voters: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountConfirmedUsers(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users
		WHERE tenant_id = $1 AND is_confirmed AND deleted_at IS NULL
	`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count confirmed users: %w", err)
	}
	return count, nil
}

// CountVoters counts the users currently holding authority.
func (s *PostgresStore) CountVoters(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM user_authority ua
		JOIN users u ON u.id = ua.user_id
		WHERE ua.tenant_id = $1 AND ua.authority_percent > 0 AND u.deleted_at IS NULL
	`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count voters: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ActiveUserIDs(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM users
		WHERE tenant_id = $1 AND is_confirmed AND deleted_at IS NULL
		ORDER BY id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) MemberEmails(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email FROM users
		WHERE tenant_id = $1 AND is_confirmed AND deleted_at IS NULL AND email <> ''
		ORDER BY email
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list member emails: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

func (s *PostgresStore) GetAuthorityWeights(ctx context.Context, tenantID string) (map[string]float64, error) {
	return s.authorityColumn(ctx, tenantID, "authority_percent")
}

func (s *PostgresStore) GetInitialAuthorityWeights(ctx context.Context, tenantID string) (map[string]float64, error) {
	return s.authorityColumn(ctx, tenantID, "initial_authority_percent")
}

func (s *PostgresStore) authorityColumn(ctx context.Context, tenantID, column string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ua.user_id, ua.`+column+`
		FROM user_authority ua
		JOIN users u ON u.id = ua.user_id
		WHERE ua.tenant_id = $1 AND u.deleted_at IS NULL
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", column, err)
	}
	defer rows.Close()

	weights := make(map[string]float64)
	for rows.Next() {
		var (
			userID string
			weight float64
		)
		if err := rows.Scan(&userID, &weight); err != nil {
			return nil, fmt.Errorf("scan %s: %w", column, err)
		}
		weights[userID] = weight
	}
	return weights, rows.Err()
}

// SetAuthorityWeights replaces the tenant's authority: users missing from
// weights drop to zero.
func (s *PostgresStore) SetAuthorityWeights(ctx context.Context, tenantID string, weights map[string]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin authority tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE user_authority SET authority_percent = 0, updated_at = NOW()
		WHERE tenant_id = $1
	`, tenantID); err != nil {
		return fmt.Errorf("reset authority: %w", err)
	}

	for userID, weight := range weights {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_authority (user_id, tenant_id, authority_percent, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (user_id) DO UPDATE SET authority_percent = EXCLUDED.authority_percent, updated_at = NOW()
		`, userID, tenantID, weight); err != nil {
			return fmt.Errorf("write authority for %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit authority tx: %w", err)
	}
	return nil
}

// AcceptPolicy activates the policy and overrides whichever policy of the
// same tenant was active before it.
func (s *PostgresStore) AcceptPolicy(ctx context.Context, policyID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin policy tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var tenantID string
	if err := tx.QueryRowContext(ctx, `SELECT tenant_id FROM policies WHERE id = $1 FOR UPDATE`, policyID).Scan(&tenantID); err != nil {
		return fmt.Errorf("lock policy %s: %w", policyID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE policies SET status = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id <> $2 AND status = $4
	`, tenantID, policyID, string(poll.PolicyOverridden), string(poll.PolicyActive)); err != nil {
		return fmt.Errorf("override active policy: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE policies SET status = $2, updated_at = NOW() WHERE id = $1
	`, policyID, string(poll.PolicyActive)); err != nil {
		return fmt.Errorf("activate policy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit policy tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) RejectPolicy(ctx context.Context, policyID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE policies SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, policyID, string(poll.PolicyRejected), string(poll.PolicyVoting))
	if err != nil {
		return fmt.Errorf("reject policy: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPolicy(ctx context.Context, policyID string) (Policy, error) {
	var (
		policy  Policy
		status  string
		ownerID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, title, body, status, owner_id, created_at, updated_at
		FROM policies WHERE id = $1
	`, policyID).Scan(&policy.ID, &policy.TenantID, &policy.Title, &policy.Body, &status, &ownerID, &policy.CreatedAt, &policy.UpdatedAt)
	if err != nil {
		return Policy{}, err
	}
	policy.Status = poll.PolicyStatus(status)
	policy.OwnerID = ownerID.String
	return policy, nil
}

func (s *PostgresStore) TenantSetting(ctx context.Context, tenantID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM tenant_settings WHERE tenant_id = $1 AND key = $2`, tenantID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read tenant setting: %w", err)
	}
	return value, true, nil
}
