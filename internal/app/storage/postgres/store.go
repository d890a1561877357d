package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/windrunne/6ix-app/internal/app/domain/chat"
	"github.com/windrunne/6ix-app/internal/app/domain/ghostask"
	"github.com/windrunne/6ix-app/internal/app/domain/intro"
	"github.com/windrunne/6ix-app/internal/app/domain/notification"
	"github.com/windrunne/6ix-app/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.IntroStore = (*Store)(nil)
var _ storage.GhostAskStore = (*Store)(nil)
var _ storage.NotificationStore = (*Store)(nil)
var _ storage.ChatStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// uniqueViolation is the PostgreSQL error code raised when an insert hits a
// unique index, including the partial index guarding one pending intro per
// ordered requester/target pair.
const uniqueViolation = "23505"

func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return storage.ErrDuplicate
	}
	return err
}

// --- IntroStore ---------------------------------------------------------------

func (s *Store) CreateIntroRequest(ctx context.Context, req intro.Request) (intro.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	mutualJSON, err := json.Marshal(req.MutualIDs)
	if err != nil {
		return intro.Request{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO intro_requests
			(id, requester_id, target_id, query_context, why_match, mutual_ids, mutual_count, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, req.ID, req.RequesterID, req.TargetID, req.QueryContext, req.WhyMatch,
		mutualJSON, req.MutualCount, req.Status, req.CreatedAt, req.ExpiresAt)
	if err != nil {
		return intro.Request{}, translate(err)
	}
	return req, nil
}

func (s *Store) GetIntroRequest(ctx context.Context, id string) (intro.Request, error) {
	return s.introBy(ctx, `
		SELECT id, requester_id, target_id, query_context, why_match, mutual_ids, mutual_count, status, created_at, responded_at, expires_at
		FROM intro_requests
		WHERE id = $1
	`, id)
}

func (s *Store) LatestResolvedIntro(ctx context.Context, requesterID, targetID string) (intro.Request, error) {
	return s.introBy(ctx, `
		SELECT id, requester_id, target_id, query_context, why_match, mutual_ids, mutual_count, status, created_at, responded_at, expires_at
		FROM intro_requests
		WHERE requester_id = $1 AND target_id = $2 AND status IN ('declined', 'expired')
		ORDER BY created_at DESC
		LIMIT 1
	`, requesterID, targetID)
}

func (s *Store) introBy(ctx context.Context, query string, args ...interface{}) (intro.Request, error) {
	row := s.db.QueryRowxContext(ctx, query, args...)

	var (
		req       intro.Request
		mutualRaw []byte
	)
	err := row.Scan(&req.ID, &req.RequesterID, &req.TargetID, &req.QueryContext, &req.WhyMatch,
		&mutualRaw, &req.MutualCount, &req.Status, &req.CreatedAt, &req.RespondedAt, &req.ExpiresAt)
	if err != nil {
		return intro.Request{}, translate(err)
	}
	if len(mutualRaw) > 0 {
		_ = json.Unmarshal(mutualRaw, &req.MutualIDs)
	}
	return req, nil
}

func (s *Store) UpdateIntroStatusIf(ctx context.Context, id string, from, to intro.Status, respondedAt *time.Time) (intro.Request, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE intro_requests
		SET status = $3, responded_at = COALESCE($4, responded_at)
		WHERE id = $1 AND status = $2
	`, id, from, to, respondedAt)
	if err != nil {
		return intro.Request{}, translate(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, getErr := s.GetIntroRequest(ctx, id); getErr != nil {
			return intro.Request{}, getErr
		}
		return intro.Request{}, storage.ErrPredicateFailed
	}
	return s.GetIntroRequest(ctx, id)
}

func (s *Store) ExpireIntroRequests(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE intro_requests
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

func (s *Store) ListIntroRequestsByRequester(ctx context.Context, requesterID string, status intro.Status) ([]intro.Request, error) {
	return s.listIntros(ctx, "requester_id", requesterID, status)
}

func (s *Store) ListIntroRequestsByTarget(ctx context.Context, targetID string, status intro.Status) ([]intro.Request, error) {
	return s.listIntros(ctx, "target_id", targetID, status)
}

func (s *Store) listIntros(ctx context.Context, column, userID string, status intro.Status) ([]intro.Request, error) {
	query := `
		SELECT id, requester_id, target_id, query_context, why_match, mutual_ids, mutual_count, status, created_at, responded_at, expires_at
		FROM intro_requests
		WHERE ` + column + ` = $1`
	args := []interface{}{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]intro.Request, 0)
	for rows.Next() {
		var (
			req       intro.Request
			mutualRaw []byte
		)
		err := rows.Scan(&req.ID, &req.RequesterID, &req.TargetID, &req.QueryContext, &req.WhyMatch,
			&mutualRaw, &req.MutualCount, &req.Status, &req.CreatedAt, &req.RespondedAt, &req.ExpiresAt)
		if err != nil {
			return nil, err
		}
		if len(mutualRaw) > 0 {
			_ = json.Unmarshal(mutualRaw, &req.MutualIDs)
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

// --- GhostAskStore ------------------------------------------------------------

func (s *Store) CreateGhostAsk(ctx context.Context, ask ghostask.Ask) (ghostask.Ask, error) {
	if ask.ID == "" {
		ask.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ghost_asks
			(id, sender_id, recipient_id, message, status, unlocked, persuasion_attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ask.ID, ask.SenderID, ask.RecipientID, ask.Message, ask.Status,
		ask.Unlocked, ask.PersuasionAttempts, ask.CreatedAt)
	if err != nil {
		return ghostask.Ask{}, translate(err)
	}
	return ask, nil
}

func (s *Store) GetGhostAsk(ctx context.Context, id string) (ghostask.Ask, error) {
	var ask ghostask.Ask
	err := s.db.GetContext(ctx, &ask, `
		SELECT id, sender_id, recipient_id, message, status, unlocked, persuasion_attempts, created_at, sent_at
		FROM ghost_asks
		WHERE id = $1
	`, id)
	if err != nil {
		return ghostask.Ask{}, translate(err)
	}
	return ask, nil
}

func (s *Store) UnlockGhostAsk(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE ghost_asks
		SET unlocked = TRUE
		WHERE id = $1 AND status = 'pending' AND unlocked = FALSE
	`, id)
	if err != nil {
		return false, translate(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		if _, getErr := s.GetGhostAsk(ctx, id); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) IncrementPersuasion(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.db.GetContext(ctx, &attempts, `
		UPDATE ghost_asks
		SET persuasion_attempts = persuasion_attempts + 1
		WHERE id = $1 AND status = 'pending'
		RETURNING persuasion_attempts
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.GetGhostAsk(ctx, id); getErr != nil {
				return 0, getErr
			}
			return 0, storage.ErrPredicateFailed
		}
		return 0, translate(err)
	}
	return attempts, nil
}

func (s *Store) MarkGhostAskSent(ctx context.Context, id string, sentAt time.Time) (ghostask.Ask, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE ghost_asks
		SET status = 'sent', sent_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, sentAt)
	if err != nil {
		return ghostask.Ask{}, translate(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, getErr := s.GetGhostAsk(ctx, id); getErr != nil {
			return ghostask.Ask{}, getErr
		}
		return ghostask.Ask{}, storage.ErrPredicateFailed
	}
	return s.GetGhostAsk(ctx, id)
}

// --- NotificationStore ----------------------------------------------------------

func (s *Store) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	payloadJSON, err := json.Marshal(n.Payload)
	if err != nil {
		return notification.Notification{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications
			(id, user_id, sender_ref, type, title, body, payload, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.ID, n.UserID, n.SenderRef, n.Type, n.Title, n.Body, payloadJSON, n.Read, n.CreatedAt)
	if err != nil {
		return notification.Notification{}, translate(err)
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]notification.Notification, error) {
	query := `
		SELECT id, user_id, sender_ref, type, title, body, payload, read, created_at
		FROM notifications
		WHERE user_id = $1`
	if unreadOnly {
		query += ` AND read = FALSE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]notification.Notification, 0)
	for rows.Next() {
		var (
			n          notification.Notification
			payloadRaw []byte
		)
		err := rows.Scan(&n.ID, &n.UserID, &n.SenderRef, &n.Type, &n.Title, &n.Body,
			&payloadRaw, &n.Read, &n.CreatedAt)
		if err != nil {
			return nil, err
		}
		if len(payloadRaw) > 0 {
			_ = json.Unmarshal(payloadRaw, &n.Payload)
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET read = TRUE
		WHERE id = $1
	`, id)
	if err != nil {
		return translate(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- ChatStore ------------------------------------------------------------------

func (s *Store) CreateChatThread(ctx context.Context, thread chat.Thread, seed chat.Message) (chat.Thread, error) {
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	if seed.ID == "" {
		seed.ID = uuid.NewString()
	}
	seed.ThreadID = thread.ID

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return chat.Thread{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_threads (id, user_a, user_b, created_at)
		VALUES ($1, $2, $3, $4)
	`, thread.ID, thread.UserA, thread.UserB, thread.CreatedAt)
	if err != nil {
		return chat.Thread{}, translate(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, thread_id, sender_ref, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, seed.ID, seed.ThreadID, seed.SenderRef, seed.Body, seed.CreatedAt)
	if err != nil {
		return chat.Thread{}, translate(err)
	}

	if err := tx.Commit(); err != nil {
		return chat.Thread{}, err
	}
	return thread, nil
}
