package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Egles-vieira/fernandes-surgical-crm-sub000/internal/model"
)

// Postgres implements Store on database/sql with the pgx stdlib driver.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

func (s *Postgres) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, provider_kind, status
		FROM accounts
		WHERE id = $1
	`, id).Scan(&a.ID, &a.Name, &a.ProviderKind, &a.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Postgres) SetAccountStatus(ctx context.Context, id string, status model.ConnectionStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	return err
}

func (s *Postgres) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	var c model.Contact
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, phone, COALESCE(name, '')
		FROM contacts
		WHERE id = $1
	`, id).Scan(&c.ID, &c.AccountID, &c.Phone, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Postgres) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	var lastInbound sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, contact_id, status, last_message_at, last_inbound_at
		FROM conversations
		WHERE id = $1
	`, id).Scan(&c.ID, &c.AccountID, &c.ContactID, &c.Status, &c.LastMessageAt, &lastInbound)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastInbound.Valid {
		t := lastInbound.Time
		c.LastInboundAt = &t
	}
	return &c, nil
}

func (s *Postgres) EnsureConversation(ctx context.Context, accountID, phone, name string) (*model.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var contactID string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO contacts (id, account_id, phone, name, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), now())
		ON CONFLICT (account_id, phone)
		DO UPDATE SET name = COALESCE(contacts.name, EXCLUDED.name)
		RETURNING id
	`, uuid.NewString(), accountID, phone, name).Scan(&contactID)
	if err != nil {
		return nil, err
	}

	conv := &model.Conversation{AccountID: accountID, ContactID: contactID}
	var lastInbound sql.NullTime
	err = tx.QueryRowContext(ctx, `
		INSERT INTO conversations (id, account_id, contact_id, status, last_message_at, created_at)
		VALUES ($1, $2, $3, 'open', now(), now())
		ON CONFLICT (account_id, contact_id)
		DO UPDATE SET status = conversations.status
		RETURNING id, status, last_message_at, last_inbound_at
	`, uuid.NewString(), accountID, contactID).Scan(&conv.ID, &conv.Status, &conv.LastMessageAt, &lastInbound)
	if err != nil {
		return nil, err
	}
	if lastInbound.Valid {
		t := lastInbound.Time
		conv.LastInboundAt = &t
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Postgres) TouchOutbound(ctx context.Context, conversationID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_at = GREATEST(last_message_at, $2), updated_at = now()
		WHERE id = $1
	`, conversationID, at)
	return err
}

func (s *Postgres) TouchInbound(ctx context.Context, conversationID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_at = GREATEST(last_message_at, $2),
		    last_inbound_at = GREATEST(COALESCE(last_inbound_at, 'epoch'::timestamptz), $2),
		    updated_at = now()
		WHERE id = $1
	`, conversationID, at)
	return err
}

func (s *Postgres) CreateMessage(ctx context.Context, m *model.Message) error {
	reactions, err := json.Marshal(m.Reactions)
	if err != nil {
		return err
	}

	var attachmentURL, attachmentMime, attachmentName sql.NullString
	var attachmentDur sql.NullInt64
	if m.Attachment != nil {
		attachmentURL = sql.NullString{String: m.Attachment.URL, Valid: true}
		attachmentMime = sql.NullString{String: m.Attachment.Mime, Valid: true}
		attachmentName = sql.NullString{String: m.Attachment.Filename, Valid: m.Attachment.Filename != ""}
		attachmentDur = sql.NullInt64{Int64: m.Attachment.DurationMs, Valid: m.Attachment.DurationMs > 0}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, direction, kind, body,
			attachment_url, attachment_mime, attachment_filename, attachment_duration_ms,
			status, provider_message_id, attempt_count, next_attempt_at,
			edited, deleted, reactions, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, NULLIF($11, ''), $12, $13,
			$14, $15, $16, $17, $17
		)
	`,
		m.ID, m.ConversationID, m.Direction, m.Kind, m.Body,
		attachmentURL, attachmentMime, attachmentName, attachmentDur,
		m.Status, m.ProviderMessageID, m.AttemptCount, m.NextAttemptAt,
		m.Edited, m.Deleted, reactions, m.CreatedAt,
	)
	return err
}

const messageColumns = `
	id, conversation_id, direction, kind, body,
	attachment_url, attachment_mime, attachment_filename, attachment_duration_ms,
	status, error_code, error_message, failed_at,
	provider_message_id, attempt_count, next_attempt_at,
	edited, deleted, reactions, created_at, updated_at
`

func scanMessage(row interface{ Scan(...any) error }) (*model.Message, error) {
	var m model.Message
	var attachmentURL, attachmentMime, attachmentName sql.NullString
	var attachmentDur sql.NullInt64
	var errCode, errMsg, providerID sql.NullString
	var failedAt, nextAttempt sql.NullTime
	var reactions []byte

	err := row.Scan(
		&m.ID, &m.ConversationID, &m.Direction, &m.Kind, &m.Body,
		&attachmentURL, &attachmentMime, &attachmentName, &attachmentDur,
		&m.Status, &errCode, &errMsg, &failedAt,
		&providerID, &m.AttemptCount, &nextAttempt,
		&m.Edited, &m.Deleted, &reactions, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if attachmentURL.Valid {
		m.Attachment = &model.Attachment{
			URL:        attachmentURL.String,
			Mime:       attachmentMime.String,
			Filename:   attachmentName.String,
			DurationMs: attachmentDur.Int64,
		}
	}
	if errCode.Valid {
		m.Error = &model.ErrorInfo{Code: errCode.String, Message: errMsg.String}
	}
	if failedAt.Valid {
		t := failedAt.Time
		m.FailedAt = &t
	}
	if providerID.Valid {
		m.ProviderMessageID = providerID.String
	}
	if nextAttempt.Valid {
		t := nextAttempt.Time
		m.NextAttemptAt = &t
	}
	if len(reactions) > 0 {
		if err := json.Unmarshal(reactions, &m.Reactions); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func (s *Postgres) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
}

func (s *Postgres) GetMessageByProviderID(ctx context.Context, providerMessageID string) (*model.Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE provider_message_id = $1`, providerMessageID))
}

func (s *Postgres) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Postgres) ClaimPending(ctx context.Context, limit int, now time.Time) ([]model.Message, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Oldest pending outbound per conversation, skipping conversations
	// with an in-flight send, so one conversation never has two sends
	// racing and creation order is preserved.
	rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE id IN (
			SELECT DISTINCT ON (conversation_id) id
			FROM messages
			WHERE direction = 'outbound' AND status = 'pending'
			ORDER BY conversation_id, created_at ASC
		)
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
		  AND NOT EXISTS (
			SELECT 1 FROM messages inflight
			WHERE inflight.conversation_id = messages.conversation_id
			  AND inflight.status = 'sending'
		  )
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(msgs) == 0 {
		return nil, tx.Commit()
	}

	for i := range msgs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET status = 'sending', updated_at = $2 WHERE id = $1
		`, msgs[i].ID, now); err != nil {
			return nil, err
		}
		msgs[i].Status = model.Sending
		msgs[i].UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Postgres) MarkSent(ctx context.Context, id, providerMessageID string) error {
	// A receipt may already have advanced the status past sent; keep the
	// max of current and incoming.
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET provider_message_id = $2,
		    status = CASE WHEN status = 'sending' THEN 'sent' ELSE status END,
		    updated_at = now()
		WHERE id = $1
	`, id, providerMessageID)
	return err
}

func (s *Postgres) ScheduleRetry(ctx context.Context, id string, nextAttemptAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'pending',
		    attempt_count = attempt_count + 1,
		    next_attempt_at = $2,
		    updated_at = now()
		WHERE id = $1 AND status = 'sending'
	`, id, nextAttemptAt)
	return err
}

func (s *Postgres) MarkErrored(ctx context.Context, id string, info model.ErrorInfo, failedAt time.Time, consumeAttempt bool) error {
	attempt := 0
	if consumeAttempt {
		attempt = 1
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'error',
		    error_code = $2,
		    error_message = $3,
		    failed_at = $4,
		    attempt_count = attempt_count + $5,
		    updated_at = now()
		WHERE id = $1
	`, id, info.Code, info.Message, failedAt, attempt)
	return err
}

// statusRankSQL mirrors model.Status.Rank for the compare-and-set below.
const statusRankSQL = `
	CASE status
		WHEN 'pending' THEN 0
		WHEN 'sending' THEN 1
		WHEN 'sent' THEN 2
		WHEN 'delivered' THEN 3
		WHEN 'read' THEN 4
		ELSE -1
	END
`

func (s *Postgres) AdvanceStatus(ctx context.Context, id string, status model.Status) (bool, error) {
	rank, ok := status.Rank()
	if !ok {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = $2, updated_at = now()
		WHERE id = $1 AND `+statusRankSQL+` >= 0 AND `+statusRankSQL+` < $3
	`, id, status, rank)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Postgres) ResetForResend(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'pending',
		    error_code = NULL,
		    error_message = NULL,
		    failed_at = NULL,
		    attempt_count = 0,
		    next_attempt_at = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

func (s *Postgres) SetReaction(ctx context.Context, id, actor, emoji string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	err = tx.QueryRowContext(ctx, `
		SELECT reactions FROM messages WHERE id = $1 FOR UPDATE
	`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var reactions []model.Reaction
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &reactions); err != nil {
			return err
		}
	}

	kept := reactions[:0]
	for _, r := range reactions {
		if r.Actor != actor {
			kept = append(kept, r)
		}
	}
	if emoji != "" {
		kept = append(kept, model.Reaction{Emoji: emoji, Actor: actor})
	}

	updated, err := json.Marshal(kept)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET reactions = $2, updated_at = now() WHERE id = $1
	`, id, updated); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Postgres) ApplyEdit(ctx context.Context, id, body string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET body = $2, edited = TRUE, updated_at = now() WHERE id = $1
	`, id, body)
	return err
}

func (s *Postgres) Tombstone(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET deleted = TRUE, updated_at = now()
		WHERE id = $1 AND deleted = FALSE
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Postgres) MarkConversationRead(ctx context.Context, conversationID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'read', updated_at = now()
		WHERE conversation_id = $1 AND direction = 'inbound' AND status = 'received'
	`, conversationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
