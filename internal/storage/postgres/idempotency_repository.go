package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

const idempotencyColumns = `key, method, request_hash, response_body, status_code, status, retryable, attempts, ttl_at, created_at, updated_at`

// claimIdempotencySQL создаёт ключ или занимает его заново, если прежняя
// попытка того же запроса брошена в processing или упала с временной ошибкой.
// Конфликт без выполненного UPDATE не возвращает строк.
const claimIdempotencySQL = `
	INSERT INTO idempotency_keys (key, method, request_hash, status, retryable, attempts, ttl_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, FALSE, 1, $5, $6, $6)
	ON CONFLICT (key) DO UPDATE
	SET method = EXCLUDED.method,
	    status = EXCLUDED.status,
	    retryable = FALSE,
	    attempts = idempotency_keys.attempts + 1,
	    response_body = NULL,
	    status_code = NULL,
	    ttl_at = EXCLUDED.ttl_at,
	    updated_at = EXCLUDED.updated_at
	WHERE idempotency_keys.request_hash = EXCLUDED.request_hash
	  AND ((idempotency_keys.status = $4 AND idempotency_keys.updated_at < $7)
	       OR (idempotency_keys.status = $8 AND idempotency_keys.retryable))
	RETURNING ` + idempotencyColumns

// idempotencyRepository хранит ответы мутирующих gRPC-вызовов по ключу.
type idempotencyRepository struct {
	q querier
}

func (r idempotencyRepository) Claim(ctx context.Context, claim domain.IdempotencyClaim) (domain.IdempotencyRecord, error) {
	claim, err := claim.Normalize()
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	now := time.Now().UTC()
	if claim.ExpiresAt.IsZero() {
		claim.ExpiresAt = now.Add(defaultIdempotencyTTL)
	}

	record, err := scanIdempotency(r.q.QueryRowContext(ctx, claimIdempotencySQL,
		claim.Key,
		claim.Method,
		claim.RequestHash,
		string(domain.IdempotencyStatusProcessing),
		claim.ExpiresAt.UTC(),
		now,
		nullTime(claim.StaleBefore),
		string(domain.IdempotencyStatusFailed),
	))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key %s: %w", claim.Key, err)
	}

	current, err := r.Get(ctx, claim.Key)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("read claimed idempotency key %s: %w", claim.Key, err)
	}
	if current.RequestHash != claim.RequestHash {
		return current, domain.ErrIdempotencyHashMismatch
	}
	return current, domain.ErrIdempotencyKeyAlreadyExists
}

func (r idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	record, err := scanIdempotency(r.q.QueryRowContext(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1`, key))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	case err != nil:
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key %s: %w", key, err)
	}
	return record, nil
}

func (r idempotencyRepository) Complete(ctx context.Context, key string, outcome domain.IdempotencyOutcome) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if !outcome.Status.Terminal() {
		return fmt.Errorf("complete idempotency key %s with status %q", key, outcome.Status)
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $2, response_body = $3, status_code = $4, retryable = $5, updated_at = $6
		WHERE key = $1 AND status = $7
	`,
		key,
		string(outcome.Status),
		outcome.Body,
		outcome.Code,
		outcome.Status == domain.IdempotencyStatusFailed && outcome.Retryable,
		time.Now().UTC(),
		string(domain.IdempotencyStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("complete idempotency key %s: %w", key, err)
	}
	affected, err := rowsAffected(res, "idempotency complete")
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	current, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: key %s is %s", domain.ErrIdempotencyClaimLost, key, current.Status)
}

func (r idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	// LIMIT NULL в Postgres означает «без ограничения».
	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at, key
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
	`, before.UTC(), batch)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}

	affected, err := rowsAffected(res, "idempotency cleanup")
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func scanIdempotency(row *sql.Row) (domain.IdempotencyRecord, error) {
	var (
		record domain.IdempotencyRecord
		status string
		body   []byte
		code   sql.NullInt64
	)
	err := row.Scan(
		&record.Key,
		&record.Method,
		&record.RequestHash,
		&body,
		&code,
		&status,
		&record.Retryable,
		&record.Attempts,
		&record.TTLAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", status, record.Key)
	}
	if len(body) > 0 {
		record.ResponseBody = append([]byte(nil), body...)
	}
	record.StatusCode = int(code.Int64)
	record.TTLAt = record.TTLAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

var _ domain.IdempotencyRepository = idempotencyRepository{}
