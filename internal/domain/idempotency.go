package domain

import (
	"errors"
	"strings"
	"time"
)

// IdempotencyStatus описывает жизненный цикл ключа идемпотентности.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что запрос завершён успешно и ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed означает, что обработка завершилась ошибкой.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

var (
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже занят тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ занят запросом с другим содержимым.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different payload")
	// ErrIdempotencyClaimLost — ключ уже не в processing: его завершил или перехватил другой обработчик.
	ErrIdempotencyClaimLost = errors.New("idempotency claim lost")
)

// IdempotencyClaim — попытка занять ключ под выполнение мутации.
type IdempotencyClaim struct {
	Key         string
	Method      string
	RequestHash string
	ExpiresAt   time.Time
	// StaleBefore — processing-запись, не обновлявшаяся с этого момента, считается
	// брошенной, и тот же запрос может занять ключ заново. Ноль отключает перехват.
	StaleBefore time.Time
}

// Normalize обрезает пробелы и проверяет обязательные поля.
func (c IdempotencyClaim) Normalize() (IdempotencyClaim, error) {
	c.Key = strings.TrimSpace(c.Key)
	c.RequestHash = strings.TrimSpace(c.RequestHash)
	c.Method = strings.TrimSpace(c.Method)
	if c.Key == "" {
		return c, ErrIdempotencyKeyRequired
	}
	if c.RequestHash == "" {
		return c, ErrIdempotencyRequestHashRequired
	}
	return c, nil
}

// IdempotencyOutcome — итог выполнения, который получат повторы с тем же ключом.
type IdempotencyOutcome struct {
	Status IdempotencyStatus
	Body   []byte
	// Code — код результата транспорта (gRPC code).
	Code int
	// Retryable — сбой временный: повтор с тем же ключом выполнит запрос заново.
	Retryable bool
}

// IdempotencyRecord хранит состояние обработки мутирующего вызова с idempotency-key.
type IdempotencyRecord struct {
	Key          string
	Method       string
	RequestHash  string
	ResponseBody []byte
	// StatusCode — код результата транспорта (gRPC code).
	StatusCode int
	Status     IdempotencyStatus
	Retryable  bool
	// Attempts — сколько раз ключ занимали под выполнение.
	Attempts  int
	TTLAt     time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reclaimable сообщает, может ли тот же запрос занять ключ повторно.
func (r IdempotencyRecord) Reclaimable(staleBefore time.Time) bool {
	switch r.Status {
	case IdempotencyStatusProcessing:
		return !staleBefore.IsZero() && r.UpdatedAt.Before(staleBefore)
	case IdempotencyStatusFailed:
		return r.Retryable
	default:
		return false
	}
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal — статус, которым можно завершить обработку.
func (s IdempotencyStatus) Terminal() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IsIdempotencyConflict сообщает, что ключ уже использован.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
