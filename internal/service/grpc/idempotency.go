package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const (
	// IdempotencyKeyHeader — ключ metadata для повторяемых мутаций.
	IdempotencyKeyHeader = "idempotency-key"

	defaultIdempotencyTTL = 24 * time.Hour
	// defaultIdempotencyLease — сколько processing-запись считается живой без обновления.
	defaultIdempotencyLease = 30 * time.Second
)

type idempotencyErrorPayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

type handlerFunc func(ctx context.Context) (*structpb.Struct, error)

// withIdempotency выполняет мутацию не более одного раза на ключ. Без ключа
// в metadata запрос выполняется как обычный.
func (s *OrderCoreService) withIdempotency(ctx context.Context, method string, req *structpb.Struct, handler handlerFunc) (*structpb.Struct, error) {
	if s.idemRepo == nil {
		return handler(ctx)
	}

	key := readIdempotencyKey(ctx)
	if key == "" {
		if s.requireIdempotencyKey {
			return nil, status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
		}
		return handler(ctx)
	}

	reqHash, err := buildIdempotencyRequestHash(method, req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	now := s.now()
	record, err := s.idemRepo.Claim(ctx, domain.IdempotencyClaim{
		Key:         key,
		Method:      method,
		RequestHash: reqHash,
		ExpiresAt:   now.Add(s.idempotencyTTL),
		StaleBefore: now.Add(-s.idempotencyLease),
	})
	if err != nil {
		return s.replayIdempotency(err, record)
	}
	if record.Attempts > 1 {
		s.logger.WithFields(log.Fields{
			"idempotency_key": key,
			"method":          method,
			"attempt":         record.Attempts,
		}).Info("idempotency key reclaimed")
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		s.cacheIdempotencyFailure(ctx, key, runErr)
		return nil, runErr
	}

	if cacheErr := s.cacheIdempotencySuccess(ctx, key, resp); cacheErr != nil {
		s.logger.WithError(cacheErr).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
	}
	return resp, nil
}

func (s *OrderCoreService) replayIdempotency(createErr error, record domain.IdempotencyRecord) (*structpb.Struct, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone:
			resp := &structpb.Struct{}
			if len(record.ResponseBody) == 0 {
				return resp, nil
			}
			if err := protojson.Unmarshal(record.ResponseBody, resp); err != nil {
				s.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached idempotency response")
				return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
			}
			return resp, nil
		case domain.IdempotencyStatusProcessing:
			return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
		case domain.IdempotencyStatusFailed:
			return nil, decodeIdempotencyFailure(record)
		default:
			return nil, status.Error(codes.Internal, "unknown idempotency record status")
		}
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}
}

func (s *OrderCoreService) cacheIdempotencySuccess(ctx context.Context, key string, resp *structpb.Struct) error {
	outcome := domain.IdempotencyOutcome{Status: domain.IdempotencyStatusDone, Code: int(codes.OK)}
	if resp != nil {
		data, err := protojson.Marshal(resp)
		if err != nil {
			return err
		}
		outcome.Body = data
	}
	return s.idemRepo.Complete(ctx, key, outcome)
}

// cacheIdempotencyFailure сохраняет ошибку для повторов. Временные сбои
// помечаются retryable: повтор с тем же ключом выполнит запрос заново.
func (s *OrderCoreService) cacheIdempotencyFailure(ctx context.Context, key string, runErr error) {
	st := status.Convert(runErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}

	payload, err := json.Marshal(idempotencyErrorPayload{
		Code:    int32(code), //nolint:gosec // codes.Code — ограниченное перечисление.
		Message: st.Message(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotency failure payload")
		payload = nil
	}

	outcome := domain.IdempotencyOutcome{
		Status:    domain.IdempotencyStatusFailed,
		Body:      payload,
		Code:      int(code),
		Retryable: transientCode(code),
	}
	if err := s.idemRepo.Complete(ctx, key, outcome); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"idempotency_key": key}).Warn("failed to store idempotency failure response")
	}
}

func transientCode(code codes.Code) bool {
	switch code {
	case codes.Unavailable, codes.Aborted, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Canceled:
		return true
	default:
		return false
	}
}

func decodeIdempotencyFailure(record domain.IdempotencyRecord) error {
	const fallback = "previous request with the same idempotency key failed"

	if len(record.ResponseBody) > 0 {
		var payload idempotencyErrorPayload
		if err := json.Unmarshal(record.ResponseBody, &payload); err == nil {
			if code, ok := grpcCode(int64(payload.Code)); ok && code != codes.OK {
				if payload.Message == "" {
					payload.Message = fallback
				}
				return status.Error(code, payload.Message)
			}
		}
	}

	if code, ok := grpcCode(int64(record.StatusCode)); ok && code != codes.OK {
		return status.Error(code, fallback)
	}
	return status.Error(codes.Internal, fallback)
}

func grpcCode(value int64) (codes.Code, bool) {
	if value < int64(codes.OK) || value > int64(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func readIdempotencyKey(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(IdempotencyKeyHeader); len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

func buildIdempotencyRequestHash(method string, req proto.Message) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}

	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
