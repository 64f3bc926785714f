package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
	"time"

	"rentalcore/internal/app/commands"
	"rentalcore/internal/domain/shared/fault"
)

// IdempotentCommand is implemented by commands that may be replayed by
// clients with the same key.
type IdempotentCommand interface {
	commands.Command
	IdempotencyKey() string
	ResultPrototype() any // must match the handler result type
}

type IdempotencyRecord struct {
	Key        string
	Payload    []byte
	ErrorKind  string
	Error      string
	OccurredAt time.Time
	ExpiresAt  time.Time
}

// IdempotencyStore persists command outcomes. Get must not return records
// whose ExpiresAt has passed.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (IdempotencyRecord, bool, error)
	Save(ctx context.Context, rec IdempotencyRecord) error
}

type ResultCodec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

type JSONResultCodec struct{}

func (JSONResultCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONResultCodec) Decode(data []byte, out any) error {
	return json.Unmarshal(data, out)
}

var errMissingPrototype = errors.New("middleware: idempotent command requires result prototype")

const defaultIdempotencyTTL = 24 * time.Hour

// Idempotency replays the stored outcome of a command key. Only outcomes the
// domain decided are stored; conflicts and infrastructure failures are left
// uncached so the client can retry them. The outcome is saved after the
// inner chain has committed, so a failed save is logged and the real outcome
// returned.
func Idempotency(store IdempotencyStore, codec ResultCodec, ttl time.Duration, logger *slog.Logger) CommandMiddleware {
	if store == nil {
		panic("middleware: idempotency store required")
	}
	if codec == nil {
		codec = JSONResultCodec{}
	}
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return func(next commands.Bus) commands.Bus {
		nextFn := wrapCommand(next)
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			idCmd, ok := cmd.(IdempotentCommand)
			if !ok {
				return nextFn(ctx, cmd)
			}
			key := idCmd.IdempotencyKey()
			if key == "" {
				return nextFn(ctx, cmd)
			}
			key = cmd.Key() + ":" + key
			rec, found, err := store.Get(ctx, key)
			if err != nil {
				return nil, err
			}
			if found {
				return replay(rec, idCmd, codec)
			}
			result, err := nextFn(ctx, cmd)
			now := time.Now().UTC()
			record := IdempotencyRecord{Key: key, OccurredAt: now, ExpiresAt: now.Add(ttl)}
			if err != nil {
				kind := fault.KindOf(err)
				if kind == "" || kind == fault.KindConflict {
					return nil, err
				}
				record.ErrorKind = string(kind)
				record.Error = err.Error()
				saveOutcome(ctx, store, record, logger)
				return nil, err
			}
			if result != nil {
				payload, encErr := codec.Encode(result)
				if encErr != nil {
					if logger != nil {
						logger.Warn("idempotency outcome not encodable", "command", cmd.Key(), "error", encErr)
					}
					return result, nil
				}
				record.Payload = payload
			}
			if saveErr := store.Save(ctx, record); saveErr != nil {
				return nil, saveErr
			}
			return result, nil
		})
	}
}

func saveOutcome(ctx context.Context, store IdempotencyStore, rec IdempotencyRecord, logger *slog.Logger) {
	if err := store.Save(ctx, rec); err != nil && logger != nil {
		logger.Warn("idempotency outcome not saved", "key", rec.Key, "error", err)
	}
}

func replay(rec IdempotencyRecord, cmd IdempotentCommand, codec ResultCodec) (any, error) {
	if rec.Error != "" {
		return nil, &fault.Error{Kind: fault.Kind(rec.ErrorKind), Msg: rec.Error}
	}
	proto := cmd.ResultPrototype()
	if proto == nil {
		return nil, errMissingPrototype
	}
	if err := codec.Decode(rec.Payload, proto); err != nil {
		return nil, err
	}
	return normalizePrototype(proto), nil
}

func normalizePrototype(proto any) any {
	rv := reflect.ValueOf(proto)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() {
		return rv.Interface()
	}
	return proto
}
