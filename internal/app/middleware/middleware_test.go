package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentalcore/internal/app/commands"
	"rentalcore/internal/app/middleware"
	"rentalcore/internal/app/outbox"
	"rentalcore/internal/app/queries"
	"rentalcore/internal/app/uow"
	domainoccupancy "rentalcore/internal/domain/occupancy"
	"rentalcore/internal/domain/shared/fault"
	"rentalcore/internal/infra/storage/memory"
)

type result struct {
	N int `json:"n"`
}

type testCommand struct {
	key     string
	invalid bool
}

func (c testCommand) Key() string { return "test.command" }

func (c testCommand) Validate() error {
	if c.invalid {
		return fault.Validation("test: invalid")
	}
	return nil
}

func (c testCommand) IdempotencyKey() string { return c.key }

func (c testCommand) ResultPrototype() any { return &result{} }

type adminCommand struct{ actor string }

func (c adminCommand) Key() string        { return "test.admin" }
func (c adminCommand) AdminActor() string { return c.actor }

type txCommand struct{}

func (txCommand) Key() string              { return "test.tx" }
func (txCommand) TxOptions() uow.TxOptions { return uow.TxOptions{} }

type countingBus struct {
	calls int
	err   error
	seen  func(ctx context.Context)
}

func (b *countingBus) Dispatch(ctx context.Context, cmd commands.Command) (any, error) {
	b.calls++
	if b.seen != nil {
		b.seen(ctx)
	}
	if b.err != nil {
		return nil, b.err
	}
	return &result{N: b.calls}, nil
}

type adminPolicy map[string]bool

func (a adminPolicy) IsOwner(ctx context.Context, id domainoccupancy.AccommodationID, userID string) (bool, error) {
	return false, nil
}

func (a adminPolicy) IsAdmin(ctx context.Context, userID string) (bool, error) { return a[userID], nil }

func TestChainRunsOutermostFirst(t *testing.T) {
	var order []string
	tag := func(name string) middleware.CommandMiddleware {
		return func(next commands.Bus) commands.Bus {
			return busFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
				order = append(order, name)
				return next.Dispatch(ctx, cmd)
			})
		}
	}
	base := &countingBus{}
	bus := middleware.ChainCommands(base, tag("a"), nil, tag("b"))
	_, err := bus.Dispatch(context.Background(), testCommand{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 1, base.calls)
}

type busFunc func(ctx context.Context, cmd commands.Command) (any, error)

func (f busFunc) Dispatch(ctx context.Context, cmd commands.Command) (any, error) { return f(ctx, cmd) }

type attributedCommand struct{}

func (attributedCommand) Key() string   { return "test.attributed" }
func (attributedCommand) Actor() string { return "tenant-7" }

type scopedQuery struct{}

func (scopedQuery) Key() string    { return "test.scoped" }
func (scopedQuery) Viewer() string { return "owner-3" }

type askFunc func(ctx context.Context, q queries.Query) (any, error)

func (f askFunc) Ask(ctx context.Context, q queries.Query) (any, error) { return f(ctx, q) }

func TestLoggingTagsActorAndViewer(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	cbus := middleware.ChainCommands(&countingBus{}, middleware.Logging(logger))
	_, err := cbus.Dispatch(context.Background(), attributedCommand{})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"actor_id":"tenant-7"`)

	buf.Reset()
	qbus := middleware.ChainQueries(askFunc(func(ctx context.Context, q queries.Query) (any, error) {
		return nil, fault.NotFound("test: gone")
	}), middleware.QueryLogging(logger))
	_, err = qbus.Ask(context.Background(), scopedQuery{})
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"viewer_id":"owner-3"`)
	assert.Contains(t, buf.String(), "query failed")

	assert.Nil(t, middleware.QueryLogging(nil))
}

func TestValidationStopsInvalidCommands(t *testing.T) {
	base := &countingBus{}
	bus := middleware.ChainCommands(base, middleware.Validation(nil))

	_, err := bus.Dispatch(context.Background(), testCommand{invalid: true})
	assert.ErrorIs(t, err, fault.ErrValidation)
	assert.Zero(t, base.calls)
}

func TestRoleAuthorizerGuardsAdminCommands(t *testing.T) {
	base := &countingBus{}
	bus := middleware.ChainCommands(base, middleware.Authorization(middleware.RoleAuthorizer{Policies: adminPolicy{"root": true}}))

	_, err := bus.Dispatch(context.Background(), adminCommand{actor: "owner"})
	assert.ErrorIs(t, err, middleware.ErrAdminRequired)
	_, err = bus.Dispatch(context.Background(), adminCommand{actor: "root"})
	assert.NoError(t, err)
	_, err = bus.Dispatch(context.Background(), testCommand{})
	assert.NoError(t, err)
	assert.Equal(t, 2, base.calls)

	assert.ErrorIs(t, middleware.RoleAuthorizer{}.Authorize(context.Background(), adminCommand{actor: "root"}), middleware.ErrAdminRequired)
}

func TestIdempotencyReplaysResultsAndDomainErrors(t *testing.T) {
	base := &countingBus{}
	bus := middleware.ChainCommands(base, middleware.Idempotency(memory.NewIdempotencyStore(), nil, time.Minute, nil))
	ctx := context.Background()

	first, err := bus.Dispatch(ctx, testCommand{key: "k"})
	require.NoError(t, err)
	second, err := bus.Dispatch(ctx, testCommand{key: "k"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, base.calls)

	_, err = bus.Dispatch(ctx, testCommand{})
	require.NoError(t, err)
	assert.Equal(t, 2, base.calls, "commands without a key are never cached")

	base.err = fault.CapacityExceeded("test: full")
	_, err = bus.Dispatch(ctx, testCommand{key: "full"})
	require.Error(t, err)
	base.err = nil
	_, err = bus.Dispatch(ctx, testCommand{key: "full"})
	assert.ErrorIs(t, err, fault.ErrCapacityExceeded)
	assert.Equal(t, 3, base.calls)
}

func TestIdempotencyDoesNotCacheRetryableErrors(t *testing.T) {
	base := &countingBus{err: uow.ErrConcurrentUpdate}
	bus := middleware.ChainCommands(base, middleware.Idempotency(memory.NewIdempotencyStore(), nil, time.Minute, nil))
	ctx := context.Background()

	_, err := bus.Dispatch(ctx, testCommand{key: "k"})
	require.ErrorIs(t, err, uow.ErrConcurrentUpdate)
	base.err = nil
	_, err = bus.Dispatch(ctx, testCommand{key: "k"})
	require.NoError(t, err)

	base.err = errors.New("disk on fire")
	_, err = bus.Dispatch(ctx, testCommand{key: "io"})
	require.Error(t, err)
	base.err = nil
	_, err = bus.Dispatch(ctx, testCommand{key: "io"})
	assert.NoError(t, err)
	assert.Equal(t, 4, base.calls)
}

type brokenIdempotencyStore struct{ saves int }

func (s *brokenIdempotencyStore) Get(ctx context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	return middleware.IdempotencyRecord{}, false, nil
}

func (s *brokenIdempotencyStore) Save(ctx context.Context, rec middleware.IdempotencyRecord) error {
	s.saves++
	return errors.New("idempotency table unavailable")
}

func TestIdempotencyReturnsCommittedOutcomeWhenSaveFails(t *testing.T) {
	base := &countingBus{}
	store := &brokenIdempotencyStore{}
	bus := middleware.ChainCommands(base, middleware.Idempotency(store, nil, time.Minute, nil))

	out, err := bus.Dispatch(context.Background(), testCommand{key: "k"})
	require.NoError(t, err)
	assert.NotNil(t, out)

	base.err = fault.Validation("test: nope")
	_, err = bus.Dispatch(context.Background(), testCommand{key: "v"})
	assert.ErrorIs(t, err, fault.ErrValidation)
	assert.NotContains(t, err.Error(), "idempotency table")
	assert.Equal(t, 2, store.saves)
}

func TestTransactionInjectsUnitAndRollsBack(t *testing.T) {
	store := memory.NewStore()
	var inUnit bool
	base := &countingBus{seen: func(ctx context.Context) {
		unit, ok := uow.FromContext(ctx)
		inUnit = ok
		if ok {
			_ = unit.Outbox().Add(ctx, outbox.EventRecord{ID: "evt-1", Name: "test.event"})
		}
	}}
	bus := middleware.ChainCommands(base, middleware.Transaction(store))

	_, err := bus.Dispatch(context.Background(), txCommand{})
	require.NoError(t, err)
	assert.True(t, inUnit)
	assert.Len(t, store.Outbox().Entries(), 1)

	base.err = fault.Validation("test: nope")
	_, err = bus.Dispatch(context.Background(), txCommand{})
	require.Error(t, err)
	assert.Len(t, store.Outbox().Entries(), 1, "a failed command leaves no outbox records")

	base.err = nil
	_, err = bus.Dispatch(context.Background(), testCommand{})
	require.NoError(t, err)
	assert.False(t, inUnit)
}

type flushCounter struct {
	n   int
	err error
}

func (f *flushCounter) Flush(ctx context.Context) error {
	f.n++
	return f.err
}

func TestOutboxFlushOnlyAfterSuccess(t *testing.T) {
	flusher := &flushCounter{}
	base := &countingBus{}
	bus := middleware.ChainCommands(base, middleware.OutboxFlush(flusher, nil))

	_, err := bus.Dispatch(context.Background(), testCommand{})
	require.NoError(t, err)
	base.err = fault.Validation("test: nope")
	_, err = bus.Dispatch(context.Background(), testCommand{})
	require.Error(t, err)
	assert.Equal(t, 1, flusher.n)

	flusher.err = errors.New("relay asleep")
	base.err = nil
	_, err = bus.Dispatch(context.Background(), testCommand{})
	assert.NoError(t, err, "a failed wake-up does not fail a committed command")
	assert.Nil(t, middleware.OutboxFlush(nil, nil))
}
