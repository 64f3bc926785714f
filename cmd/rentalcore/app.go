package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rentalcore/internal/app/commands"
	"rentalcore/internal/app/effects"
	bookingapp "rentalcore/internal/app/handlers/booking"
	"rentalcore/internal/app/middleware"
	appoutbox "rentalcore/internal/app/outbox"
	"rentalcore/internal/app/queries"
	"rentalcore/internal/app/reconcile"
	"rentalcore/internal/app/schedule"
	"rentalcore/internal/app/uow"
	"rentalcore/internal/infra/broker/kafka"
	"rentalcore/internal/infra/collab"
	"rentalcore/internal/infra/config"
	mongostore "rentalcore/internal/infra/db/mongo"
	sqlstore "rentalcore/internal/infra/db/sql"
	ginserver "rentalcore/internal/infra/http/gin"
	"rentalcore/internal/infra/obs"
	outboxworker "rentalcore/internal/infra/outbox"
	"rentalcore/internal/infra/storage/memory"
)

const eventSource = "urn:rentalcore:booking"

// backend is everything that differs between the memory, mongo and sql
// stores.
type backend struct {
	units   uow.UoWFactory
	relay   appoutbox.Relay
	flusher appoutbox.Flusher
	idem    middleware.IdempotencyStore
	inbox   effects.Inbox
	checks  map[string]obs.Check
	seed    func(ctx context.Context, fx fixtureSet) error
	close   func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.Store {
	case config.StoreMemory:
		store := memory.NewStore()
		return &backend{
			units:   store,
			relay:   store.Outbox(),
			flusher: store.Outbox(),
			idem:    memory.NewIdempotencyStore(),
			inbox:   memory.NewInbox(),
			seed: func(ctx context.Context, fx fixtureSet) error {
				store.Seed(fx.properties(), fx.accommodations(), nil)
				return nil
			},
			close: func() {},
		}, nil

	case config.StoreMongo:
		client, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		if err := mongostore.EnsureIndexes(ctx, client.DB); err != nil {
			_ = client.Close(context.Background())
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		factory := mongostore.NewFactory(client.DB)
		return &backend{
			units:   factory,
			relay:   factory.Outbox,
			flusher: factory.Outbox,
			idem:    mongostore.NewIdempotencyStore(client.DB),
			inbox:   mongostore.NewInboxStore(client.DB, cfg.KafkaGroupID),
			checks:  map[string]obs.Check{"mongo": client.Ping},
			seed: func(ctx context.Context, fx fixtureSet) error {
				return seedThroughUnits(ctx, factory, fx)
			},
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := client.Close(ctx); err != nil {
					logger.Warn("mongo disconnect failed", "error", err)
				}
			},
		}, nil

	case config.StoreSQL:
		db, err := sqlstore.Open(cfg.SQLDriver, cfg.SQLDSN, logger)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		if err := sqlstore.Migrate(db); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("sql migrate: %w", err)
		}
		store := sqlstore.NewStore(db, cfg.Pessimistic())
		relay := store.Relay()
		return &backend{
			units:   store,
			relay:   relay,
			flusher: relay,
			idem:    sqlstore.NewIdempotencyStore(db),
			inbox:   sqlstore.NewInboxStore(db, cfg.KafkaGroupID),
			checks:  map[string]obs.Check{"sql": sqlDB.PingContext},
			seed: func(ctx context.Context, fx fixtureSet) error {
				return store.Seed(ctx, fx.properties(), fx.accommodations(), nil)
			},
			close: func() {
				if err := sqlDB.Close(); err != nil {
					logger.Warn("sql close failed", "error", err)
				}
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

type application struct {
	cfg      config.Config
	logger   *slog.Logger
	backend  *backend
	commands commands.Bus
	queries  queries.Bus
	worker   *outboxworker.Worker
	sweep    *schedule.ExpirySweep
	producer *kafka.Producer
	consumer *kafka.Consumer
	ledger   *collab.Ledger
	handlers ginserver.Handlers
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app := &application{cfg: cfg, logger: logger, backend: b}

	authorizer := collab.NewAuthorizer(b.units, cfg.AdminUserIDs)
	planner := effects.Planner{LoyaltyPoints: cfg.LoyaltyPoints}
	encoder := appoutbox.JSONEventEncoder{}
	coordinator := &reconcile.Coordinator{
		Units:       b.units,
		Authorizer:  authorizer,
		Locks:       reconcile.NewKeyedLocker(),
		Planner:     planner,
		Encoder:     encoder,
		MaxAttempts: cfg.ReconcileMaxAttempts,
		Backoff:     cfg.ReconcileBackoff,
		LockRows:    cfg.Pessimistic(),
		Logger:      logger,
	}

	app.ledger = collab.NewLedger(logger)
	router := &effects.Router{
		Notifier:   app.ledger,
		Reputation: app.ledger,
		Loyalty:    app.ledger,
		Inbox:      b.inbox,
		Logger:     logger,
	}

	var publisher outboxworker.Producer = effects.LocalPublisher{Router: router}
	if len(cfg.KafkaBrokers) > 0 {
		if app.producer, err = kafka.NewProducer(cfg.KafkaBrokers, nil); err != nil {
			b.close()
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		app.consumer, err = kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, nil, kafka.EffectRelay{Router: router}, kafka.ConsumerOptions{
			Retries: 3,
			Backoff: time.Second,
			Logger:  logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
		publisher = app.producer
	}

	commandBus := commands.NewInMemoryBus()
	queryBus := queries.NewInMemoryBus()
	bookingapp.Register(commandBus, queryBus, bookingapp.Deps{
		UoWFactory:  b.units,
		Coordinator: coordinator,
		Authorizer:  authorizer,
		Encoder:     encoder,
		Planner:     planner,
		Logger:      logger,
	})

	app.commands = middleware.ChainCommands(
		commandBus,
		middleware.Logging(logger),
		middleware.Validation(nil),
		middleware.Authorization(middleware.RoleAuthorizer{Policies: authorizer}),
		middleware.Idempotency(b.idem, nil, cfg.IdempotencyTTL, logger),
		middleware.Transaction(b.units),
		middleware.OutboxFlush(b.flusher, logger),
	)
	app.queries = middleware.ChainQueries(queryBus, middleware.QueryLogging(logger), middleware.QueryValidation(nil))

	app.worker = &outboxworker.Worker{
		Relay:       b.relay,
		Producer:    publisher,
		Interval:    cfg.OutboxPollInterval,
		TopicPrefix: cfg.KafkaTopicPrefix,
		Source:      eventSource,
		Backoff:     cfg.RetryBackoff,
		Logger:      logger,
	}
	app.sweep = &schedule.ExpirySweep{
		Units:    b.units,
		Expirer:  coordinator,
		Interval: cfg.SweepInterval,
		Logger:   logger,
	}

	app.handlers = ginserver.Handlers{
		Booking:  ginserver.BookingHandler{Commands: app.commands, Queries: app.queries, Logger: logger},
		Property: ginserver.PropertyHandler{Commands: app.commands, Queries: app.queries, Logger: logger},
	}
	return app, nil
}

// startBackground runs the relay, the sweep and, with a broker, the effect
// consumer until ctx is done.
func (a *application) startBackground(ctx context.Context, wg *sync.WaitGroup) {
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("background task stopped", "task", name, "error", err)
			}
		}()
	}
	run("outbox", a.worker.Run)
	run("sweep", a.sweep.Run)
	if a.consumer != nil {
		topics := kafka.EffectTopics(a.cfg.KafkaTopicPrefix)
		run("effects", func(ctx context.Context) error { return a.consumer.Run(ctx, topics) })
	}
}

func (a *application) Close() {
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Warn("kafka consumer close failed", "error", err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("kafka producer close failed", "error", err)
		}
	}
	a.backend.close()
}
