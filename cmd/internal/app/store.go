package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/chat"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
)

// Store is the app-level lifecycle of the chat backend.
// It exists to allow DB-backed resources to be health-checked and closed gracefully.
type Store interface {
	Name() string
	Repository() chat.Repository
	Users() chat.UserDirectory
	Persistent() bool
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// newStore picks MongoDB, then PostgreSQL, then the in-memory dev store.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, error) {
	switch {
	case cfg.MongoURI != "":
		if cfg.DatabaseURL != "" {
			log.Warn("db.both_configured", "using", "mongo")
		}
		return newMongoStore(ctx, cfg, log)
	case cfg.DatabaseURL != "":
		return newPostgresStore(ctx, cfg, log)
	default:
		users := chat.ParseUserList(cfg.DevUsers)
		if len(users) == 0 {
			log.Warn("db.disabled.no_dev_users", "hint", "set CRPG_DEV_USERS=uid:Name,...")
		}
		log.Info("db.disabled.inmemory_store", "users", len(users))
		return memoryStore{
			repo:  chat.NewInMemoryRepository(),
			users: chat.NewInMemoryDirectory(users...),
		}, nil
	}
}

type memoryStore struct {
	repo  *chat.InMemoryRepository
	users *chat.InMemoryDirectory
}

func (s memoryStore) Name() string                   { return "memory" }
func (s memoryStore) Repository() chat.Repository    { return s.repo }
func (s memoryStore) Users() chat.UserDirectory      { return s.users }
func (s memoryStore) Persistent() bool               { return false }
func (s memoryStore) Ping(ctx context.Context) error { return s.repo.Ping(ctx) }
func (s memoryStore) Close(_ context.Context) error  { return s.repo.Close() }

func newPostgresStore(ctx context.Context, cfg Config, log Logger) (Store, error) {
	if cfg.DBAutoMigrate {
		res, err := chat.MigratePostgres(ctx, cfg.DatabaseURL, cfg.DBSchema)
		if err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("db.migrate", "version", res.Version, "changed", res.Changed, "dirty", res.Dirty)
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresRepository.Close() is a no-op
	repo, err := chat.NewPostgresRepository(pool, chat.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, err
	}
	users, err := chat.NewPostgresDirectory(pool, cfg.DBSchema)
	if err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return postgresStore{pool: pool, repo: repo, users: users}, nil
}

type postgresStore struct {
	pool  *pgxpool.Pool
	repo  *chat.PostgresRepository
	users *chat.PostgresDirectory
}

func (s postgresStore) Name() string                { return "postgres" }
func (s postgresStore) Repository() chat.Repository { return s.repo }
func (s postgresStore) Users() chat.UserDirectory   { return s.users }
func (s postgresStore) Persistent() bool            { return true }

func (s postgresStore) Ping(ctx context.Context) error {
	return PingDB(ctx, s.pool, 2*time.Second)
}

func (s postgresStore) Close(_ context.Context) error {
	_ = s.repo.Close()
	s.pool.Close()
	return nil
}

func newMongoStore(ctx context.Context, cfg Config, log Logger) (Store, error) {
	client, err := NewMongoClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	db := client.Database(cfg.MongoDatabase)

	repo, err := chat.NewMongoRepository(db)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	if err := repo.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo indexes: %w", err)
	}
	users, err := chat.NewMongoDirectory(db)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	log.Info("db.enabled.mongo_store", "database", cfg.MongoDatabase)
	return mongoStore{client: client, repo: repo, users: users}, nil
}

type mongoStore struct {
	client *mongo.Client
	repo   *chat.MongoRepository
	users  *chat.MongoDirectory
}

func (s mongoStore) Name() string                { return "mongo" }
func (s mongoStore) Repository() chat.Repository { return s.repo }
func (s mongoStore) Users() chat.UserDirectory   { return s.users }
func (s mongoStore) Persistent() bool            { return true }

func (s mongoStore) Ping(ctx context.Context) error {
	return PingMongo(ctx, s.client, 2*time.Second)
}

func (s mongoStore) Close(ctx context.Context) error {
	_ = s.repo.Close()
	return s.client.Disconnect(ctx)
}
