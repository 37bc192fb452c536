package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"banklink/internal/domain/account"
	"banklink/internal/domain/banking"
	"banklink/internal/domain/connection"
	"banklink/internal/domain/lifecycle"
	"banklink/internal/domain/syncer"
	"banklink/internal/domain/transaction"
	"banklink/internal/infrastructure/aggregator"
	"banklink/internal/infrastructure/mongodb"
	"banklink/internal/infrastructure/vault"
	httphandlers "banklink/internal/interfaces/http"
	"banklink/internal/scheduler"
	"banklink/internal/shared/auth"
	"banklink/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	Mongo *mongo.Client

	// Handlers
	BankHandler        *httphandlers.BankHandler
	TransactionHandler *httphandlers.TransactionHandler

	// Auth
	Tokens *auth.Tokens

	// Core services (for the scheduler job provider)
	ConnectionRepo connection.Repository
	Engine         *syncer.Engine
	Lifecycle      *lifecycle.Manager

	// Banking facade (queue is wired in after the scheduler exists)
	Banking *banking.Service
}

// NewDependencies initializes all application dependencies. The banking
// service's task queue is attached later via scheduler wiring in main.
func NewDependencies(ctx context.Context, cfg *config.Config, queue banking.TaskQueue) (*Dependencies, error) {
	// Connect to MongoDB
	client, err := mongodb.Connect(ctx, cfg.Mongo.URI)
	if err != nil {
		return nil, err
	}
	db := client.Database(cfg.Mongo.Database)

	if err := mongodb.EnsureIndexes(ctx, db); err != nil {
		return nil, err
	}

	// Initialize the token vault
	var keys vault.KeyService
	if cfg.Vault.RemoteURL != "" {
		keys = vault.NewRemoteKeyService(cfg.Vault.RemoteURL, cfg.Vault.RemoteAPIKey, 10*time.Second)
		log.Println("Token vault using remote key service")
	} else {
		local, err := vault.NewLocalKeyService(cfg.Vault.Key)
		if err != nil {
			return nil, err
		}
		keys = local
	}
	tokenVault := vault.New(keys)

	// Initialize aggregator client
	aggClient := aggregator.NewHTTPClient(
		cfg.Aggregator.BaseURL,
		cfg.Aggregator.ClientID,
		cfg.Aggregator.Secret,
		cfg.Aggregator.Environment,
		cfg.Aggregator.Timeout,
	)

	// Initialize repositories and stores
	connectionRepo := mongodb.NewConnectionRepository(db)
	transactionRepo := mongodb.NewTransactionRepository(db)
	connections := connection.NewStore(connectionRepo)
	transactions := transaction.NewStore(transactionRepo)

	// Initialize domain services
	accounts := account.NewAggregator(aggClient, tokenVault, connections)
	engine := syncer.NewEngine(aggClient, tokenVault, connections, transactions)
	lifecycleManager := lifecycle.NewManager(connectionRepo, connections, transactions, aggClient, tokenVault)

	bankingService := banking.NewService(
		aggClient,
		tokenVault,
		connections,
		accounts,
		engine,
		transactions,
		lifecycleManager,
		queue,
		cfg.Aggregator.Environment,
	)

	// Initialize auth and handlers
	tokens := auth.NewTokens(cfg.JWT.Secret)
	bankHandler := httphandlers.NewBankHandler(bankingService)
	transactionHandler := httphandlers.NewTransactionHandler(bankingService)

	return &Dependencies{
		Mongo:              client,
		BankHandler:        bankHandler,
		TransactionHandler: transactionHandler,
		Tokens:             tokens,
		ConnectionRepo:     connectionRepo,
		Engine:             engine,
		Lifecycle:          lifecycleManager,
		Banking:            bankingService,
	}, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close(ctx context.Context) {
	if d.Mongo != nil {
		if err := d.Mongo.Disconnect(ctx); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}
}

// lazyQueue defers queue resolution so the banking service can be built
// before the scheduler that backs it.
type lazyQueue struct {
	queue *scheduler.Queue
}

func (q *lazyQueue) EnqueueInitialSync(userID, connectionID, accessToken string) error {
	if q.queue == nil {
		return fmt.Errorf("no task queue configured")
	}
	return q.queue.EnqueueInitialSync(userID, connectionID, accessToken)
}
