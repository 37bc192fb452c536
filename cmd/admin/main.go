// Command admin runs fleet maintenance against the connection store:
// staleness cleanup, fleet analytics, and full user revocation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/subcommands"

	"banklink/internal/domain/connection"
	"banklink/internal/domain/lifecycle"
	"banklink/internal/domain/transaction"
	"banklink/internal/infrastructure/aggregator"
	"banklink/internal/infrastructure/mongodb"
	"banklink/internal/infrastructure/vault"
	"banklink/internal/shared/config"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&cleanupCmd{}, "maintenance")
	subcommands.Register(&analyticsCmd{}, "maintenance")
	subcommands.Register(&revokeCmd{}, "maintenance")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}

// buildManager wires the lifecycle manager from configuration. The returned
// cleanup function disconnects from MongoDB.
func buildManager(ctx context.Context) (*lifecycle.Manager, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	client, err := mongodb.Connect(ctx, cfg.Mongo.URI)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}

	db := client.Database(cfg.Mongo.Database)

	var keys vault.KeyService
	if cfg.Vault.RemoteURL != "" {
		keys = vault.NewRemoteKeyService(cfg.Vault.RemoteURL, cfg.Vault.RemoteAPIKey, 10*time.Second)
	} else {
		local, err := vault.NewLocalKeyService(cfg.Vault.Key)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		keys = local
	}
	tokenVault := vault.New(keys)

	aggClient := aggregator.NewHTTPClient(
		cfg.Aggregator.BaseURL,
		cfg.Aggregator.ClientID,
		cfg.Aggregator.Secret,
		cfg.Aggregator.Environment,
		cfg.Aggregator.Timeout,
	)

	connectionRepo := mongodb.NewConnectionRepository(db)
	transactionRepo := mongodb.NewTransactionRepository(db)
	connections := connection.NewStore(connectionRepo)
	transactions := transaction.NewStore(transactionRepo)

	manager := lifecycle.NewManager(connectionRepo, connections, transactions, aggClient, tokenVault)
	return manager, cleanup, nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// cleanupCmd removes stale, expired, and revoked connections.
type cleanupCmd struct {
	days    int
	timeout time.Duration
}

func (*cleanupCmd) Name() string     { return "cleanup" }
func (*cleanupCmd) Synopsis() string { return "remove stale, expired, and revoked connections" }
func (*cleanupCmd) Usage() string {
	return `cleanup [-days N] [-timeout D]:
  Walk every connection; delete expired, revoked, and unused-for-N-days
  connections along with their mirrored transactions, and mark connections
  with dead tokens expired.
`
}

func (c *cleanupCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.days, "days", 90, "unused-for threshold in days")
	f.DurationVar(&c.timeout, "timeout", 30*time.Minute, "operation timeout")
}

func (c *cleanupCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	manager, cleanup, err := buildManager(ctx)
	if err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	defer cleanup()

	stats, err := manager.CleanupStale(ctx, c.days)
	if err != nil {
		log.Printf("Cleanup failed: %v", err)
		return subcommands.ExitFailure
	}

	printJSON(stats)
	return subcommands.ExitSuccess
}

// analyticsCmd prints fleet-wide connection statistics.
type analyticsCmd struct {
	timeout time.Duration
}

func (*analyticsCmd) Name() string     { return "analytics" }
func (*analyticsCmd) Synopsis() string { return "print fleet-wide connection statistics" }
func (*analyticsCmd) Usage() string {
	return `analytics [-timeout D]:
  Aggregate connection counts by status, institution, and environment,
  plus staleness and total balance. Read-only.
`
}

func (c *analyticsCmd) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&c.timeout, "timeout", 5*time.Minute, "operation timeout")
}

func (c *analyticsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	manager, cleanup, err := buildManager(ctx)
	if err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	defer cleanup()

	analytics, err := manager.Analytics(ctx)
	if err != nil {
		log.Printf("Analytics failed: %v", err)
		return subcommands.ExitFailure
	}

	printJSON(analytics)
	return subcommands.ExitSuccess
}

// revokeCmd tears down every connection of one user.
type revokeCmd struct {
	user    string
	timeout time.Duration
}

func (*revokeCmd) Name() string     { return "revoke" }
func (*revokeCmd) Synopsis() string { return "revoke and delete all connections of a user" }
func (*revokeCmd) Usage() string {
	return `revoke -user ID [-timeout D]:
  Revoke every connection of the user at the aggregator (best effort) and
  delete all their connections and mirrored transactions.
`
}

func (c *revokeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "user id (required)")
	f.DurationVar(&c.timeout, "timeout", 30*time.Minute, "operation timeout")
}

func (c *revokeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		log.Println("Error: -user is required")
		return subcommands.ExitUsageError
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	manager, cleanup, err := buildManager(ctx)
	if err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	defer cleanup()

	result, err := manager.RevokeAll(ctx, c.user)
	if err != nil {
		log.Printf("Revocation failed: %v", err)
		return subcommands.ExitFailure
	}

	printJSON(result)
	return subcommands.ExitSuccess
}
