package main

import (
	"context"
	"fmt"
	"time"

	"github.com/qrcoast/linkdrop/internal/batchproc"
	"github.com/qrcoast/linkdrop/internal/claim"
	"github.com/qrcoast/linkdrop/internal/claimflow"
	"github.com/qrcoast/linkdrop/internal/claimgate"
	"github.com/qrcoast/linkdrop/internal/claimtier"
	"github.com/qrcoast/linkdrop/internal/config"
	"github.com/qrcoast/linkdrop/internal/handlers/cli"
	"github.com/qrcoast/linkdrop/internal/handlers/httpapi"
	"github.com/qrcoast/linkdrop/internal/infra/blockchain/ethereum"
	"github.com/qrcoast/linkdrop/internal/infra/identity"
	"github.com/qrcoast/linkdrop/internal/infra/pricing"
	"github.com/qrcoast/linkdrop/internal/infra/storage/postgres"
	"github.com/qrcoast/linkdrop/internal/infra/storage/redis"
	"github.com/qrcoast/linkdrop/internal/pkg/logger"
	dhttp "github.com/qrcoast/linkdrop/internal/pkg/transport/http"
	"github.com/qrcoast/linkdrop/internal/pkg/transport/jsonrpc"
	"github.com/qrcoast/linkdrop/internal/retryqueue"
	"github.com/qrcoast/linkdrop/internal/txexec"
	"github.com/qrcoast/linkdrop/internal/walletpool"

	"github.com/qrcoast/linkdrop/internal/pkg/telemetry"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// The OTLP exporters read the endpoint from the environment; an empty
	// endpoint means no collector, so skip the providers entirely.
	if cfg.OtelExporterEndpoint != "" {
		telemetryShutdown, err := telemetry.Init(ctx, cfg.ServiceName)
		if err != nil {
			panic(err)
		}
		defer telemetryShutdown(context.Background())
	}

	if err := logger.Init(logger.WithLevel(cfg.LogLevel)); err != nil {
		panic(err)
	}

	redisClient, err := redis.NewClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal(ctx, "connecting to redis", "error", err)
	}
	defer redisClient.Close()

	pgClient, err := postgres.NewClient(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal(ctx, "connecting to postgres", "error", err)
	}
	defer pgClient.Close()

	chainClient, err := ethereum.NewClient(ctx, cfg.RPCURL, cfg.TokenAddress)
	if err != nil {
		logger.Fatal(ctx, "connecting to rpc endpoint", "error", err)
	}
	defer chainClient.Close()

	wallets, err := buildWallets(cfg.Wallets)
	if err != nil {
		logger.Fatal(ctx, "building wallet pool", "error", err)
	}

	httpClient := dhttp.NewClient()
	archiveRPC := jsonrpc.NewClient(dhttp.NewClient(dhttp.WithTimeout(20*time.Second)).StandardClient(), cfg.ArchiveRPCURL)

	privy := identity.NewPrivyClient(httpClient, cfg.PrivyBaseURL, cfg.PrivyAppID, cfg.PrivyAppSecret)
	neynar := identity.NewNeynarClient(httpClient, cfg.NeynarBaseURL, cfg.NeynarAPIKey)
	miniApp := identity.NewMiniAppVerifier(cfg.MiniAppJWTSecret)
	prices := pricing.NewCoingeckoClient(httpClient, cfg.PriceBaseURL)

	gate := claimgate.New(redisClient, pgClient, pgClient, pgClient, miniApp, privy, neynar,
		claimgate.WithDeniedUsernames(cfg.DeniedUsernames...))
	pool := walletpool.New(wallets, redisClient)
	tier := claimtier.New(chainClient, neynar, pgClient, claimtier.NewHistoricalChecker(archiveRPC, prices), pgClient)
	executor := txexec.New(chainClient)
	failures := retryqueue.New(pgClient, redisClient)

	flow := claimflow.New(gate, redisClient, pool, tier, executor, pgClient, pgClient, failures)
	batch := batchproc.New(redisClient, redisClient, pgClient, pgClient, pgClient, pgClient, pool, executor)

	srv := httpapi.New(flow, batch, httpapi.Config{
		APIKey:                  cfg.APIKey,
		QStashCurrentSigningKey: cfg.QStashCurrentSigningKey,
		QStashNextSigningKey:    cfg.QStashNextSigningKey,
	})

	if err := cli.Run(ctx, srv, cfg.HTTPAddr, batch, pgClient); err != nil {
		logger.Fatal(ctx, "command failed", "error", err)
	}
}

// buildWallets derives signer addresses from the configured keys and lays
// out the pooled and direct wallets per claim source.
func buildWallets(cfg config.WalletsConfig) (walletpool.Config, error) {
	out := walletpool.Config{
		Pooled: make(map[claim.Source][]walletpool.Wallet),
		Direct: make(map[claim.Source]walletpool.Wallet),
	}

	add := func(source claim.Source, contract string, pooledKeys []string, directKey string) error {
		for _, key := range pooledKeys {
			w, err := buildWallet(key, contract)
			if err != nil {
				return fmt.Errorf("building %s wallet: %w", source, err)
			}
			out.Pooled[source] = append(out.Pooled[source], w)
		}
		if directKey != "" {
			w, err := buildWallet(directKey, contract)
			if err != nil {
				return fmt.Errorf("building %s direct wallet: %w", source, err)
			}
			out.Direct[source] = w
		}
		return nil
	}

	if err := add(claim.SourceWeb, cfg.WebContract, cfg.WebKeys, cfg.WebDirectKey); err != nil {
		return walletpool.Config{}, err
	}
	if err := add(claim.SourceMobile, cfg.MobileContract, cfg.MobileKeys, cfg.MobileDirectKey); err != nil {
		return walletpool.Config{}, err
	}
	if err := add(claim.SourceMiniApp, cfg.MiniAppContract, cfg.MiniAppKeys, ""); err != nil {
		return walletpool.Config{}, err
	}

	return out, nil
}

func buildWallet(privateKeyHex, contract string) (walletpool.Wallet, error) {
	address, err := ethereum.AddressFromKey(privateKeyHex)
	if err != nil {
		return walletpool.Wallet{}, err
	}

	return walletpool.Wallet{
		Address:         address,
		PrivateKeyHex:   privateKeyHex,
		AirdropContract: contract,
	}, nil
}
