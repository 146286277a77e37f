package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Fantasim/btcoracle/internal/api"
	"github.com/Fantasim/btcoracle/internal/chain"
	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/consensus"
	"github.com/Fantasim/btcoracle/internal/custody"
	"github.com/Fantasim/btcoracle/internal/db"
	"github.com/Fantasim/btcoracle/internal/logging"
	"github.com/Fantasim/btcoracle/internal/models"
	"github.com/Fantasim/btcoracle/internal/oracle"
	"github.com/Fantasim/btcoracle/internal/provider"
	"github.com/Fantasim/btcoracle/internal/signer"
	"github.com/Fantasim/btcoracle/internal/tx"
)

func serveCmd() *cobra.Command {
	var setOracle string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the oracle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if setOracle != "" && !common.IsHexAddress(setOracle) {
				return fmt.Errorf("--set-oracle: %q is not an EVM address", setOracle)
			}
			return runServe(setOracle)
		},
	}

	cmd.Flags().StringVar(&setOracle, "set-oracle", "", "call setOracle(address) on the bridge contract before starting")
	return cmd
}

func runServe(setOracle string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	api.Version = version
	network := models.Network(cfg.Network)
	params := network.Params()

	slog.Info("starting btcoracle",
		"version", version,
		"network", cfg.Network,
		"contract", cfg.ContractAddress,
		"confirmations", cfg.Confirmations,
		"minAgreeingProviders", cfg.MinAgreeingProviders,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := database.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	registry, err := loadRegistry(cfg.ProvidersFile)
	if err != nil {
		return err
	}
	for _, p := range registry.All() {
		if err := database.EnsureProviderHealth(p.Name, string(p.Kind)); err != nil {
			return err
		}
	}

	conn := chain.NewConnectionManager(chain.ConnectionOptions{
		Registry:   registry,
		HTTPClient: provider.NewHTTPClient(),
		Params:     params,
		OnBreakerChange: func(name, from, to string, consecutiveFails int) {
			if err := database.RecordCircuitTransition(name, to, consecutiveFails); err != nil {
				slog.Error("failed to store circuit transition", "provider", name, "from", from, "to", to, "error", err)
			}
		},
		EVMURLs:           cfg.EVMRPCURLs,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	})
	defer conn.Close()

	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to EVM RPC: %w", err)
	}

	custodyClient := custody.New(cfg.CustodyURL)
	key, err := custodyClient.GenerateKey(ctx, cfg.CustodyKeyID)
	if err != nil {
		return fmt.Errorf("failed to load oracle key: %w", err)
	}

	contract, err := chain.NewContract(conn, common.HexToAddress(cfg.ContractAddress), key,
		big.NewInt(cfg.EVMChainID), custodyClient)
	if err != nil {
		return err
	}

	if setOracle != "" {
		hash, err := contract.SetOracle(ctx, common.HexToAddress(setOracle))
		if err != nil {
			return fmt.Errorf("setOracle(%s): %w", setOracle, err)
		}
		slog.Info("oracle address updated", "oracle", setOracle, "evmTxHash", hash)
	}

	if current, err := contract.Oracle(ctx); err != nil {
		slog.Warn("could not read contract oracle", "error", err)
	} else if current != contract.From() {
		slog.Warn("this process is not the contract's oracle; contract writes will revert",
			"contractOracle", current.Hex(),
			"self", contract.From().Hex(),
		)
	}

	tracked := cfg.TrackedAddress
	if tracked == "" {
		tracked, err = contract.BitcoinAddress(ctx)
		if err != nil {
			return fmt.Errorf("failed to read tracked address from contract: %w", err)
		}
	}
	slog.Info("tracked address resolved", "address", tracked)

	clients, err := conn.BTCClients()
	if err != nil {
		return fmt.Errorf("failed to create Bitcoin providers: %w", err)
	}

	failover := provider.NewFailover(clients...)
	builder, err := tx.NewBuilder(failover, tx.NewFeeEstimator(failover, network),
		signer.New(cfg.SignerURL, cfg.SignerDomain, cfg.EVMChainID, key), tracked, params)
	if err != nil {
		return err
	}

	broadcasters := make([]tx.NamedBroadcaster, 0, len(clients))
	for _, c := range clients {
		broadcasters = append(broadcasters, c)
	}

	o := oracle.New(oracle.Deps{
		Bridge: contract,
		Fetcher: consensus.New(clients, consensus.Options{
			TrackedAddress: tracked,
			Params:         params,
			MinAgreeing:    cfg.MinAgreeingProviders,
		}),
		Builder:     builder,
		Broadcaster: tx.NewFallbackBroadcaster(broadcasters...),
		Journal:     database,
	}, oracle.Options{Params: params, Confirmations: cfg.Confirmations})

	if err := o.Recover(); err != nil {
		return fmt.Errorf("failed to recover payout journal: %w", err)
	}

	events := make(chan oracle.Event, config.EventChannelSize)
	watcher := chain.NewWatcher(conn, contract, cfg.StartBlock, cfg.EventPollInterval)
	dispatcher := oracle.NewDispatcher(o)
	poller := oracle.NewPoller(o, cfg.ValidatePollInterval)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	srv := &http.Server{
		Addr:           addr,
		Handler:        api.NewRouter(database, conn, cfg),
		ReadTimeout:    config.ServerReadTimeout,
		WriteTimeout:   config.ServerWriteTimeout,
		IdleTimeout:    config.ServerIdleTimeout,
		MaxHeaderBytes: config.ServerMaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCanceled(watcher.Run(gctx, events)) })
	g.Go(func() error { return ignoreCanceled(dispatcher.Run(gctx, events)) })
	g.Go(func() error { return ignoreCanceled(poller.Run(gctx)) })

	g.Go(func() error {
		slog.Info("ops server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("initiating graceful shutdown", "timeout", config.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-conn.Fatal():
			slog.Error("EVM connection could not be restored, exiting", "error", err)
			return err
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("oracle stopped gracefully")
	return nil
}

func loadRegistry(path string) (*provider.Registry, error) {
	cfgs, err := config.LoadProviders(path)
	if err != nil {
		return nil, err
	}
	return provider.NewRegistry(cfgs)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
