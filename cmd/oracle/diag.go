package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Fantasim/btcoracle/internal/chain"
	"github.com/Fantasim/btcoracle/internal/config"
	"github.com/Fantasim/btcoracle/internal/consensus"
	"github.com/Fantasim/btcoracle/internal/logging"
	"github.com/Fantasim/btcoracle/internal/models"
	"github.com/Fantasim/btcoracle/internal/provider"
	"github.com/Fantasim/btcoracle/internal/verify"
)

var errInvalidSignature = errors.New("signature does not match address")

// bitcoinFlags override BitcoinConfig values loaded from the environment.
type bitcoinFlags struct {
	network     string
	providers   string
	tracked     string
	minAgreeing int
}

func (f *bitcoinFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.network, "network", "", "mainnet, testnet or regtest (default from ORACLE_NETWORK)")
	cmd.Flags().StringVar(&f.providers, "providers", "", "providers file (default from ORACLE_PROVIDERS_FILE)")
	cmd.Flags().StringVar(&f.tracked, "tracked", "", "tracked address to sum outputs for (default from ORACLE_TRACKED_ADDRESS)")
	cmd.Flags().IntVar(&f.minAgreeing, "min-agreeing", 0, "providers that must agree (default from ORACLE_MIN_AGREEING_PROVIDERS)")
}

func (f *bitcoinFlags) load() (*config.BitcoinConfig, error) {
	cfg, err := config.LoadBitcoin()
	if err != nil {
		return nil, err
	}
	if f.network != "" {
		cfg.Network = f.network
	}
	if f.providers != "" {
		cfg.ProvidersFile = f.providers
	}
	if f.tracked != "" {
		cfg.TrackedAddress = f.tracked
	}
	if f.minAgreeing > 0 {
		cfg.MinAgreeingProviders = f.minAgreeing
	}

	switch models.Network(cfg.Network) {
	case models.NetworkMainnet, models.NetworkTestnet, models.NetworkRegtest:
	default:
		return nil, fmt.Errorf("%w: unknown network %q", config.ErrInvalidConfig, cfg.Network)
	}

	if err := logging.SetupConsole(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fetchTxCmd() *cobra.Command {
	var flags bitcoinFlags

	cmd := &cobra.Command{
		Use:   "fetch-tx <txhash>",
		Short: "Reconcile a Bitcoin transaction across providers and print the facts as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			registry, err := loadRegistry(cfg.ProvidersFile)
			if err != nil {
				return err
			}
			params := models.Network(cfg.Network).Params()

			conn := chain.NewConnectionManager(chain.ConnectionOptions{
				Registry:   registry,
				HTTPClient: provider.NewHTTPClient(),
				Params:     params,
			})
			defer conn.Close()

			clients, err := conn.BTCClients()
			if err != nil {
				return err
			}

			facts, err := consensus.New(clients, consensus.Options{
				TrackedAddress: cfg.TrackedAddress,
				Params:         params,
				MinAgreeing:    cfg.MinAgreeingProviders,
			}).Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(facts)
		},
	}

	flags.register(cmd)
	return cmd
}

func verifyMessageCmd() *cobra.Command {
	var network string

	cmd := &cobra.Command{
		Use:   "verify-message <address> <signature> <message>",
		Short: "Check a base64 BIP-137 message signature against a Bitcoin address",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := models.Network(network).Params()

			if !verify.Message(args[2], args[1], args[0], params) {
				fmt.Fprintln(cmd.OutOrStdout(), "invalid")
				return errInvalidSignature
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}

	cmd.Flags().StringVar(&network, "network", string(models.NetworkTestnet), "mainnet, testnet or regtest")
	return cmd
}
