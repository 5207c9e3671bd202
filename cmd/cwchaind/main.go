package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cwchain/app"
	"cwchain/bank"
	"cwchain/core"
	"cwchain/genesis"
	"cwchain/pkg/config"
	"cwchain/query"
	"cwchain/store"
)

// nativeBankPlaceholder is the convention this reference binary uses to
// recognize the bank contract: a genesis file's store_code message for the
// bank must carry exactly these bytes, letting RegisterNative intercept
// dispatch before the (never executed) placeholder is ever loaded as Wasm.
var nativeBankPlaceholder = []byte("native:bank")

// loadedConfig holds the result of the root command's config.LoadFromEnv
// call, set in PersistentPreRunE before any subcommand RunE runs. Subcommand
// flags not explicitly passed on the command line fall back to it.
var loadedConfig *config.Config

func main() {
	log := logrus.New()

	var homeDir, chainID string
	var gasLimit uint64
	var cacheSize int

	rootCmd := &cobra.Command{Use: "cwchaind"}
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "./cwchaind-data", "database directory")
	rootCmd.PersistentFlags().StringVar(&chainID, "chain-id", "cwchain-devnet", "chain id reported by the info query")
	rootCmd.PersistentFlags().Uint64Var(&gasLimit, "gas-limit", 0, "per-tx gas ceiling (0 = 100,000,000)")
	rootCmd.PersistentFlags().IntVar(&cacheSize, "merkle-cache", 4096, "merkle tree node-read cache size")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		loadedConfig = cfg

		if !cmd.Flags().Changed("home") && cfg.Merkle.DBPath != "" {
			homeDir = cfg.Merkle.DBPath
		}
		if !cmd.Flags().Changed("chain-id") && cfg.Chain.ID != "" {
			chainID = cfg.Chain.ID
		}
		if !cmd.Flags().Changed("gas-limit") && cfg.Chain.GasLimit != 0 {
			gasLimit = cfg.Chain.GasLimit
		}
		if !cmd.Flags().Changed("merkle-cache") && cfg.Merkle.CacheSize != 0 {
			cacheSize = cfg.Merkle.CacheSize
		}
		if cfg.Logging.Level != "" {
			if lvl, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
				log.SetLevel(lvl)
			}
		}
		return nil
	}

	rootCmd.AddCommand(genesisCmd(log, &homeDir, &chainID, &gasLimit, &cacheSize))
	rootCmd.AddCommand(serveCmd(log, &homeDir, &chainID, &gasLimit, &cacheSize))
	rootCmd.AddCommand(queryCmd(log, &homeDir, &chainID, &gasLimit, &cacheSize))

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("cwchaind exited with an error")
		os.Exit(1)
	}
}

func openApp(homeDir, chainID string, gasLimit uint64, cacheSize int, log *logrus.Entry) (*app.App, error) {
	backend, err := store.OpenBadger(homeDir)
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", homeDir, err)
	}
	a, err := app.New(backend, chainID, gasLimit, cacheSize, log)
	if err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}
	a.RegisterNative(core.HashBytes(nativeBankPlaceholder), bank.NativeEntryFuncs())
	return a, nil
}

func genesisCmd(log *logrus.Logger, homeDir, chainID *string, gasLimit *uint64, cacheSize *int) *cobra.Command {
	var genesisFile string
	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "apply a genesis state file to a fresh database",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(genesisFile)
			if err != nil {
				return fmt.Errorf("read genesis file: %w", err)
			}
			var state core.GenesisState
			if err := json.Unmarshal(raw, &state); err != nil {
				return fmt.Errorf("decode genesis file: %w", err)
			}

			entry := log.WithField("component", "genesis")
			a, err := openApp(*homeDir, *chainID, *gasLimit, *cacheSize, entry)
			if err != nil {
				return err
			}
			root, err := genesis.Apply(a, state, entry)
			if err != nil {
				return fmt.Errorf("apply genesis: %w", err)
			}
			fmt.Printf("genesis applied, root hash %s\n", root)
			return nil
		},
	}
	cmd.Flags().StringVar(&genesisFile, "genesis-file", "genesis.json", "path to a GenesisState JSON file")
	return cmd
}

func serveCmd(log *logrus.Logger, homeDir, chainID *string, gasLimit *uint64, cacheSize *int) *cobra.Command {
	var listenAddr, metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the query server against an already-initialized database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("listen") && loadedConfig != nil && loadedConfig.Query.ListenAddr != "" {
				listenAddr = loadedConfig.Query.ListenAddr
			}
			if !cmd.Flags().Changed("metrics-listen") && loadedConfig != nil && loadedConfig.Metrics.ListenAddr != "" {
				if loadedConfig.Metrics.Enabled {
					metricsAddr = loadedConfig.Metrics.ListenAddr
				} else {
					metricsAddr = ""
				}
			}

			entry := log.WithField("component", "cwchaind")
			a, err := openApp(*homeDir, *chainID, *gasLimit, *cacheSize, entry)
			if err != nil {
				return err
			}

			if metricsAddr != "" {
				go func() {
					mux := http.NewServeMux()
					mux.Handle("/metrics", promhttp.Handler())
					entry.WithField("addr", metricsAddr).Info("metrics server listening")
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						entry.WithError(err).Warn("metrics server stopped")
					}
				}()
			}

			srv := query.NewServer(query.NewRouter(a), entry)
			return srv.ListenAndServe(listenAddr)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "query server listen address")
	cmd.Flags().StringVar(&metricsAddr, "metrics-listen", ":9090", "prometheus metrics listen address (empty disables)")
	return cmd
}

func queryCmd(log *logrus.Logger, homeDir, chainID *string, gasLimit *uint64, cacheSize *int) *cobra.Command {
	var requestJSON string
	cmd := &cobra.Command{
		Use:   "query",
		Short: "run a single QueryRequest against the database and print its JSON response",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req core.QueryRequest
			if err := json.Unmarshal([]byte(requestJSON), &req); err != nil {
				return fmt.Errorf("decode query request: %w", err)
			}

			entry := log.WithField("component", "debug-query")
			a, err := openApp(*homeDir, *chainID, *gasLimit, *cacheSize, entry)
			if err != nil {
				return err
			}
			resp, err := a.RouteQuery(req)
			if err != nil {
				return fmt.Errorf("route query: %w", err)
			}
			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return fmt.Errorf("encode response: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&requestJSON, "request", `{"info":{}}`, "JSON-encoded QueryRequest")
	return cmd
}
