package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"statement-ingestion-service/cmd/ingester/config"
	"statement-ingestion-service/internal/ingest"
	"statement-ingestion-service/internal/store"
	"statement-ingestion-service/pkg/errors"
	"statement-ingestion-service/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// cli carries the state shared by all commands of one invocation
type cli struct {
	fs      afero.Fs
	v       *viper.Viper
	cfgFile string
	verbose bool
}

// NewRootCommand builds the command tree over the given filesystem
func NewRootCommand(fs afero.Fs) *cobra.Command {
	rootCmd, _ := newCLI(fs)
	return rootCmd
}

func newCLI(fs afero.Fs) (*cobra.Command, *cli) {
	c := &cli{fs: fs, v: config.NewViper()}
	c.v.SetFs(fs)

	rootCmd := &cobra.Command{
		Use:   "ingester",
		Short: "Bank statement ingestion tool",
		Long: `Ingester normalizes bank statement exports (CSV, XLSX) into a single
transaction format and stores them per user account. PDF statements are
stored for reference.

Examples:
  ingester ingest --account checking jan.csv feb.csv
  ingester ingest --config ingester.yaml --account giro --output-format json export.xlsx
  ingester infer statement.csv --delimiter ';'
  ingester serve --addr :8080`,
		Version:       getVersionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "verbose output")
	c.v.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(
		c.newIngestCommand(),
		c.newInferCommand(),
		c.newServeCommand(),
		c.newTransactionsCommand(),
	)
	return rootCmd, c
}

// Execute runs the CLI against the OS filesystem and returns the process
// exit code
func Execute() int {
	rootCmd, c := newCLI(afero.NewOsFs())
	err := rootCmd.Execute()
	return NewCLIErrorHandler(os.Stderr, c.verbose).HandleError(err)
}

// initConfig reads in the config file when one is given. Environment
// variables are always consulted.
func (c *cli) initConfig() error {
	if c.cfgFile == "" {
		return nil
	}
	c.v.SetConfigFile(c.cfgFile)
	if err := c.v.ReadInConfig(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "config", c.cfgFile, err).
			WithSuggestion("check the config file path and its YAML syntax")
	}
	return nil
}

// runtime is the wired service graph of a command
type runtime struct {
	cfg      *config.Config
	store    store.Store
	registry *ingest.Registry
	service  *ingest.Service
	log      logger.Logger
}

// setup loads configuration, installs the logger and opens the store
func (c *cli) setup(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(c.v)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Log
	if c.v.GetBool("verbose") {
		logCfg.Level = logger.DebugLevel
	}
	log, err := logger.NewLogger(&logCfg)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", logCfg.Level, err)
	}
	logger.SetGlobalLogger(log)

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	svc := ingest.NewService(st, registry,
		ingest.WithDuplicatePolicy(cfg.Policy()),
		ingest.WithIngestorOptions(
			ingest.WithProgressEvery(int64(cfg.ProgressEvery)),
			ingest.WithLogger(log),
		),
	)

	log.WithComponent("cli").WithFields(logger.Fields{
		"store":            cfg.Store.Driver,
		"duplicate_policy": string(cfg.Policy()),
		"accounts":         len(registry.Accounts()),
	}).Debug("Runtime ready")

	return &runtime{
		cfg:      cfg,
		store:    st,
		registry: registry,
		service:  svc,
		log:      log.WithComponent("cli"),
	}, nil
}

func (r *runtime) Close() error {
	return r.store.Close()
}

// owner resolves the account context of a CLI call. Without --user the
// account's configured owner is used.
func (r *runtime) owner(userID, accountID string) (ingest.Account, error) {
	if userID != "" {
		return r.registry.Account(userID, accountID)
	}
	for _, a := range r.registry.Accounts() {
		if a.ID == accountID {
			return a, nil
		}
	}
	return ingest.Account{}, errors.StorageError(errors.CodeNotFound, "account "+accountID, nil).
		WithSuggestion("add the account to the accounts section of the config file")
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
