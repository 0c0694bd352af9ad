package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/silesiacoin/starterdeploy/artifact"
	"github.com/silesiacoin/starterdeploy/config"
	"github.com/silesiacoin/starterdeploy/deploy"
	"github.com/silesiacoin/starterdeploy/manifest"
	"github.com/silesiacoin/starterdeploy/metadata"
	"github.com/silesiacoin/starterdeploy/starter"
)

type app struct {
	stdout  io.Writer
	stderr  io.Writer
	logger  *zap.Logger
	v       *viper.Viper
	connect connectFunc
	now     func() time.Time

	cfgFile string
}

func newApp(stdout, stderr io.Writer, logger *zap.Logger) *app {
	return &app{
		stdout:  stdout,
		stderr:  stderr,
		logger:  logger,
		v:       config.New(),
		connect: connect,
		now:     time.Now,
	}
}

// execute runs the CLI and returns the process exit code.
func (a *app) execute(args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(a.stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

var flagKeys = map[string]string{
	"rpc-url":         "rpc_url",
	"chain-id":        "chain_id",
	"private-key":     "private_key",
	"artifacts":       "artifacts_dir",
	"proxy-artifacts": "proxy_artifacts_dir",
	"manifest-dir":    "manifest_dir",
	"contract":        "contract",
	"kind":            "kind",
	"initializer":     "initializer",
	"timeout":         "timeout",
	"variant":         "variant",
	"base-uri":        "base_uri",
	"contract-uri":    "contract_uri",
	"report":          "report",
	"check-metadata":  "check_metadata",
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "starterdeploy",
		Short: "Deploy the StarterUpgradeable collection behind an upgradeable proxy",
		Long: `starterdeploy deploys the StarterUpgradeable NFT collection behind an
upgradeable proxy, calls its initializer with the collection settings and
prints the proxy address.

Configuration (in order of priority):
  1. Command-line flags
  2. Environment variables (STARTERDEPLOY_RPC_URL, STARTERDEPLOY_PRIVATE_KEY, ...)
  3. Config file (./starterdeploy.yaml or ~/.starterdeploy.yaml)

Running without a subcommand is the same as "starterdeploy deploy".`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          a.runDeploy,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./starterdeploy.yaml, then ~/.starterdeploy.yaml)")
	flags.String("rpc-url", "", "JSON-RPC endpoint of the node")
	flags.Int64("chain-id", 0, "expected chain id (0 asks the node)")
	flags.String("private-key", "", "hex private key of the deployer")
	flags.String("artifacts", "artifacts", "Hardhat artifacts directory")
	flags.String("proxy-artifacts", artifact.UpgradesCoreDir, "directory searched for proxy contracts missing from --artifacts")
	flags.String("manifest-dir", ".openzeppelin", "deployment manifest directory")
	flags.String("contract", starter.ContractName, "implementation contract name")
	flags.String("kind", string(deploy.KindTransparent), "proxy kind: transparent or uups")
	flags.String("initializer", deploy.DefaultInitializer, "initializer function")
	flags.Duration("timeout", 10*time.Minute, "overall deployment timeout")
	flags.String("variant", starter.DefaultVariant, "metadata URI variant")
	flags.String("base-uri", "", "override the variant's base URI")
	flags.String("contract-uri", "", "override the variant's contract URI")
	flags.String("report", "", "write a YAML deployment report to this file")
	flags.Bool("check-metadata", false, "fetch the contract metadata before deploying")

	for name, key := range flagKeys {
		_ = a.v.BindPFlag(key, flags.Lookup(name))
	}

	deployCmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the implementation and proxy, then print the proxy address",
		Args:  cobra.NoArgs,
		RunE:  a.runDeploy,
	}

	argsCmd := &cobra.Command{
		Use:   "args",
		Short: "Print the initialization record without touching the network",
		Args:  cobra.NoArgs,
		RunE:  a.runArgs,
	}

	variantsCmd := &cobra.Command{
		Use:   "variants",
		Short: "List the metadata URI variants",
		Args:  cobra.NoArgs,
		RunE:  a.runVariants,
	}

	contractsCmd := &cobra.Command{
		Use:   "contracts",
		Short: "List the contracts found in the artifact directories",
		Args:  cobra.NoArgs,
		RunE:  a.runContracts,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "starterdeploy version %s\n", Version)
		},
	}

	root.AddCommand(deployCmd, argsCmd, variantsCmd, contractsCmd, versionCmd)
	return root
}

func (a *app) loadConfig() (*config.Config, error) {
	return config.Load(a.v, a.cfgFile)
}

// record builds the initialization record for the configured variant.
func record(cfg *config.Config) (starter.InitArgs, starter.Variant, error) {
	variant, err := cfg.SelectedVariant()
	if err != nil {
		return starter.InitArgs{}, starter.Variant{}, err
	}
	args := starter.Default(variant)
	if err := args.Validate(); err != nil {
		return starter.InitArgs{}, starter.Variant{}, err
	}
	return args, variant, nil
}

func (a *app) runDeploy(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	runID := uuid.New()
	logger := a.logger.With(zap.String("run_id", runID.String()))

	initArgs, variant, err := record(cfg)
	if err != nil {
		return err
	}

	logger.Info("Deployment configured",
		zap.String("contract", cfg.Contract),
		zap.String("kind", cfg.Kind),
		zap.String("variant", variant.Name),
		zap.String("minting_phase", initArgs.MintingPhase.String()),
		zap.String("sale_price_eth", starter.FormatEther(initArgs.SalePrice)))

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
	defer cancel()

	if cfg.CheckMetadata {
		if err := checkMetadata(ctx, cfg, initArgs, logger); err != nil {
			return err
		}
	}

	store := artifact.NewStore(cfg.ArtifactsDir, logger)
	factory, err := store.Resolve(cfg.Contract)
	if err != nil {
		return fmt.Errorf("resolve contract factory: %w", err)
	}
	factories := artifact.Fallback{store, artifact.NewStore(cfg.ProxyArtifacts, logger)}

	s, err := a.connect(ctx, cfg, factories, logger)
	if err != nil {
		return err
	}
	defer s.close()

	d, err := s.deployer.DeployProxy(ctx, factory, []interface{}{initArgs.Fields()}, deploy.ProxyOptions{
		Kind:        cfg.ProxyKind(),
		Initializer: cfg.Initializer,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "starter contract deployed to: %s\n", d.Address.Hex())

	logger.Info("Deployment finished",
		zap.String("proxy", d.Address.Hex()),
		zap.String("implementation", d.Implementation.Hex()),
		zap.String("tx_hash", d.TxHash.Hex()),
		zap.Uint64("gas_used", d.GasUsed))

	if cfg.Report != "" {
		// The proxy is live at this point, so a report failure does not fail the run.
		rep := newReport(runID, s.chainID, factory, variant, initArgs, d, a.now())
		if err := writeReport(cfg.Report, rep); err != nil {
			logger.Error("Failed to write report", zap.String("path", cfg.Report), zap.Error(err))
			return nil
		}
		logger.Info("Report written", zap.String("path", cfg.Report))
	}
	return nil
}

// checkMetadata fetches the collection document behind the contract URI.
func checkMetadata(ctx context.Context, cfg *config.Config, args starter.InitArgs, logger *zap.Logger) error {
	doc, err := metadata.New(cfg.IPFSGateway, logger).FetchContractMetadata(ctx, args.ContractURI)
	if err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String("name", doc.Name),
		zap.Uint16("seller_fee_basis_points", doc.SellerFeeBasisPoints),
	}
	if recipient, ok := doc.RoyaltyRecipient(); ok {
		fields = append(fields, zap.String("fee_recipient", recipient.Hex()))
		if recipient != args.WithdrawWallet {
			logger.Warn("Royalty recipient differs from withdraw wallet",
				zap.String("fee_recipient", recipient.Hex()),
				zap.String("withdraw_wallet", args.WithdrawWallet.Hex()))
		}
	}
	logger.Info("Contract metadata checked", fields...)
	return nil
}

func (a *app) runArgs(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	initArgs, _, err := record(cfg)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(initArgs)
}

func (a *app) runVariants(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	all := starter.Variants(cfg.Variants)
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tBASE URI\tCONTRACT URI")
	for _, name := range starter.VariantNames(all) {
		v := all[name]
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, v.BaseURI, v.ContractURI)
	}
	return w.Flush()
}

func (a *app) runContracts(cmd *cobra.Command, _ []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONTRACT\tDIRECTORY")
	for _, dir := range []string{cfg.ArtifactsDir, cfg.ProxyArtifacts} {
		names, err := artifact.NewStore(dir, a.logger).Names()
		if errors.Is(err, fs.ErrNotExist) && dir == cfg.ProxyArtifacts {
			continue
		}
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintf(w, "%s\t%s\n", name, dir)
		}
	}
	return w.Flush()
}

type report struct {
	RunID          string           `yaml:"run_id"`
	DeployedAt     time.Time        `yaml:"deployed_at"`
	Network        string           `yaml:"network"`
	ChainID        string           `yaml:"chain_id"`
	Contract       string           `yaml:"contract"`
	Variant        string           `yaml:"variant"`
	Kind           string           `yaml:"kind"`
	Proxy          string           `yaml:"proxy"`
	Implementation string           `yaml:"implementation"`
	Admin          string           `yaml:"admin,omitempty"`
	TxHash         string           `yaml:"tx_hash"`
	BlockNumber    uint64           `yaml:"block_number"`
	GasUsed        uint64           `yaml:"gas_used"`
	SalePriceEth   string           `yaml:"sale_price_eth"`
	Args           starter.InitArgs `yaml:"args"`
}

func newReport(runID uuid.UUID, chainID *big.Int, factory *artifact.Factory, variant starter.Variant, args starter.InitArgs, d *deploy.Deployment, at time.Time) report {
	rep := report{
		RunID:          runID.String(),
		DeployedAt:     at.UTC(),
		Network:        manifest.NetworkName(chainID),
		ChainID:        chainID.String(),
		Contract:       factory.FullyQualifiedName(),
		Variant:        variant.Name,
		Kind:           string(d.Kind),
		Proxy:          d.Address.Hex(),
		Implementation: d.Implementation.Hex(),
		TxHash:         d.TxHash.Hex(),
		BlockNumber:    d.BlockNumber,
		GasUsed:        d.GasUsed,
		SalePriceEth:   starter.FormatEther(args.SalePrice),
		Args:           args,
	}
	if d.Admin != (common.Address{}) {
		rep.Admin = d.Admin.Hex()
	}
	return rep
}

func writeReport(path string, rep report) error {
	data, err := yaml.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
