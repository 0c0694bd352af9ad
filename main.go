package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/silesiacoin/starterdeploy/artifact"
	"github.com/silesiacoin/starterdeploy/config"
	"github.com/silesiacoin/starterdeploy/deploy"
	"github.com/silesiacoin/starterdeploy/manifest"
)

// starterdeploy deploys the StarterUpgradeable collection behind an
// upgradeable proxy and prints the proxy address. It makes exactly one
// deployment attempt per invocation.

// Version is set at build time.
var Version = "dev"

func main() {
	logger, err := initLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	code := newApp(os.Stdout, os.Stderr, logger).execute(os.Args[1:])
	_ = logger.Sync()
	os.Exit(code)
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENV")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// ProxyDeployer is the "deploy upgradeable proxy" operation.
type ProxyDeployer interface {
	DeployProxy(ctx context.Context, impl *artifact.Factory, args []interface{}, opts deploy.ProxyOptions) (*deploy.Deployment, error)
}

// session is a connected deployer for one chain.
type session struct {
	deployer ProxyDeployer
	chainID  *big.Int
	close    func()
}

type connectFunc func(ctx context.Context, cfg *config.Config, factories deploy.FactoryResolver, logger *zap.Logger) (*session, error)

// connect dials the node and builds the proxy deployer for the configured key.
func connect(ctx context.Context, cfg *config.Config, factories deploy.FactoryResolver, logger *zap.Logger) (*session, error) {
	key, err := cfg.Key()
	if err != nil {
		return nil, err
	}

	ethCli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to ethereum node url: %s: %w", cfg.RPCURL, err)
	}

	var chainID *big.Int
	if cfg.ChainID != 0 {
		chainID = big.NewInt(cfg.ChainID)
	} else {
		chainID, err = ethCli.ChainID(ctx)
		if err != nil {
			ethCli.Close()
			return nil, fmt.Errorf("failed to get chain ID: %w", err)
		}
	}

	sender := deploy.New(ethCli, key, chainID, logger)
	sender.GasMultiplierPct = cfg.GasMultiplierPct
	sender.PollInterval = cfg.PollInterval

	if cfg.ChainID != 0 {
		if err := sender.VerifyChain(ctx); err != nil {
			ethCli.Close()
			return nil, err
		}
	}

	logger.Info("Connected to node",
		zap.String("rpc_url", cfg.RPCURL),
		zap.Stringer("chain_id", chainID),
		zap.String("network", manifest.NetworkName(chainID)),
		zap.String("deployer", sender.From.Hex()))

	store := manifest.NewFile(cfg.ManifestDir, chainID)
	return &session{
		deployer: deploy.NewProxyDeployer(sender, factories, store, logger),
		chainID:  chainID,
		close:    ethCli.Close,
	}, nil
}
