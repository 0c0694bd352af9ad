// Package config loads deployment settings from flags, STARTERDEPLOY_*
// environment variables and an optional YAML file, in that order of priority.
package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/silesiacoin/starterdeploy/artifact"
	"github.com/silesiacoin/starterdeploy/deploy"
	"github.com/silesiacoin/starterdeploy/metadata"
	"github.com/silesiacoin/starterdeploy/starter"
)

const (
	EnvPrefix = "STARTERDEPLOY"
	FileName  = "starterdeploy"
)

// Config holds everything a deployment run needs.
type Config struct {
	RPCURL           string                     `mapstructure:"rpc_url" validate:"required"`
	ChainID          int64                      `mapstructure:"chain_id" validate:"gte=0"` // 0 asks the node
	PrivateKey       string                     `mapstructure:"private_key" validate:"required"`
	ArtifactsDir     string                     `mapstructure:"artifacts_dir" validate:"required"`
	// ProxyArtifacts is searched after ArtifactsDir for proxy contracts.
	ProxyArtifacts   string                     `mapstructure:"proxy_artifacts_dir"`
	ManifestDir      string                     `mapstructure:"manifest_dir" validate:"required"`
	Contract         string                     `mapstructure:"contract" validate:"required"`
	Kind             string                     `mapstructure:"kind"`
	Initializer      string                     `mapstructure:"initializer"`
	Timeout          time.Duration              `mapstructure:"timeout" validate:"gt=0"`
	PollInterval     time.Duration              `mapstructure:"poll_interval" validate:"gt=0"`
	GasMultiplierPct uint64                     `mapstructure:"gas_multiplier_pct" validate:"gte=100"`
	Variant          string                     `mapstructure:"variant"`
	BaseURI          string                     `mapstructure:"base_uri"`
	ContractURI      string                     `mapstructure:"contract_uri"`
	Variants         map[string]starter.Variant `mapstructure:"variants"`
	Report           string                     `mapstructure:"report"`
	CheckMetadata    bool                       `mapstructure:"check_metadata"`
	IPFSGateway      string                     `mapstructure:"ipfs_gateway" validate:"omitempty,url"`
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("rpc_url", "")
	v.SetDefault("chain_id", 0)
	v.SetDefault("private_key", "")
	v.SetDefault("artifacts_dir", "artifacts")
	v.SetDefault("proxy_artifacts_dir", artifact.UpgradesCoreDir)
	v.SetDefault("manifest_dir", ".openzeppelin")
	v.SetDefault("contract", starter.ContractName)
	v.SetDefault("kind", string(deploy.KindTransparent))
	v.SetDefault("initializer", deploy.DefaultInitializer)
	v.SetDefault("timeout", 10*time.Minute)
	v.SetDefault("poll_interval", deploy.DefaultPollInterval)
	v.SetDefault("gas_multiplier_pct", deploy.DefaultGasMultiplierPct)
	v.SetDefault("variant", starter.DefaultVariant)
	v.SetDefault("base_uri", "")
	v.SetDefault("contract_uri", "")
	v.SetDefault("report", "")
	v.SetDefault("check_metadata", false)
	v.SetDefault("ipfs_gateway", metadata.DefaultIPFSGateway)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the config file (if any) and decodes v. An explicit cfgFile must
// exist; otherwise ./starterdeploy.yaml and ~/.starterdeploy.yaml are tried.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigType("yaml")
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings a deployment needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	if _, err := c.Key(); err != nil {
		return err
	}
	if _, err := deploy.ParseKind(c.Kind); err != nil {
		return err
	}
	for _, wallet := range []string{starter.DefaultCrossmintWallet, starter.DefaultWithdrawWallet} {
		if _, err := starter.ParseAddress(wallet); err != nil {
			return err
		}
	}
	if _, err := c.SelectedVariant(); err != nil {
		return err
	}
	return nil
}

var validate = newValidator()

// newValidator reports fields by their config key rather than the Go name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// formatValidationErrors joins validator errors into one message.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		field := fieldError.Field()
		switch fieldError.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required (flag or %s_%s)", field, EnvPrefix, strings.ToUpper(field)))
		case "gt":
			msgs = append(msgs, field+" must be positive")
		case "gte":
			msgs = append(msgs, field+" must be at least "+fieldError.Param())
		case "url":
			msgs = append(msgs, field+" must be a valid URL")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// Key parses the hex private key, with or without 0x prefix.
func (c *Config) Key() (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.PrivateKey)), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// SelectedVariant resolves the configured variant and applies URI overrides.
// Names are matched in lower case, the way viper stores map keys.
func (c *Config) SelectedVariant() (starter.Variant, error) {
	name := strings.ToLower(strings.TrimSpace(c.Variant))
	if name == "" {
		name = starter.DefaultVariant
	}
	v, err := starter.LookupVariant(name, c.Variants)
	if err != nil {
		return starter.Variant{}, err
	}
	return v.WithOverrides(c.BaseURI, c.ContractURI), nil
}

// ProxyKind returns the parsed proxy kind.
func (c *Config) ProxyKind() deploy.Kind {
	k, err := deploy.ParseKind(c.Kind)
	if err != nil {
		return deploy.KindTransparent
	}
	return k
}
