package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lmittmann/w3"
	"go.uber.org/zap"

	"github.com/silesiacoin/starterdeploy/artifact"
	"github.com/silesiacoin/starterdeploy/manifest"
)

// Kind is the proxy pattern.
type Kind string

const (
	KindTransparent Kind = "transparent"
	KindUUPS        Kind = "uups"
)

// ParseKind accepts "transparent" or "uups". An empty string is transparent.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindTransparent:
		return KindTransparent, nil
	case KindUUPS:
		return KindUUPS, nil
	}
	return "", fmt.Errorf("unknown proxy kind %q", s)
}

const (
	DefaultInitializer   = "initialize"
	AdminName            = "ProxyAdmin"
	TransparentProxyName = "TransparentUpgradeableProxy"
	UUPSProxyName        = "ERC1967Proxy"
)

// ErrEventMissing is returned when the proxy receipt lacks the Upgraded event
// for the expected implementation.
var ErrEventMissing = errors.New("upgraded event not found")

var (
	eventUpgraded     = w3.MustNewEvent("Upgraded(address indexed implementation)")
	eventAdminChanged = w3.MustNewEvent("AdminChanged(address previousAdmin, address newAdmin)")
	funcOwner         = w3.MustNewFunc("owner()", "address")
)

// ProxyOptions controls how the proxy is created and initialized.
type ProxyOptions struct {
	Kind        Kind
	Initializer string
}

// FactoryResolver looks up deployable contracts by name.
type FactoryResolver interface {
	Resolve(name string) (*artifact.Factory, error)
}

// ManifestStore persists the per-network deployment manifest.
type ManifestStore interface {
	Load() (*manifest.Manifest, error)
	Save(m *manifest.Manifest) error
}

// Deployment is the outcome of a proxy deployment.
type Deployment struct {
	Address        common.Address
	TxHash         common.Hash
	Implementation common.Address
	Admin          common.Address
	Kind           Kind
	BlockNumber    uint64
	GasUsed        uint64
}

// ProxyDeployer deploys an implementation behind an ERC-1967 proxy.
type ProxyDeployer struct {
	sender    *Sender
	factories FactoryResolver
	manifest  ManifestStore
	logger    *zap.Logger
}

// NewProxyDeployer creates a ProxyDeployer. Proxy and admin contracts are
// resolved through factories.
func NewProxyDeployer(sender *Sender, factories FactoryResolver, store ManifestStore, logger *zap.Logger) *ProxyDeployer {
	return &ProxyDeployer{
		sender:    sender,
		factories: factories,
		manifest:  store,
		logger:    logger,
	}
}

// DeployProxy deploys (or reuses) the implementation of impl, deploys a proxy
// pointing at it and calls the initializer with args through the proxy
// constructor. It makes a single attempt.
func (p *ProxyDeployer) DeployProxy(ctx context.Context, impl *artifact.Factory, args []interface{}, opts ProxyOptions) (*Deployment, error) {
	kind := opts.Kind
	if kind == "" {
		kind = KindTransparent
	}

	initData, err := initializerData(impl, args, opts)
	if err != nil {
		return nil, err
	}

	if kind == KindUUPS {
		if _, ok := impl.Method("upgradeToAndCall"); !ok {
			return nil, fmt.Errorf("%s is not UUPS upgradeable: missing upgradeToAndCall", impl.Name)
		}
	}

	m, err := p.manifest.Load()
	if err != nil {
		return nil, err
	}

	// Proxy and admin contracts are settled before the first transaction.
	pl, err := p.plan(ctx, m, kind)
	if err != nil {
		return nil, err
	}

	implAddr, err := p.ensureImplementation(ctx, m, impl)
	if err != nil {
		return nil, err
	}

	var (
		deployArgs []interface{}
		admin      common.Address
	)
	switch {
	case kind == KindUUPS:
		deployArgs = []interface{}{implAddr, initData}
	case pl.ownsAdmin:
		// The proxy creates its own admin owned by the second argument.
		deployArgs = []interface{}{implAddr, p.sender.From, initData}
	default:
		admin = pl.admin
		if pl.adminData != nil {
			admin, err = p.deployAdmin(ctx, m, pl.adminData)
			if err != nil {
				return nil, err
			}
		}
		deployArgs = []interface{}{implAddr, admin, initData}
	}

	proxyName, proxyFactory := pl.proxyName, pl.proxy
	data, err := proxyFactory.DeployData(deployArgs...)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Deploying proxy",
		zap.String("contract", impl.Name),
		zap.String("kind", string(kind)),
		zap.String("implementation", implAddr.Hex()))

	tx, addr, err := p.sender.Deploy(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("deploy %s: %w", proxyName, err)
	}

	receipt, err := p.sender.WaitForReceipt(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}

	if err := checkUpgraded(receipt, addr, implAddr); err != nil {
		return nil, err
	}
	if kind == KindTransparent && admin == (common.Address{}) {
		admin, err = adminFromReceipt(receipt, addr)
		if err != nil {
			return nil, err
		}
	}

	m.AddProxy(manifest.Proxy{Address: addr, TxHash: tx.Hash(), Kind: string(kind)})
	if err := p.manifest.Save(m); err != nil {
		return nil, err
	}

	d := &Deployment{
		Address:        addr,
		TxHash:         tx.Hash(),
		Implementation: implAddr,
		Admin:          admin,
		Kind:           kind,
		GasUsed:        receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		d.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return d, nil
}

func initializerData(impl *artifact.Factory, args []interface{}, opts ProxyOptions) ([]byte, error) {
	name := opts.Initializer
	if name == "" {
		name = DefaultInitializer
	}

	if _, ok := impl.Method(name); !ok {
		if len(args) == 0 {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("%s has no initializer %q", impl.Name, name)
	}
	return impl.EncodeCall(name, args...)
}

func (p *ProxyDeployer) ensureImplementation(ctx context.Context, m *manifest.Manifest, impl *artifact.Factory) (common.Address, error) {
	hash := impl.BytecodeHash()

	if known, ok := m.Implementation(hash); ok {
		live, err := p.sender.HasCode(ctx, known.Address)
		if err != nil {
			return common.Address{}, err
		}
		if live {
			p.logger.Info("Reusing implementation",
				zap.String("contract", impl.Name),
				zap.String("address", known.Address.Hex()))
			return known.Address, nil
		}
		p.logger.Warn("Implementation in manifest has no code, redeploying",
			zap.String("contract", impl.Name),
			zap.String("address", known.Address.Hex()))
	}

	data, err := impl.DeployData()
	if err != nil {
		return common.Address{}, err
	}

	tx, addr, err := p.sender.Deploy(ctx, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy %s implementation: %w", impl.Name, err)
	}
	if _, err := p.sender.WaitForReceipt(ctx, tx.Hash()); err != nil {
		return common.Address{}, err
	}

	m.SetImplementation(hash, manifest.Deployment{Address: addr, TxHash: tx.Hash()})
	if err := p.manifest.Save(m); err != nil {
		return common.Address{}, err
	}

	p.logger.Info("Implementation deployed",
		zap.String("contract", impl.Name),
		zap.String("address", addr.Hex()))
	return addr, nil
}

// proxyPlan holds the contracts a deployment needs besides the implementation.
type proxyPlan struct {
	proxyName string
	proxy     *artifact.Factory
	ownsAdmin bool

	// admin is a live admin from the manifest. adminData is the creation
	// code of a new admin when there is none to reuse.
	admin     common.Address
	adminData []byte
}

func (p *ProxyDeployer) plan(ctx context.Context, m *manifest.Manifest, kind Kind) (*proxyPlan, error) {
	pl := &proxyPlan{}
	switch kind {
	case KindUUPS:
		pl.proxyName = UUPSProxyName
	case KindTransparent:
		pl.proxyName = TransparentProxyName
	default:
		return nil, fmt.Errorf("unknown proxy kind %q", kind)
	}

	proxy, err := p.factories.Resolve(pl.proxyName)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", pl.proxyName, err)
	}
	if len(proxy.Bytecode) == 0 {
		return nil, fmt.Errorf("%s: %w", pl.proxyName, artifact.ErrAbstract)
	}
	pl.proxy = proxy

	if kind != KindTransparent {
		return pl, nil
	}
	if ownsAdmin(proxy) {
		pl.ownsAdmin = true
		return pl, nil
	}

	admin, ok, err := p.reusableAdmin(ctx, m)
	if err != nil {
		return nil, err
	}
	if ok {
		pl.admin = admin
		return pl, nil
	}

	factory, err := p.factories.Resolve(AdminName)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", AdminName, err)
	}
	var args []interface{}
	if inputs := factory.ConstructorInputs(); len(inputs) == 1 && inputs[0].Type.String() == "address" {
		args = append(args, p.sender.From)
	}
	pl.adminData, err = factory.DeployData(args...)
	if err != nil {
		return nil, err
	}
	return pl, nil
}

// reusableAdmin returns the manifest admin when it still has code and is owned
// by the deployer.
func (p *ProxyDeployer) reusableAdmin(ctx context.Context, m *manifest.Manifest) (common.Address, bool, error) {
	if m.Admin == nil {
		return common.Address{}, false, nil
	}
	live, err := p.sender.HasCode(ctx, m.Admin.Address)
	if err != nil {
		return common.Address{}, false, err
	}
	if !live {
		return common.Address{}, false, nil
	}

	owner, err := p.adminOwner(ctx, m.Admin.Address)
	if err != nil {
		return common.Address{}, false, err
	}
	if owner != p.sender.From {
		return common.Address{}, false, fmt.Errorf("proxy admin %s is owned by %s, not %s",
			m.Admin.Address.Hex(), owner.Hex(), p.sender.From.Hex())
	}
	p.logger.Info("Reusing proxy admin", zap.String("address", m.Admin.Address.Hex()))
	return m.Admin.Address, true, nil
}

func (p *ProxyDeployer) deployAdmin(ctx context.Context, m *manifest.Manifest, data []byte) (common.Address, error) {
	tx, addr, err := p.sender.Deploy(ctx, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy %s: %w", AdminName, err)
	}
	if _, err := p.sender.WaitForReceipt(ctx, tx.Hash()); err != nil {
		return common.Address{}, err
	}

	m.Admin = &manifest.Deployment{Address: addr, TxHash: tx.Hash()}
	if err := p.manifest.Save(m); err != nil {
		return common.Address{}, err
	}

	p.logger.Info("Proxy admin deployed", zap.String("address", addr.Hex()))
	return addr, nil
}

func (p *ProxyDeployer) adminOwner(ctx context.Context, admin common.Address) (common.Address, error) {
	input, err := funcOwner.EncodeArgs()
	if err != nil {
		return common.Address{}, fmt.Errorf("encode owner: %w", err)
	}
	output, err := p.sender.Call(ctx, admin, input)
	if err != nil {
		return common.Address{}, fmt.Errorf("call owner on %s: %w", admin.Hex(), err)
	}

	var owner common.Address
	if err := funcOwner.DecodeReturns(output, &owner); err != nil {
		return common.Address{}, fmt.Errorf("decode owner: %w", err)
	}
	return owner, nil
}

// ownsAdmin reports whether the transparent proxy deploys its own admin,
// taking the admin owner rather than an admin contract as constructor input.
func ownsAdmin(f *artifact.Factory) bool {
	inputs := f.ConstructorInputs()
	return len(inputs) == 3 && inputs[1].Name == "initialOwner"
}

func checkUpgraded(receipt *types.Receipt, proxy, implementation common.Address) error {
	for _, log := range receipt.Logs {
		if log.Address != proxy {
			continue
		}
		var got common.Address
		if err := eventUpgraded.DecodeArgs(log, &got); err != nil {
			continue
		}
		if got == implementation {
			return nil
		}
	}
	return fmt.Errorf("%w: proxy %s implementation %s", ErrEventMissing, proxy.Hex(), implementation.Hex())
}

func adminFromReceipt(receipt *types.Receipt, proxy common.Address) (common.Address, error) {
	for _, log := range receipt.Logs {
		if log.Address != proxy {
			continue
		}
		var previous, admin common.Address
		if err := eventAdminChanged.DecodeArgs(log, &previous, &admin); err == nil {
			return admin, nil
		}
	}
	return common.Address{}, fmt.Errorf("AdminChanged event not found for proxy %s", proxy.Hex())
}
