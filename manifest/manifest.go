// Package manifest records what has been deployed on a network so that
// implementations and the proxy admin are reused across runs.
package manifest

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Version of the on-disk format.
const Version = "3.2"

// Deployment is a contract created by a single transaction.
type Deployment struct {
	Address common.Address `json:"address"`
	TxHash  common.Hash    `json:"txHash"`

	// Extra holds keys written by other tools, such as the storage layout
	// hardhat-upgrades records per implementation.
	Extra map[string]json.RawMessage `json:"-"`
}

func (d Deployment) MarshalJSON() ([]byte, error) {
	type plain Deployment
	return marshalWithExtra(plain(d), d.Extra)
}

func (d *Deployment) UnmarshalJSON(data []byte) error {
	type plain Deployment
	if err := json.Unmarshal(data, (*plain)(d)); err != nil {
		return err
	}
	extra, err := extraFields(data, "address", "txHash")
	d.Extra = extra
	return err
}

// Proxy is a deployed proxy and the pattern it follows.
type Proxy struct {
	Address common.Address `json:"address"`
	TxHash  common.Hash    `json:"txHash"`
	Kind    string         `json:"kind"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (p Proxy) MarshalJSON() ([]byte, error) {
	type plain Proxy
	return marshalWithExtra(plain(p), p.Extra)
}

func (p *Proxy) UnmarshalJSON(data []byte) error {
	type plain Proxy
	if err := json.Unmarshal(data, (*plain)(p)); err != nil {
		return err
	}
	extra, err := extraFields(data, "address", "txHash", "kind")
	p.Extra = extra
	return err
}

// Manifest is the per-network deployment record. The file is shared with
// hardhat-upgrades, so keys this package does not model survive a load and
// save unchanged.
type Manifest struct {
	ManifestVersion string                `json:"manifestVersion"`
	Admin           *Deployment           `json:"admin,omitempty"`
	Proxies         []Proxy               `json:"proxies"`
	Impls           map[string]Deployment `json:"impls"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (m Manifest) MarshalJSON() ([]byte, error) {
	type plain Manifest
	return marshalWithExtra(plain(m), m.Extra)
}

func (m *Manifest) UnmarshalJSON(data []byte) error {
	type plain Manifest
	if err := json.Unmarshal(data, (*plain)(m)); err != nil {
		return err
	}
	extra, err := extraFields(data, "manifestVersion", "admin", "proxies", "impls")
	m.Extra = extra
	return err
}

// extraFields returns the members of a JSON object that are not in known, or
// nil when there are none.
func extraFields(data []byte, known ...string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

func marshalWithExtra(v interface{}, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, ok := all[k]; !ok {
			all[k] = raw
		}
	}
	return json.Marshal(all)
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{
		ManifestVersion: Version,
		Proxies:         make([]Proxy, 0),
		Impls:           make(map[string]Deployment),
	}
}

func implKey(bytecodeHash common.Hash) string {
	return strings.TrimPrefix(bytecodeHash.Hex(), "0x")
}

// Implementation looks up the implementation deployed for a bytecode hash.
func (m *Manifest) Implementation(bytecodeHash common.Hash) (Deployment, bool) {
	d, ok := m.Impls[implKey(bytecodeHash)]
	return d, ok
}

// SetImplementation records the implementation for a bytecode hash.
func (m *Manifest) SetImplementation(bytecodeHash common.Hash, d Deployment) {
	if m.Impls == nil {
		m.Impls = make(map[string]Deployment)
	}
	m.Impls[implKey(bytecodeHash)] = d
}

// AddProxy appends a proxy record.
func (m *Manifest) AddProxy(p Proxy) {
	m.Proxies = append(m.Proxies, p)
}

var networkNames = map[uint64]string{
	1:        "mainnet",
	5:        "goerli",
	137:      "polygon",
	80001:    "mumbai",
	11155111: "sepolia",
}

// NetworkName maps a chain id to the manifest file stem.
func NetworkName(chainID *big.Int) string {
	if chainID != nil && chainID.IsUint64() {
		if name, ok := networkNames[chainID.Uint64()]; ok {
			return name
		}
	}
	return fmt.Sprintf("unknown-%s", chainID)
}

// File is a manifest stored as JSON at <dir>/<network>.json.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile returns the manifest file for chainID under dir.
func NewFile(dir string, chainID *big.Int) *File {
	return &File{path: filepath.Join(dir, NetworkName(chainID)+".json")}
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Load reads the manifest. A missing file yields an empty manifest.
func (f *File) Load() (*Manifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	m := New()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", f.path, err)
	}
	if m.Impls == nil {
		m.Impls = make(map[string]Deployment)
	}
	return m, nil
}

// Save writes the manifest atomically.
func (f *File) Save(m *Manifest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}
