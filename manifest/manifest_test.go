package manifest

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkName(t *testing.T) {
	assert.Equal(t, "mainnet", NetworkName(big.NewInt(1)))
	assert.Equal(t, "sepolia", NetworkName(big.NewInt(11155111)))
	assert.Equal(t, "unknown-31337", NetworkName(big.NewInt(31337)))
}

func TestLoadMissingIsEmpty(t *testing.T) {
	f := NewFile(t.TempDir(), big.NewInt(31337))
	m, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, Version, m.ManifestVersion)
	assert.Nil(t, m.Admin)
	assert.Empty(t, m.Proxies)
	assert.Empty(t, m.Impls)
}

func TestSaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".openzeppelin")
	f := NewFile(dir, big.NewInt(11155111))
	assert.Equal(t, filepath.Join(dir, "sepolia.json"), f.Path())

	hash := common.HexToHash("0xabc")
	impl := Deployment{Address: common.HexToAddress("0x01"), TxHash: common.HexToHash("0x11")}

	m := New()
	m.Admin = &Deployment{Address: common.HexToAddress("0x02"), TxHash: common.HexToHash("0x22")}
	m.SetImplementation(hash, impl)
	m.AddProxy(Proxy{Address: common.HexToAddress("0x03"), TxHash: common.HexToHash("0x33"), Kind: "transparent"})
	require.NoError(t, f.Save(m))

	_, err := os.Stat(f.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))

	loaded, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, m, loaded)

	got, ok := loaded.Implementation(hash)
	require.True(t, ok)
	assert.Equal(t, impl, got)

	_, ok = loaded.Implementation(common.HexToHash("0xdef"))
	assert.False(t, ok)
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(dir, big.NewInt(1))
	require.NoError(t, os.WriteFile(f.Path(), []byte("{"), 0o644))

	_, err := f.Load()
	assert.ErrorContains(t, err, "decode manifest")
}

const upgradesManifest = `{
  "manifestVersion": "3.2",
  "admin": {
    "address": "0x0000000000000000000000000000000000000002",
    "txHash": "0x0000000000000000000000000000000000000000000000000000000000000022"
  },
  "proxies": [
    {
      "address": "0x0000000000000000000000000000000000000003",
      "txHash": "0x0000000000000000000000000000000000000000000000000000000000000033",
      "kind": "transparent"
    }
  ],
  "impls": {
    "8b3bc2f1a3c4": {
      "address": "0x0000000000000000000000000000000000000001",
      "txHash": "0x0000000000000000000000000000000000000000000000000000000000000011",
      "allAddresses": ["0x0000000000000000000000000000000000000001"],
      "layout": {
        "solcVersion": "0.8.20",
        "storage": [{"label": "_maxSupply", "slot": "0", "type": "t_uint256"}],
        "types": {"t_uint256": {"label": "uint256", "numberOfBytes": "32"}}
      }
    }
  },
  "deployer": {"note": "written by another tool"}
}`

func TestSaveKeepsForeignFields(t *testing.T) {
	// Given a manifest written by hardhat-upgrades
	f := NewFile(t.TempDir(), big.NewInt(11155111))
	require.NoError(t, os.WriteFile(f.Path(), []byte(upgradesManifest), 0o644))

	// When it is loaded, extended and saved
	m, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x02"), m.Admin.Address)
	m.AddProxy(Proxy{Address: common.HexToAddress("0x04"), Kind: "uups"})
	require.NoError(t, f.Save(m))

	// Then nothing it did not model is lost
	data, err := os.ReadFile(f.Path())
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, map[string]interface{}{"note": "written by another tool"}, doc["deployer"])

	impl := doc["impls"].(map[string]interface{})["8b3bc2f1a3c4"].(map[string]interface{})
	assert.Equal(t, []interface{}{"0x0000000000000000000000000000000000000001"}, impl["allAddresses"])
	layout := impl["layout"].(map[string]interface{})
	assert.Equal(t, "0.8.20", layout["solcVersion"])
	assert.Len(t, layout["storage"], 1)

	assert.Len(t, doc["proxies"], 2)

	reloaded, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, m.Proxies[1].Address, reloaded.Proxies[1].Address)
	assert.JSONEq(t,
		string(m.Impls["8b3bc2f1a3c4"].Extra["layout"]),
		string(reloaded.Impls["8b3bc2f1a3c4"].Extra["layout"]))
}
