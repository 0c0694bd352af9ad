package artifact_test

import (
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silesiacoin/starterdeploy/artifact"
	"github.com/silesiacoin/starterdeploy/starter"
)

func starterFactory(t *testing.T) *artifact.Factory {
	f, err := newStore(t).Resolve(starter.ContractName)
	require.NoError(t, err)
	return f
}

func defaultArgs(t *testing.T) starter.InitArgs {
	v, err := starter.LookupVariant(starter.DefaultVariant, nil)
	require.NoError(t, err)
	return starter.Default(v)
}

func decodeInitialize(t *testing.T, f *artifact.Factory, data []byte) reflect.Value {
	m, ok := f.Method("initialize")
	require.True(t, ok)
	require.Equal(t, m.ID, data[:4])

	out, err := m.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, out, 1)
	return reflect.ValueOf(out[0])
}

func TestEncodeInitializeFromFields(t *testing.T) {
	f := starterFactory(t)
	args := defaultArgs(t)

	data, err := f.EncodeCall("initialize", args.Fields())
	require.NoError(t, err)

	got := decodeInitialize(t, f, data)
	assert.Equal(t, "Ninja Starter", got.FieldByName("Name").String())
	assert.Equal(t, "NINJA", got.FieldByName("Symbol").String())
	assert.Equal(t, uint64(1), got.FieldByName("MintingPhase").Uint())
	assert.Equal(t, "1000", got.FieldByName("MaxSupply").Interface().(*big.Int).String())
	assert.Equal(t, "1000000000000000", got.FieldByName("SalePrice").Interface().(*big.Int).String())
	assert.Equal(t, "20", got.FieldByName("MaxPerWallet").Interface().(*big.Int).String())
	assert.Equal(t, args.CrossmintWallet, got.FieldByName("CrossmintWallet").Interface().(common.Address))
	assert.Equal(t, args.WithdrawWallet, got.FieldByName("WithdrawWallet").Interface().(common.Address))
	assert.Equal(t, args.BaseURI, got.FieldByName("BaseURI").String())
	assert.Equal(t, args.ContractURI, got.FieldByName("ContractURI").String())
	assert.False(t, got.FieldByName("NumberedMetadata").Bool())
}

func TestEncodeInitializeFromStruct(t *testing.T) {
	f := starterFactory(t)
	args := defaultArgs(t)

	fromMap, err := f.EncodeCall("initialize", args.Fields())
	require.NoError(t, err)
	fromStruct, err := f.EncodeCall("initialize", args)
	require.NoError(t, err)
	fromSig, err := f.EncodeCall("initialize((string,string,uint8,uint256,uint256,uint256,address,address,string,string,bool))", &args)
	require.NoError(t, err)

	assert.Equal(t, fromMap, fromStruct)
	assert.Equal(t, fromMap, fromSig)
}

func TestEncodeInitializeErrors(t *testing.T) {
	f := starterFactory(t)

	tests := []struct {
		name   string
		mutate func(m map[string]interface{})
		want   string
	}{
		{"phase overflows uint8", func(m map[string]interface{}) { m["mintingPhase"] = 300 }, "overflows uint8"},
		{"negative supply", func(m map[string]interface{}) { m["maxSupply"] = -1 }, "negative value"},
		{"bad address", func(m map[string]interface{}) { m["withdrawWallet"] = "0x1234" }, "invalid address"},
		{"unknown field", func(m map[string]interface{}) { m["royalty"] = 5 }, `unknown tuple field "royalty"`},
		{"missing field", func(m map[string]interface{}) { delete(m, "contractURI") }, `missing tuple field "contractURI"`},
		{"nil value", func(m map[string]interface{}) { m["salePrice"] = nil }, "missing value"},
		{"wrong kind", func(m map[string]interface{}) { m["numberedMetadata"] = "no" }, "cannot use string as bool"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := defaultArgs(t).Fields()
			tt.mutate(fields)

			_, err := f.EncodeCall("initialize", fields)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("unknown method", func(t *testing.T) {
		_, err := f.EncodeCall("initializeV2")
		assert.Error(t, err)
	})

	t.Run("argument count", func(t *testing.T) {
		_, err := f.EncodeCall("initialize")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected 1 arguments, got 0")
	})
}

func TestDeployDataCoercesConstructorArgs(t *testing.T) {
	f, err := newStore(t).Resolve("contracts/Token.sol:Token")
	require.NoError(t, err)

	holders := []string{
		"0x13253aa4Abe1861124d4c286Ee4374cD054D3eb9",
		"0x6C3b3225759Cbda68F96378A9F0277B4374f9F06",
	}
	tag := common.HexToHash("0x01")

	data, err := f.DeployData(65535, int64(-128), holders, tag)
	require.NoError(t, err)
	require.Equal(t, f.Bytecode, data[:len(f.Bytecode)])

	out, err := f.ConstructorInputs().Unpack(data[len(f.Bytecode):])
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), out[0])
	assert.Equal(t, int8(-128), out[1])
	assert.Equal(t, []common.Address{
		common.HexToAddress(holders[0]),
		common.HexToAddress(holders[1]),
	}, out[2])
	assert.Equal(t, [32]byte(tag), out[3])

	t.Run("range", func(t *testing.T) {
		_, err := f.DeployData(65536, 0, holders, tag)
		assert.ErrorContains(t, err, "overflows uint16")

		_, err = f.DeployData(1, 128, holders, tag)
		assert.ErrorContains(t, err, "overflows int8")
	})

	t.Run("fixed bytes length", func(t *testing.T) {
		_, err := f.DeployData(1, 0, holders, "0x0102")
		assert.ErrorContains(t, err, "needs 32 bytes")
	})
}

func TestBytecodeHashStable(t *testing.T) {
	a := starterFactory(t)
	b := starterFactory(t)
	assert.Equal(t, a.BytecodeHash(), b.BytecodeHash())
	assert.NotEqual(t, common.Hash{}, a.BytecodeHash())
}
