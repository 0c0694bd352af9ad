package starter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEther(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0.001", want: "1000000000000000"},
		{in: "1", want: "1000000000000000000"},
		{in: " 2.5 ", want: "2500000000000000000"},
		{in: "0", want: "0"},
		{in: "0.000000000000000001", want: "1"},
		{in: "0.0000000000000000001", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "ten", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			wei, err := ParseEther(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, wei.String())
		})
	}
}

func TestFormatEther(t *testing.T) {
	assert.Equal(t, "0.001", FormatEther(MustParseEther("0.001")))
	assert.Equal(t, "0", FormatEther(nil))
}

func TestParseAddress(t *testing.T) {
	t.Run("checksummed defaults", func(t *testing.T) {
		for _, s := range []string{DefaultCrossmintWallet, DefaultWithdrawWallet} {
			addr, err := ParseAddress(s)
			require.NoError(t, err)
			assert.Equal(t, s, addr.Hex())
		}
	})

	t.Run("lower case accepted", func(t *testing.T) {
		_, err := ParseAddress("0x6c3b3225759cbda68f96378a9f0277b4374f9f06")
		assert.NoError(t, err)
	})

	t.Run("bad checksum", func(t *testing.T) {
		_, err := ParseAddress("0x6c3B3225759Cbda68F96378A9F0277B4374f9F06")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "checksum")
	})

	t.Run("not hex", func(t *testing.T) {
		_, err := ParseAddress("0x1234")
		assert.Error(t, err)
	})
}
