package wallet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAsset(t *testing.T) {
	for _, raw := range []string{"btc", " BTC ", "Btc"} {
		got, err := NormalizeAsset(raw)
		require.NoError(t, err)
		require.Equal(t, AssetBTC, got)
	}
	_, err := NormalizeAsset("DOGE")
	require.Error(t, err)
	_, err = NormalizeAsset("")
	require.Error(t, err)
}

func TestValidateAddress(t *testing.T) {
	cases := []struct {
		name    string
		asset   string
		address string
		ok      bool
	}{
		{"btc bech32", AssetBTC, "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", true},
		{"btc wrong prefix for ltc", AssetLTC, "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", false},
		{"btc garbage", AssetBTC, "not-an-address", false},
		{"eth checksummed", AssetETH, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"usdt shares eth format", AssetUSDT, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"eth too short", AssetETH, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAe", false},
		{"xmr standard length", AssetXMR, mkAddr(95), true},
		{"xmr integrated length", AssetXMR, mkAddr(106), true},
		{"xmr wrong length", AssetXMR, mkAddr(50), false},
		{"empty address", AssetBTC, "", false},
		{"unknown asset", "DOGE", "whatever", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAddress(tc.asset, tc.address)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}
}

func mkAddr(n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = '4'
	}
	return string(buf)
}
