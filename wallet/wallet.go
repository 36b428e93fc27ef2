package wallet

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
)

// Supported payment asset keys.
const (
	AssetBTC  = "BTC"
	AssetETH  = "ETH"
	AssetLTC  = "LTC"
	AssetXMR  = "XMR"
	AssetUSDT = "USDT"
)

var supportedAssets = map[string]struct{}{
	AssetBTC:  {},
	AssetETH:  {},
	AssetLTC:  {},
	AssetXMR:  {},
	AssetUSDT: {},
}

// NormalizeAsset ensures the provided asset key matches a supported value and
// returns the canonical uppercase form.
func NormalizeAsset(asset string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(asset))
	if _, ok := supportedAssets[trimmed]; !ok {
		return "", fmt.Errorf("unsupported payment asset: %s", asset)
	}
	return trimmed, nil
}

// ValidateAddress performs a sanity check on a receiving address before it is
// stored as the quote destination for an asset. The check is format-level
// only; it does not prove ownership or on-chain existence.
func ValidateAddress(asset, address string) error {
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	addr := strings.TrimSpace(address)
	if addr == "" {
		return fmt.Errorf("empty address for asset %s", normalized)
	}
	switch normalized {
	case AssetBTC:
		return validateBech32(addr, "bc")
	case AssetLTC:
		return validateBech32(addr, "ltc")
	case AssetETH, AssetUSDT:
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid %s address: %s", normalized, addr)
		}
		return nil
	case AssetXMR:
		if len(addr) != 95 && len(addr) != 106 {
			return fmt.Errorf("invalid XMR address length: %d", len(addr))
		}
		return nil
	}
	return nil
}

func validateBech32(addr, wantHRP string) error {
	hrp, _, err := bech32.Decode(addr)
	if err != nil {
		return fmt.Errorf("invalid bech32 address: %w", err)
	}
	if !strings.EqualFold(hrp, wantHRP) {
		return fmt.Errorf("address prefix %s does not match expected %s", hrp, wantHRP)
	}
	return nil
}
