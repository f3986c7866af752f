package enums

import "fmt"

// WalletAccountKind distinguishes user wallets from the single system wallet that
// funds admin-issued credits.
type WalletAccountKind string

const (
	WalletAccountKindUser   WalletAccountKind = "user"
	WalletAccountKindSystem WalletAccountKind = "system"
)

var validWalletAccountKinds = []WalletAccountKind{
	WalletAccountKindUser,
	WalletAccountKindSystem,
}

// IsValid reports whether the value matches the canonical account kind enum.
func (k WalletAccountKind) IsValid() bool {
	for _, candidate := range validWalletAccountKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseWalletAccountKind converts raw input into a WalletAccountKind.
func ParseWalletAccountKind(value string) (WalletAccountKind, error) {
	for _, candidate := range validWalletAccountKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet account kind %q", value)
}
