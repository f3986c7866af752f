package enums

import "fmt"

// WalletTransactionType maps to the wallet_transaction_type enum in Postgres.
type WalletTransactionType string

const (
	WalletTransactionTypeCredit  WalletTransactionType = "CREDIT"
	WalletTransactionTypeDebit   WalletTransactionType = "DEBIT"
	WalletTransactionTypeReserve WalletTransactionType = "RESERVE"
	WalletTransactionTypeRelease WalletTransactionType = "RELEASE"
)

var validWalletTransactionTypes = []WalletTransactionType{
	WalletTransactionTypeCredit,
	WalletTransactionTypeDebit,
	WalletTransactionTypeReserve,
	WalletTransactionTypeRelease,
}

// IsValid reports whether the value matches the canonical transaction type enum.
func (t WalletTransactionType) IsValid() bool {
	for _, candidate := range validWalletTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseWalletTransactionType converts raw input into a WalletTransactionType.
func ParseWalletTransactionType(value string) (WalletTransactionType, error) {
	for _, candidate := range validWalletTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet transaction type %q", value)
}
