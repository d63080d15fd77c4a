// /internal/types/validate.go
package types

import "regexp"

var (
	// phonePattern - номер в формате E.164: +, код страны, до 15 цифр
	phonePattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

	// handlePattern - ник Twitter без префикса @
	handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

	// walletPattern - адрес Solana: base58, 32-44 символа
	walletPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// ValidPhone проверяет формат телефонного номера
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// ValidHandle проверяет формат ника аккаунта (без @)
func ValidHandle(handle string) bool {
	return handlePattern.MatchString(handle)
}

// ValidWalletAddress проверяет формат адреса кошелька
func ValidWalletAddress(addr string) bool {
	return walletPattern.MatchString(addr)
}
