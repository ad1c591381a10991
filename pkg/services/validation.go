package services

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

var (
	ErrInvalidClientID = errors.New("invalid client id")
	ErrInvalidBank     = errors.New("invalid bank code")
	ErrInvalidInput    = errors.New("invalid input")
)

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)

// ValidateClientID trims the id and checks it against the allowed alphabet
func ValidateClientID(clientID string) (string, error) {
	clientID = strings.TrimSpace(clientID)
	if !clientIDPattern.MatchString(clientID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidClientID, clientID)
	}
	return clientID, nil
}

// ValidateBank lower-cases the code and checks it is one of known
func ValidateBank(bank string, known []string) (string, error) {
	bank = strings.ToLower(strings.TrimSpace(bank))
	if !lo.Contains(known, bank) {
		return "", fmt.Errorf("%w: %q, expected one of %s", ErrInvalidBank, bank, strings.Join(known, ", "))
	}
	return bank, nil
}

func validateBanks(banks, known []string) ([]string, error) {
	out := make([]string, 0, len(banks))
	for _, bank := range banks {
		code, err := ValidateBank(bank, known)
		if err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return lo.Uniq(out), nil
}
