package idgen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// CardPrefix is the issuer prefix of every virtual card number.
const CardPrefix = "5299"

// GenerateAccountNumber returns a random 10 digit account number that does
// not start with zero.
func GenerateAccountNumber() (string, error) {
	first, err := randomDigits(1, 1)
	if err != nil {
		return "", err
	}
	rest, err := randomDigits(9, 0)
	if err != nil {
		return "", err
	}
	return first + rest, nil
}

// GenerateCardNumber returns a 16 digit card number carrying CardPrefix and a
// valid Luhn check digit.
func GenerateCardNumber() (string, error) {
	body, err := randomDigits(11, 0)
	if err != nil {
		return "", err
	}
	partial := CardPrefix + body
	return partial + string(rune('0'+luhnCheckDigit(partial))), nil
}

func GenerateCVV() (string, error) {
	return randomDigits(3, 0)
}

// LuhnValid runs the mod 10 check over a digit string.
func LuhnValid(number string) bool {
	if number == "" {
		return false
	}
	sum := 0
	alternate := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		n := int(c - '0')
		if alternate {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alternate = !alternate
	}
	return sum%10 == 0
}

func luhnCheckDigit(partial string) int {
	for d := 0; d < 10; d++ {
		if LuhnValid(partial + string(rune('0'+d))) {
			return d
		}
	}
	return 0
}

// randomDigits returns n digits, each at least min.
func randomDigits(n int, min int64) (string, error) {
	var b strings.Builder
	span := big.NewInt(10 - min)
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, span)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b.WriteByte(byte('0' + min + v.Int64()))
	}
	return b.String(), nil
}
