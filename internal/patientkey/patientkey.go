// Package patientkey mints and formats the numeric IDs patients share with
// their doctors to be added to a roster.
package patientkey

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Length is the number of digits in a patient key.
const Length = 9

// Generate returns a random 9-digit key whose first digit is non-zero.
func Generate() (string, error) {
	var b strings.Builder
	b.Grow(Length)

	first, err := rand.Int(rand.Reader, big.NewInt(9))
	if err != nil {
		return "", fmt.Errorf("failed to generate patient key: %w", err)
	}
	b.WriteByte(byte('1' + first.Int64()))

	for i := 1; i < Length; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate patient key: %w", err)
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// Format groups a key as XXX-XXX-XXX. Invalid keys are returned as-is.
func Format(key string) string {
	if !Valid(key) {
		return key
	}
	return key[0:3] + "-" + key[3:6] + "-" + key[6:9]
}

// Unformat strips the separators a user may type or paste.
func Unformat(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// Valid reports whether s is exactly 9 ASCII digits.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ValidateField implements the "patientkey" validation tag. Formatted input
// is accepted.
func ValidateField(fl validator.FieldLevel) bool {
	return Valid(Unformat(fl.Field().String()))
}

// RegisterBinding installs the "patientkey" tag on gin's request validator.
func RegisterBinding() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin validator engine is not go-playground/validator")
	}
	return v.RegisterValidation("patientkey", ValidateField)
}
