package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAddress(t *testing.T) {
	valid := []string{
		"0x1234567890abcdef1234567890abcdef12345678",
		"0xABCDEF1234567890ABCDEF1234567890ABCDEF12",
		"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	}
	for _, addr := range valid {
		assert.NoError(t, ValidateAddress(addr), addr)
	}

	invalid := []string{
		"",
		"0x",
		"1234567890abcdef1234567890abcdef12345678",
		"0x1234567890abcdef1234567890abcdef1234567",   // too short
		"0x1234567890abcdef1234567890abcdef123456789", // too long
		"0xg234567890abcdef1234567890abcdef12345678",  // non-hex
		"0X1234567890abcdef1234567890abcdef12345678",  // uppercase prefix
	}
	for _, addr := range invalid {
		assert.Error(t, ValidateAddress(addr), addr)
	}
}
