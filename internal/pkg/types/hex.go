package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Hex is a hexadecimal-encoded quantity as exchanged with EVM JSON-RPC
// endpoints (e.g., "0x1a"). It validates on construction and round-trips
// through JSON as a string.
type Hex string

// HexFromString validates s and returns it as a Hex value.
func HexFromString(s string) (Hex, error) {
	if err := validateHex(s); err != nil {
		return "", err
	}
	return Hex(s), nil
}

// HexFromInt encodes a non-negative integer as a 0x-prefixed Hex quantity.
func HexFromInt(n int64) Hex {
	return Hex(fmt.Sprintf("0x%x", n))
}

// validateHex checks for the 0x prefix and a parseable hexadecimal body.
func validateHex(s string) error {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return fmt.Errorf("hex string must start with 0x")
	}

	if _, err := strconv.ParseUint(s[2:], 16, 64); err != nil {
		return fmt.Errorf("invalid hexadecimal value: %w", err)
	}

	return nil
}

// MarshalJSON encodes the Hex as a JSON string.
func (h Hex) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(h))
}

// UnmarshalJSON parses and validates a JSON-encoded hexadecimal string.
func (h *Hex) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid hex string: %w", err)
	}

	if err := validateHex(s); err != nil {
		return err
	}

	*h = Hex(s)
	return nil
}

// Add returns a new Hex holding the current value plus n. An invalid
// receiver is treated as zero.
func (h Hex) Add(n int64) Hex {
	return HexFromInt(h.Int() + n)
}

// Int decodes the quantity as an int64, returning zero on parse failure.
func (h Hex) Int() int64 {
	v, _ := strconv.ParseInt(string(h)[2:], 16, 64)
	return v
}
