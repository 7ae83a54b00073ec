package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// MaxUint256 is 2^256-1, the value used for unlimited approvals.
var MaxUint256 = new(big.Int).Set(math.MaxBig256)

// ParseAmount reads a plain non-negative decimal such as "1.5". Signs and
// exponents are rejected.
func ParseAmount(v string) (decimal.Decimal, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.Decimal{}, clierr.New(clierr.CodeUsage, "amount is required")
	}
	if !decimalPattern.MatchString(v) {
		return decimal.Decimal{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("amount must be in decimal form like 1.23, got %q", v))
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, clierr.Wrap(clierr.CodeUsage, "invalid decimal amount", err)
	}
	return d, nil
}

// ToBaseUnitsBig scales a human amount by 10^decimals. The result must be a
// whole number of base units.
func ToBaseUnitsBig(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}
	d, err := ParseAmount(amount)
	if err != nil {
		return nil, err
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	units := scaled.BigInt()
	if units.Cmp(MaxUint256) > 0 {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("amount %s exceeds the uint256 range at %d decimals", d.String(), decimals))
	}
	return units, nil
}

// ExceedsUint256 reports whether the whole part of a decimal amount alone is
// above 2^256-1, which no token decimals can make representable. Input that
// is not a plain decimal reports false.
func ExceedsUint256(amount string) bool {
	d, err := ParseAmount(amount)
	if err != nil {
		return false
	}
	return d.Truncate(0).BigInt().Cmp(MaxUint256) > 0
}

func ToBaseUnits(amount string, decimals int) (string, error) {
	n, err := ToBaseUnitsBig(amount, decimals)
	if err != nil {
		return "", err
	}
	return n.String(), nil
}

// FormatDecimal renders base units as a human amount. Input that is not an
// integer comes back unchanged.
func FormatDecimal(baseUnits string, decimals int) string {
	n, ok := new(big.Int).SetString(baseUnits, 10)
	if !ok {
		return baseUnits
	}
	return decimal.NewFromBigInt(n, -int32(decimals)).String()
}

// NormalizeDecimal strips redundant leading and trailing zeros.
func NormalizeDecimal(v string) string {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return v
	}
	return d.String()
}
