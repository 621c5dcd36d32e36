package pix

import (
	"crypto/rand"
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/ggmarket/ggmarket-backend/pkg/errors"
)

var centsFactor = decimal.NewFromInt(100)

// CentsToAmount renders integer cents as the gateway's decimal string with
// exactly two fraction digits ("1050" cents -> "10.50").
func CentsToAmount(cents int64) string {
	return decimal.NewFromInt(cents).Div(centsFactor).StringFixed(2)
}

// AmountToCents parses a gateway decimal string into integer cents. Amounts
// with sub-cent precision are rejected rather than rounded.
func AmountToCents(amount string) (int64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount is required")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	cents := d.Mul(centsFactor)
	if !cents.IsInteger() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount has sub-cent precision")
	}
	return cents.IntPart(), nil
}

func mustAmountToCents(amount string) int64 {
	cents, err := AmountToCents(amount)
	if err != nil {
		return 0
	}
	return cents
}

const txidAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewTxID returns a 32-char alphanumeric txid matching the gateway's
// [a-zA-Z0-9]{26,35} constraint.
func NewTxID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i := range buf {
		buf[i] = txidAlphabet[int(buf[i])%len(txidAlphabet)]
	}
	return string(buf)
}
