package payments

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	referencePrefix   = "TLP-"
	referenceLength   = 12
	referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// ReferencePattern matches a payment reference anywhere inside free text.
var ReferencePattern = regexp.MustCompile(`TLP-[A-Z0-9]{12}`)

// NewReference returns a random TLP-XXXXXXXXXXXX payment reference.
func NewReference() (string, error) {
	buf := make([]byte, referenceLength)
	max := big.NewInt(int64(len(referenceAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = referenceAlphabet[n.Int64()]
	}
	return referencePrefix + string(buf), nil
}

// IsReference reports whether value is exactly one payment reference.
func IsReference(value string) bool {
	return len(value) == len(referencePrefix)+referenceLength && ReferencePattern.MatchString(value)
}
