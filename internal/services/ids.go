package services

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var (
	devicePattern = regexp.MustCompile(`^D[A-Z0-9]{7}$`)
	kpiPattern    = regexp.MustCompile(`^K[A-Z0-9]{7}$`)
)

// NewDeviceID returns "D" followed by seven uppercase alphanumerics.
func NewDeviceID() (string, error) {
	return prefixedID('D')
}

func NewKPIID() (string, error) {
	return prefixedID('K')
}

func IsDeviceID(value string) bool {
	return devicePattern.MatchString(value)
}

func IsKPIID(value string) bool {
	return kpiPattern.MatchString(value)
}

func prefixedID(prefix byte) (string, error) {
	buf := make([]byte, 8)
	buf[0] = prefix
	max := big.NewInt(int64(len(idAlphabet)))
	for i := 1; i < len(buf); i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = idAlphabet[n.Int64()]
	}
	return string(buf), nil
}
