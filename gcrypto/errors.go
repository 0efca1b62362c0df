package gcrypto

import "fmt"

// PubKeyLengthError is returned when decoding a public key
// whose byte length does not match its registered type.
type PubKeyLengthError struct {
	TypeName string
	Want     int
	Got      int
}

func (e PubKeyLengthError) Error() string {
	return fmt.Sprintf("invalid %s public key length: want %d, got %d", e.TypeName, e.Want, e.Got)
}
