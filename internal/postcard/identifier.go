package postcard

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Issuer hands out fresh client identifiers.
type Issuer struct {
	entropy io.Reader
}

// NewIssuer returns an Issuer reading randomness from entropy, or from
// crypto/rand when entropy is nil.
func NewIssuer(entropy io.Reader) *Issuer {
	if entropy == nil {
		entropy = rand.Reader
	}
	return &Issuer{entropy: entropy}
}

// Issue returns a new random (version 4) UUID string. Running out of entropy
// leaves the process unable to hand out safe identifiers, so it panics.
func (i *Issuer) Issue() string {
	id, err := uuid.NewRandomFromReader(i.entropy)
	if err != nil {
		panic(fmt.Sprintf("client identifier entropy unavailable: %v", err))
	}
	return id.String()
}
