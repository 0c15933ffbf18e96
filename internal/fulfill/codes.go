package fulfill

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

const pickupCodeMax = 10000 // 4 decimal digits, zero-padded

// NewPickupCode returns a random short numeric code. Callers must check it
// against the vendor's currently-open orders and regenerate on collision;
// codes are freed for reuse once an order closes.
func NewPickupCode() string {
	return fmt.Sprintf("%04d", rand.Intn(pickupCodeMax))
}

// NewRedemptionToken returns the opaque single-use secret embedded in the
// buyer's QR credential.
func NewRedemptionToken() string {
	return uuid.NewString()
}
