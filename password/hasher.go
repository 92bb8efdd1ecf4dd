package password

// Hasher produces and checks password digests. Verify never returns an
// error: a digest it cannot parse simply does not match.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) bool
	NeedsUpgrade(encodedHash string) bool
}

// Verifier checks digests of one scheme it recognizes by format.
type Verifier interface {
	Recognizes(encodedHash string) bool
	Verify(password, encodedHash string) bool
}

// Chain hashes with a primary Argon2 hasher and still verifies digests
// written by older schemes, such as bcrypt or the unsalted SHA-256 hex
// digests of the previous portal database.
type Chain struct {
	primary *Argon2
	legacy  []Verifier
}

// NewChain builds a Chain. Legacy verifiers are tried in order after the
// primary did not recognize the digest.
func NewChain(primary *Argon2, legacy ...Verifier) *Chain {
	return &Chain{primary: primary, legacy: legacy}
}

func (c *Chain) Hash(password string) (string, error) {
	return c.primary.Hash(password)
}

func (c *Chain) Verify(password, encodedHash string) bool {
	if c.primary.Recognizes(encodedHash) {
		return c.primary.Verify(password, encodedHash)
	}
	for _, v := range c.legacy {
		if v.Recognizes(encodedHash) {
			return v.Verify(password, encodedHash)
		}
	}
	return false
}

// NeedsUpgrade is true for every digest the primary did not produce with
// its current parameters.
func (c *Chain) NeedsUpgrade(encodedHash string) bool {
	if !c.primary.Recognizes(encodedHash) {
		return true
	}
	return c.primary.NeedsUpgrade(encodedHash)
}
