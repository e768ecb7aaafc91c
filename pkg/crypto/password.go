package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptyPassword   = errors.New("crypto: empty password")
	ErrUnknownScheme   = errors.New("crypto: unknown password scheme")
	ErrMalformedHash   = errors.New("crypto: malformed password hash")
	ErrIncompatibleVer = errors.New("crypto: incompatible argon2 version")
)

// Verifier hashes new passwords and checks attempts against stored hashes.
// Both methods wipe the password slice they are given before returning.
type Verifier interface {
	Hash(password []byte) (string, error)
	Verify(encoded string, attempt []byte) bool
}

// Scheme names accepted by NewVerifier.
const (
	SchemeArgon2 = "argon2"
	SchemeBcrypt = "bcrypt"
)

// NewVerifier returns a Verifier that hashes with the named scheme and
// verifies hashes produced by any supported scheme.
func NewVerifier(scheme string) (Verifier, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case SchemeArgon2, "argon2id", "":
		return &MultiVerifier{Primary: DefaultArgon2()}, nil
	case SchemeBcrypt:
		return &MultiVerifier{Primary: &BcryptVerifier{Cost: bcrypt.DefaultCost}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
}

// ---- Argon2id ----

// Argon2Verifier stores passwords as PHC-formatted Argon2id strings:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>
type Argon2Verifier struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultArgon2 returns the parameters used for new accounts.
func DefaultArgon2() *Argon2Verifier {
	return &Argon2Verifier{Time: 1, Memory: 64 * 1024, Threads: 4, KeyLen: 32, SaltLen: 16}
}

func (a *Argon2Verifier) Hash(password []byte) (string, error) {
	defer Wipe(password)
	if len(password) == 0 {
		return "", ErrEmptyPassword
	}
	salt := make([]byte, a.SaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("crypto: generate salt: %w", err)
	}
	key := argon2.IDKey(password, salt, a.Time, a.Memory, a.Threads, a.KeyLen)
	defer Wipe(key)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, a.Memory, a.Time, a.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (a *Argon2Verifier) Verify(encoded string, attempt []byte) bool {
	defer Wipe(attempt)
	p, salt, want, err := decodeArgon2(encoded)
	if err != nil {
		return false
	}
	got := argon2.IDKey(attempt, salt, p.Time, p.Memory, p.Threads, uint32(len(want))) //nolint:gosec // key length comes from a stored hash
	defer Wipe(got)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func decodeArgon2(encoded string) (*Argon2Verifier, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, nil, ErrMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, nil, ErrMalformedHash
	}
	if version != argon2.Version {
		return nil, nil, nil, ErrIncompatibleVer
	}
	p := &Argon2Verifier{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return nil, nil, nil, ErrMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return nil, nil, nil, ErrMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return nil, nil, nil, ErrMalformedHash
	}
	return p, salt, key, nil
}

// ---- bcrypt ----

// BcryptVerifier stores passwords as standard $2a$ bcrypt strings.
type BcryptVerifier struct {
	Cost int
}

func (b *BcryptVerifier) Hash(password []byte) (string, error) {
	defer Wipe(password)
	if len(password) == 0 {
		return "", ErrEmptyPassword
	}
	hashed, err := bcrypt.GenerateFromPassword(password, b.Cost)
	if err != nil {
		return "", fmt.Errorf("crypto: bcrypt: %w", err)
	}
	return string(hashed), nil
}

// Verify relies on bcrypt.CompareHashAndPassword, which compares in constant time.
func (b *BcryptVerifier) Verify(encoded string, attempt []byte) bool {
	defer Wipe(attempt)
	return bcrypt.CompareHashAndPassword([]byte(encoded), attempt) == nil
}

// ---- dispatch ----

// MultiVerifier hashes with Primary and verifies by recognising the stored
// encoding, so switching schemes does not lock out existing accounts.
// Argon2 parameters are read back from the stored hash.
type MultiVerifier struct {
	Primary Verifier
}

func (m *MultiVerifier) Hash(password []byte) (string, error) {
	return m.Primary.Hash(password)
}

func (m *MultiVerifier) Verify(encoded string, attempt []byte) bool {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return (&Argon2Verifier{}).Verify(encoded, attempt)
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		return (&BcryptVerifier{}).Verify(encoded, attempt)
	default:
		Wipe(attempt)
		return false
	}
}
