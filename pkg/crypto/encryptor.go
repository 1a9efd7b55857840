package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"filippo.io/age"
)

// ageHeader prefixes every binary age file.
var ageHeader = []byte("age-encryption.org/v1")

// Encryptor seals backup documents with an age X25519 identity.
type Encryptor struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewEncryptor parses an AGE-SECRET-KEY identity. An empty key generates a
// throwaway identity, which is only useful in development and tests.
func NewEncryptor(key string) (*Encryptor, error) {
	var (
		identity *age.X25519Identity
		err      error
	)

	if key == "" {
		identity, err = age.GenerateX25519Identity()
		if err != nil {
			return nil, fmt.Errorf("generating identity: %w", err)
		}
	} else {
		identity, err = age.ParseX25519Identity(key)
		if err != nil {
			return nil, fmt.Errorf("parsing identity: %w", err)
		}
	}

	return &Encryptor{
		identity:  identity,
		recipient: identity.Recipient(),
	}, nil
}

// GenerateKey returns a fresh identity string suitable for ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generating identity: %w", err)
	}
	return identity.String(), nil
}

func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.EncryptTo(&buf, bytes.NewReader(plaintext)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncryptTo streams src into dst through an age writer.
func (e *Encryptor) EncryptTo(dst io.Writer, src io.Reader) error {
	w, err := age.Encrypt(dst, e.recipient)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("writing plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing encryptor: %w", err)
	}
	return nil
}

func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), e.identity)
	if err != nil {
		return nil, fmt.Errorf("creating decryptor: %w", err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading plaintext: %w", err)
	}

	return plaintext, nil
}

// PublicKey returns the recipient string backups are sealed to.
func (e *Encryptor) PublicKey() string {
	return e.recipient.String()
}

// IsEncrypted reports whether data looks like an age file.
func IsEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, ageHeader)
}

// GenerateRandomBytes generates cryptographically secure random bytes
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// GenerateToken returns a hex token carrying n random bytes. Used for invite,
// email verification and password reset links.
func GenerateToken(n int) (string, error) {
	b, err := GenerateRandomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
