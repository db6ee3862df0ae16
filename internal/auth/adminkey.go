package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const HeaderAdminKey = "X-ADMIN-KEY"

var ErrAdminKeyInvalid = errors.New("invalid admin key")

// AdminKey validates the shared admin key. When a bcrypt hash is configured
// it wins over the plain key.
type AdminKey struct {
	plain []byte
	hash  []byte
}

func NewAdminKey(plain, hash string) (*AdminKey, error) {
	k := &AdminKey{plain: []byte(plain), hash: []byte(strings.TrimSpace(hash))}
	if len(k.hash) > 0 {
		if _, err := bcrypt.Cost(k.hash); err != nil {
			return nil, err
		}
	}
	if len(k.plain) == 0 && len(k.hash) == 0 {
		return nil, errors.New("admin key is not configured")
	}
	return k, nil
}

func (k *AdminKey) Check(got string) error {
	if got == "" {
		return ErrAdminKeyInvalid
	}
	if len(k.hash) > 0 {
		if bcrypt.CompareHashAndPassword(k.hash, []byte(got)) != nil {
			return ErrAdminKeyInvalid
		}
		return nil
	}
	if subtle.ConstantTimeCompare(k.plain, []byte(got)) != 1 {
		return ErrAdminKeyInvalid
	}
	return nil
}

// HashAdminKey produces a value for auth.admin_key_hash.
func HashAdminKey(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(b), err
}
