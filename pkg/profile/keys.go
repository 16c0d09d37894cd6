package profile

import (
	"crypto/rsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/lanternkey/astool/pkg/cryptoutil"
)

// PublicKey parses the profile's PEM-encoded RSA public key.
func (p *ServerProfile) PublicKey() (*rsa.PublicKey, error) {
	return cryptoutil.ParseRSAPublicKeyPEM([]byte(p.RSAPublicKey))
}

// BootstrapKeyBytes decodes the 16-byte bootstrap HMAC key.
func (p *ServerProfile) BootstrapKeyBytes() ([]byte, error) {
	b, err := hex.DecodeString(p.BootstrapKey)
	if err != nil {
		return nil, fmt.Errorf("profile: decode bootstrap key: %w", err)
	}
	if len(b) != 16 {
		return nil, fmt.Errorf("profile: bootstrap key must be 16 bytes, got %d", len(b))
	}
	return b, nil
}

// MixKeys decodes the ordered list of 32-byte session mix keys.
func (p *ServerProfile) MixKeys() ([][32]byte, error) {
	out := make([][32]byte, 0, len(p.MixKeysHex))
	for _, h := range p.MixKeysHex {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("profile: decode mix key: %w", err)
		}
		if len(b) != 32 {
			return nil, fmt.Errorf("profile: mix key must be 32 bytes, got %d", len(b))
		}
		var arr [32]byte
		copy(arr[:], b)
		out = append(out, arr)
	}
	return out, nil
}

// MasterKeys decodes the three 32-bit big-endian master keys used for
// per-file key derivation.
func (p *ServerProfile) MasterKeys() ([3]uint32, error) {
	var out [3]uint32
	if len(p.MasterKeysHex) != 3 {
		return out, fmt.Errorf("profile: expected 3 master keys, got %d", len(p.MasterKeysHex))
	}
	for i, h := range p.MasterKeysHex {
		b, err := hex.DecodeString(h)
		if err != nil {
			return out, fmt.Errorf("profile: decode master key %d: %w", i, err)
		}
		if len(b) != 4 {
			return out, fmt.Errorf("profile: master key %d must be 4 bytes, got %d", i, len(b))
		}
		out[i] = binary.BigEndian.Uint32(b)
	}
	return out, nil
}

// Languages returns the primary language followed by any additional ones.
func (p *ServerProfile) Languages() []string {
	return append([]string{p.PrimaryLang}, p.ExtraLanguages...)
}
