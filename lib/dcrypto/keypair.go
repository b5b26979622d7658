package dcrypto

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"time"

	"github.com/pkg/errors"
	"github.com/youmark/pkcs8"
)

// DefaultKeyBits is the size of generated user keys
const DefaultKeyBits = 4096

// PublicKeyContainer holds a PEM encoded PKIX public key
type PublicKeyContainer struct {
	Version   string     `json:"version"`
	PublicKey string     `json:"publicKey"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	CreatedBy int64      `json:"createdBy,omitempty"`
}

// PrivateKeyContainer holds a PEM encoded, password protected PKCS#8
// private key
type PrivateKeyContainer struct {
	Version    string     `json:"version"`
	PrivateKey string     `json:"privateKey"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	CreatedBy  int64      `json:"createdBy,omitempty"`
}

// UserKeyPairContainer is a user's key pair as stored on the server
type UserKeyPairContainer struct {
	PrivateKeyContainer PrivateKeyContainer `json:"privateKeyContainer"`
	PublicKeyContainer  PublicKeyContainer  `json:"publicKeyContainer"`
}

// PlainUserKeyPair is a decrypted user key pair
type PlainUserKeyPair struct {
	Version    string
	PrivateKey *rsa.PrivateKey
	PublicKey  *PublicKeyContainer
}

// Parse decodes the RSA public key in c
func (c *PublicKeyContainer) Parse() (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(c.PublicKey))
	if block == nil {
		return nil, errors.Wrap(ErrBadKeyContainer, "no PEM block in public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parse public key")
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.Wrapf(ErrBadKeyContainer, "public key is %T not RSA", pub)
	}
	return rsaPub, nil
}

// NewPublicKeyContainer encodes pub
func NewPublicKeyContainer(pub *rsa.PublicKey) (*PublicKeyContainer, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, errors.Wrap(err, "marshal public key")
	}
	return &PublicKeyContainer{
		Version:   UserKeyPairVersion,
		PublicKey: string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})),
	}, nil
}

// GenerateUserKeyPair makes a new RSA key pair of the given size
// protecting the private key with password
func GenerateUserKeyPair(bits int, password string) (*UserKeyPairContainer, *PlainUserKeyPair, error) {
	if password == "" {
		return nil, nil, errors.New("empty key pair password")
	}
	priv, err := rsa.GenerateKey(rng, bits)
	if err != nil {
		return nil, nil, errors.Wrap(err, "generate key pair")
	}
	pub, err := NewPublicKeyContainer(&priv.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	der, err := pkcs8.ConvertPrivateKeyToPKCS8(priv, []byte(password))
	if err != nil {
		return nil, nil, errors.Wrap(err, "encrypt private key")
	}
	container := &UserKeyPairContainer{
		PrivateKeyContainer: PrivateKeyContainer{
			Version:    UserKeyPairVersion,
			PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: der})),
		},
		PublicKeyContainer: *pub,
	}
	plain := &PlainUserKeyPair{
		Version:    UserKeyPairVersion,
		PrivateKey: priv,
		PublicKey:  pub,
	}
	return container, plain, nil
}

// DecryptKeyPair opens the private key in c with password
func DecryptKeyPair(c *UserKeyPairContainer, password string) (*PlainUserKeyPair, error) {
	if c == nil {
		return nil, ErrBadKeyContainer
	}
	block, _ := pem.Decode([]byte(c.PrivateKeyContainer.PrivateKey))
	if block == nil {
		return nil, errors.Wrap(ErrBadKeyContainer, "no PEM block in private key")
	}
	priv, err := pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, []byte(password))
	if err != nil {
		return nil, errors.Wrap(err, "decrypt private key")
	}
	pub := c.PublicKeyContainer
	return &PlainUserKeyPair{
		Version:    c.PrivateKeyContainer.Version,
		PrivateKey: priv,
		PublicKey:  &pub,
	}, nil
}
