package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mr-tron/base58"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrBadKeyFile = errors.New("invalid identity file")

// Identity is an ed25519 keypair. The peer id is the base58 public key, so
// anyone can check a signature against the id it claims to come from.
type Identity struct {
	priv ed25519.PrivateKey
	id   string
}

func Generate() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return fromPrivate(priv), nil
}

func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return fromPrivate(ed25519.NewKeyFromSeed(seed)), nil
}

func fromPrivate(priv ed25519.PrivateKey) *Identity {
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{priv: priv, id: base58.Encode(pub)}
}

// LoadOrCreate reads the seed stored at path, creating a new identity there
// if the file does not exist.
func LoadOrCreate(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		id, err := Generate()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
		seed := base58.Encode(id.priv.Seed())
		if err := os.WriteFile(path, []byte(seed+"\n"), 0o600); err != nil {
			return nil, err
		}
		return id, nil
	}
	if err != nil {
		return nil, err
	}

	seed, err := base58.Decode(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKeyFile, err)
	}
	id, err := FromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKeyFile, err)
	}
	return id, nil
}

func (i *Identity) PeerID() string {
	return i.id
}

// signedState is what travels in place of the raw state.
type signedState struct {
	State []byte `msgpack:"s"`
	Sig   []byte `msgpack:"g"`
}

// Sign wraps state in a signed envelope. The result is a JSON string so it
// can sit wherever the state would have.
func (i *Identity) Sign(state json.RawMessage) (json.RawMessage, error) {
	packed, err := msgpack.Marshal(&signedState{
		State: state,
		Sig:   ed25519.Sign(i.priv, state),
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(packed)
}

// Verifier checks signed state against the peer id it claims to come from.
// Decoded public keys are cached.
type Verifier struct {
	keys *lru.Cache[string, ed25519.PublicKey]
}

const defaultKeyCache = 256

func NewVerifier(size int) *Verifier {
	if size <= 0 {
		size = defaultKeyCache
	}
	keys, err := lru.New[string, ed25519.PublicKey](size)
	if err != nil {
		panic(fmt.Sprintf("identity: key cache: %v", err))
	}
	return &Verifier{keys: keys}
}

// Verify returns the original state when signed carries a valid signature
// by peerID.
func (v *Verifier) Verify(signed json.RawMessage, peerID string) (json.RawMessage, bool) {
	pub, ok := v.publicKey(peerID)
	if !ok {
		return nil, false
	}

	var packed []byte
	if err := json.Unmarshal(signed, &packed); err != nil {
		return nil, false
	}
	var env signedState
	if err := msgpack.Unmarshal(packed, &env); err != nil {
		return nil, false
	}
	if !ed25519.Verify(pub, env.State, env.Sig) {
		return nil, false
	}
	return env.State, true
}

func (v *Verifier) publicKey(peerID string) (ed25519.PublicKey, bool) {
	if pub, ok := v.keys.Get(peerID); ok {
		return pub, true
	}
	raw, err := base58.Decode(peerID)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, false
	}
	pub := ed25519.PublicKey(raw)
	v.keys.Add(peerID, pub)
	return pub, true
}

// ValidPeerID reports whether id decodes to an ed25519 public key.
func ValidPeerID(id string) bool {
	raw, err := base58.Decode(id)
	return err == nil && len(raw) == ed25519.PublicKeySize
}
