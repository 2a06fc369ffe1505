package iso18013

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/hkdf"

	"github.com/spruceid/mobile-sdk-go/mdoc"
)

// SessionData status codes, 18013-5 table 20.
const (
	StatusErrorSessionEncryption uint64 = 10
	StatusErrorCBORDecoding      uint64 = 11
	StatusSessionTermination     uint64 = 20
)

// SessionEstablishment is the reader's first message: its ephemeral key and
// the encrypted device request.
type SessionEstablishment struct {
	EReaderKey cbor.RawMessage `cbor:"eReaderKey"`
	Data       []byte          `cbor:"data"`
}

// EReaderKeyBytes returns the bare CBOR COSE_Key bytes, unwrapped from
// tag 24. These enter the session transcript.
func (se *SessionEstablishment) EReaderKeyBytes() ([]byte, error) {
	var tag cbor.Tag
	if err := cbor.Unmarshal(se.EReaderKey, &tag); err != nil {
		return nil, fmt.Errorf("failed to decode eReaderKey: %w", err)
	}
	raw, ok := tag.Content.([]byte)
	if !ok {
		return nil, fmt.Errorf("eReaderKey is not a tagged bstr")
	}
	return raw, nil
}

// EReaderPublicKey decodes the reader's ephemeral public key.
func (se *SessionEstablishment) EReaderPublicKey() (*ecdsa.PublicKey, error) {
	raw, err := se.EReaderKeyBytes()
	if err != nil {
		return nil, err
	}
	var key mdoc.COSEKey
	if err := cbor.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("failed to decode eReaderKey: %w", err)
	}
	return key.PublicKey()
}

// SessionData carries every message after establishment: encrypted payload,
// status code, or both.
type SessionData struct {
	Data   []byte `cbor:"data,omitempty"`
	Status uint64 `cbor:"status,omitempty"`
}

// Role selects which derived key a party encrypts with.
type Role int

const (
	// RoleDevice encrypts with SKDevice and decrypts with SKReader.
	RoleDevice Role = iota
	// RoleReader encrypts with SKReader and decrypts with SKDevice.
	RoleReader
)

// identifier halves of the 18013-5 clause 9.1.1.5 IV.
var (
	readerIdentifier = [8]byte{0, 0, 0, 0, 0, 0, 0, 0}
	deviceIdentifier = [8]byte{0, 0, 0, 0, 0, 0, 0, 1}
)

// SessionCrypto performs the clause 9.1.1 session encryption: AES-256-GCM
// under keys derived from the ECDH shared secret and the session
// transcript. Message counters advance per encrypt/decrypt; a SessionCrypto
// is bound to one session and is not safe for concurrent use.
type SessionCrypto struct {
	role       Role
	skDevice   []byte
	skReader   []byte
	encCounter uint32
	decCounter uint32
}

// NewSessionCrypto derives SKDevice and SKReader from ECDH(priv, peer) with
// the session transcript as HKDF salt input.
func NewSessionCrypto(role Role, priv *ecdsa.PrivateKey, peer *ecdsa.PublicKey, sessionTranscript []byte) (*SessionCrypto, error) {
	ecdhPriv, err := priv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("failed to convert session private key: %w", err)
	}
	ecdhPeer, err := peer.ECDH()
	if err != nil {
		return nil, fmt.Errorf("failed to convert session peer key: %w", err)
	}
	sharedSecret, err := ecdhPriv.ECDH(ecdhPeer)
	if err != nil {
		return nil, fmt.Errorf("failed to compute session shared secret: %w", err)
	}

	// Salt is SHA-256 of SessionTranscriptBytes, the tag 24 wrapping of
	// the transcript.
	taggedTranscript, err := cbor.Marshal(cbor.Tag{Number: 24, Content: sessionTranscript})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session transcript: %w", err)
	}
	salt := sha256.Sum256(taggedTranscript)

	skDevice, err := deriveKey(sharedSecret, salt[:], "SKDevice")
	if err != nil {
		return nil, err
	}
	skReader, err := deriveKey(sharedSecret, salt[:], "SKReader")
	if err != nil {
		return nil, err
	}

	return &SessionCrypto{
		role:       role,
		skDevice:   skDevice,
		skReader:   skReader,
		encCounter: 1,
		decCounter: 1,
	}, nil
}

func deriveKey(secret, salt []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	reader := hkdf.New(sha256.New, secret, salt, []byte(info))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive %s: %w", info, err)
	}
	return key, nil
}

func (sc *SessionCrypto) encryptKey() ([]byte, [8]byte) {
	if sc.role == RoleDevice {
		return sc.skDevice, deviceIdentifier
	}
	return sc.skReader, readerIdentifier
}

func (sc *SessionCrypto) decryptKey() ([]byte, [8]byte) {
	if sc.role == RoleDevice {
		return sc.skReader, readerIdentifier
	}
	return sc.skDevice, deviceIdentifier
}

func buildIV(identifier [8]byte, counter uint32) []byte {
	iv := make([]byte, 12)
	copy(iv, identifier[:])
	binary.BigEndian.PutUint32(iv[8:], counter)
	return iv
}

// Encrypt seals plaintext under this party's sending key. Counters are
// consumed even on failure so a retried message never reuses an IV.
func (sc *SessionCrypto) Encrypt(plaintext []byte) ([]byte, error) {
	key, identifier := sc.encryptKey()
	iv := buildIV(identifier, sc.encCounter)
	sc.encCounter++

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, iv, plaintext, nil), nil
}

// Decrypt opens a ciphertext from the peer.
func (sc *SessionCrypto) Decrypt(ciphertext []byte) ([]byte, error) {
	key, identifier := sc.decryptKey()
	iv := buildIV(identifier, sc.decCounter)
	sc.decCounter++

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session message: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise session cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise session cipher: %w", err)
	}
	return aead, nil
}

// BLEIdent derives the 16-byte BLE Ident characteristic value from the
// tag 24 encoding of EDeviceKey, per 18013-5 clause 8.3.3.1.1.3.
func BLEIdent(eDeviceKeyBytes []byte) ([]byte, error) {
	ident := make([]byte, 16)
	reader := hkdf.New(sha256.New, eDeviceKeyBytes, nil, []byte("BLEIdent"))
	if _, err := io.ReadFull(reader, ident); err != nil {
		return nil, fmt.Errorf("failed to derive BLE ident: %w", err)
	}
	return ident, nil
}
