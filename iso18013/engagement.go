package iso18013

import (
	"crypto/ecdsa"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/spruceid/mobile-sdk-go/mdoc"
)

const (
	engagementVersion = "1.0"
	qrURIPrefix       = "mdoc:"

	cipherSuiteP256 = 1

	retrievalMethodBLE = 2
)

// DeviceEngagement is the 18013-5 clause 8.2.1.1 structure the holder
// transmits during engagement, carrying the ephemeral device key and the
// supported retrieval methods.
type DeviceEngagement struct {
	Version          string                  `cbor:"0,keyasint"`
	Security         Security                `cbor:"1,keyasint"`
	RetrievalMethods []DeviceRetrievalMethod `cbor:"2,keyasint,omitempty"`
}

type Security struct {
	_               struct{} `cbor:",toarray"`
	CipherSuite     int
	EDeviceKeyBytes cbor.RawMessage // tag 24, bstr-wrapped COSE_Key
}

type DeviceRetrievalMethod struct {
	_       struct{} `cbor:",toarray"`
	Type    uint
	Version uint
	Options BleOptions
}

type BleOptions struct {
	SupportsPeripheralServer bool   `cbor:"0,keyasint"`
	SupportsCentralClient    bool   `cbor:"1,keyasint"`
	PeripheralServerUUID     []byte `cbor:"10,keyasint,omitempty"`
	CentralClientUUID        []byte `cbor:"11,keyasint,omitempty"`
}

// ErrPeripheralServerMode is returned when construction is attempted with
// BLE peripheral-server mode, which this implementation does not drive.
var ErrPeripheralServerMode = fmt.Errorf("BLE peripheral server mode not implemented")

// NewBLEDeviceEngagement builds an engagement advertising BLE central
// client mode on the given service UUID, with eDeviceKey as the session
// ephemeral key.
func NewBLEDeviceEngagement(eDeviceKey *ecdsa.PublicKey, serviceUUID uuid.UUID) (*DeviceEngagement, error) {
	keyBytes, err := encodeEDeviceKey(eDeviceKey)
	if err != nil {
		return nil, err
	}
	return &DeviceEngagement{
		Version: engagementVersion,
		Security: Security{
			CipherSuite:     cipherSuiteP256,
			EDeviceKeyBytes: keyBytes,
		},
		RetrievalMethods: []DeviceRetrievalMethod{
			{
				Type:    retrievalMethodBLE,
				Version: 1,
				Options: BleOptions{
					SupportsCentralClient: true,
					CentralClientUUID:     serviceUUID[:],
				},
			},
		},
	}, nil
}

func encodeEDeviceKey(pub *ecdsa.PublicKey) (cbor.RawMessage, error) {
	coseKey, err := mdoc.NewCOSEKeyP256(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to encode eDeviceKey: %w", err)
	}
	keyCBOR, err := cbor.Marshal(coseKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode eDeviceKey: %w", err)
	}
	tagged, err := cbor.Marshal(cbor.Tag{Number: 24, Content: keyCBOR})
	if err != nil {
		return nil, fmt.Errorf("failed to encode eDeviceKey: %w", err)
	}
	return tagged, nil
}

// EDeviceKey extracts the ephemeral device public key.
func (de *DeviceEngagement) EDeviceKey() (*ecdsa.PublicKey, error) {
	var tag cbor.Tag
	if err := cbor.Unmarshal(de.Security.EDeviceKeyBytes, &tag); err != nil {
		return nil, fmt.Errorf("failed to decode eDeviceKey: %w", err)
	}
	raw, ok := tag.Content.([]byte)
	if !ok {
		return nil, fmt.Errorf("eDeviceKey is not a tagged bstr")
	}
	var key mdoc.COSEKey
	if err := cbor.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("failed to decode eDeviceKey: %w", err)
	}
	return key.PublicKey()
}

// BLEServiceUUID returns the central-client service UUID the reader should
// connect on. Engagements offering only peripheral-server mode are
// rejected.
func (de *DeviceEngagement) BLEServiceUUID() (uuid.UUID, error) {
	for _, method := range de.RetrievalMethods {
		if method.Type != retrievalMethodBLE {
			continue
		}
		if method.Options.SupportsCentralClient && len(method.Options.CentralClientUUID) == 16 {
			var id uuid.UUID
			copy(id[:], method.Options.CentralClientUUID)
			return id, nil
		}
		if method.Options.SupportsPeripheralServer {
			return uuid.UUID{}, ErrPeripheralServerMode
		}
	}
	return uuid.UUID{}, fmt.Errorf("no usable BLE retrieval method in device engagement")
}

// Encode serialises the engagement to CBOR. The exact bytes are captured by
// both sides for the session transcript, so the holder encodes once and
// reuses the result.
func (de *DeviceEngagement) Encode() ([]byte, error) {
	data, err := cbor.Marshal(de)
	if err != nil {
		return nil, fmt.Errorf("failed to encode device engagement: %w", err)
	}
	return data, nil
}

// QRCodeURI renders the engagement in the clause 8.2.2.3 QR form:
// "mdoc:" followed by the unpadded base64url encoding of the CBOR bytes.
func QRCodeURI(engagementBytes []byte) string {
	return qrURIPrefix + base64.RawURLEncoding.EncodeToString(engagementBytes)
}

// ParseQRCodeURI decodes a scanned QR payload back into the engagement,
// returning the structure together with the exact CBOR bytes needed for
// the session transcript.
func ParseQRCodeURI(qr string) (*DeviceEngagement, []byte, error) {
	encoded, found := strings.CutPrefix(qr, qrURIPrefix)
	if !found {
		return nil, nil, fmt.Errorf("QR payload missing %q prefix", qrURIPrefix)
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		if raw, err = base64.URLEncoding.DecodeString(encoded); err != nil {
			return nil, nil, fmt.Errorf("failed to decode QR payload: %w", err)
		}
	}
	var de DeviceEngagement
	if err := cbor.Unmarshal(raw, &de); err != nil {
		return nil, nil, fmt.Errorf("failed to decode device engagement: %w", err)
	}
	return &de, raw, nil
}
