package iso18013

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// ReaderApduHandoverDriver drives an NFC negotiated handover conversation
// command by command against a Type 4 tag. The transport transmits each
// command APDU and feeds the response back through ProcessRAPDU until the
// negotiation yields the BLE carrier and the holder's device engagement.
type ReaderApduHandoverDriver struct {
	state     apduState
	hrMessage []byte
	hsLength  int
}

type apduState int

const (
	stateSelectApp apduState = iota
	stateSelectFile
	stateResetLength
	stateWriteRequest
	stateWriteLength
	stateReadLength
	stateReadSelect
	stateDone
)

// ApduOutcome is either the next command to transmit or, on completion,
// the negotiated handover.
type ApduOutcome struct {
	// NextCommand is the next C-APDU; nil once Handover is set.
	NextCommand []byte
	Handover    *NegotiatedHandover
}

// NegotiatedHandover is the result of a completed negotiation.
type NegotiatedHandover struct {
	// HSMessage and HRMessage are the raw NDEF handover messages; both
	// enter the session transcript.
	HSMessage []byte
	HRMessage []byte
	// DeviceEngagement is the holder's engagement CBOR carried alongside
	// the handover select.
	DeviceEngagement []byte
	// CarrierUUID is the agreed BLE service.
	CarrierUUID uuid.UUID
}

// SessionHandover converts the negotiation result into the transcript form.
func (n *NegotiatedHandover) SessionHandover() *NFCHandover {
	return &NFCHandover{HSMessage: n.HSMessage, HRMessage: n.HRMessage}
}

var ndefApplicationID = []byte{0xd2, 0x76, 0x00, 0x00, 0x85, 0x01, 0x01}

const ndefFileID = 0xe104

// NewReaderApduHandoverDriver starts a negotiation proposing the given BLE
// service UUID as carrier. It returns the driver and the first command to
// transmit.
func NewReaderApduHandoverDriver(serviceUUID uuid.UUID) (*ReaderApduHandoverDriver, []byte, error) {
	hr, err := buildHandoverRequest(serviceUUID)
	if err != nil {
		return nil, nil, err
	}
	driver := &ReaderApduHandoverDriver{
		state:     stateSelectApp,
		hrMessage: hr,
	}
	return driver, apduSelectApplication(ndefApplicationID), nil
}

// ProcessRAPDU consumes one response APDU and returns either the next
// command or the completed handover.
func (d *ReaderApduHandoverDriver) ProcessRAPDU(rapdu []byte) (*ApduOutcome, error) {
	payload, err := checkStatus(rapdu)
	if err != nil {
		return nil, err
	}

	switch d.state {
	case stateSelectApp:
		d.state = stateSelectFile
		return &ApduOutcome{NextCommand: apduSelectFile(ndefFileID)}, nil

	case stateSelectFile:
		// Zero the NDEF length before writing, per T4T write procedure.
		d.state = stateResetLength
		return &ApduOutcome{NextCommand: apduUpdateBinary(0, []byte{0x00, 0x00})}, nil

	case stateResetLength:
		d.state = stateWriteRequest
		return &ApduOutcome{NextCommand: apduUpdateBinary(2, d.hrMessage)}, nil

	case stateWriteRequest:
		length := make([]byte, 2)
		binary.BigEndian.PutUint16(length, uint16(len(d.hrMessage)))
		d.state = stateWriteLength
		return &ApduOutcome{NextCommand: apduUpdateBinary(0, length)}, nil

	case stateWriteLength:
		d.state = stateReadLength
		return &ApduOutcome{NextCommand: apduReadBinary(0, 2)}, nil

	case stateReadLength:
		if len(payload) < 2 {
			return nil, fmt.Errorf("short NDEF length read: %d bytes", len(payload))
		}
		d.hsLength = int(binary.BigEndian.Uint16(payload))
		if d.hsLength == 0 {
			// Holder has not published its select message yet; poll.
			return &ApduOutcome{NextCommand: apduReadBinary(0, 2)}, nil
		}
		if d.hsLength > 255 {
			return nil, fmt.Errorf("handover select of %d bytes exceeds short read", d.hsLength)
		}
		d.state = stateReadSelect
		return &ApduOutcome{NextCommand: apduReadBinary(2, byte(d.hsLength))}, nil

	case stateReadSelect:
		if len(payload) < d.hsLength {
			return nil, fmt.Errorf("short NDEF read: got %d of %d bytes", len(payload), d.hsLength)
		}
		hs := payload[:d.hsLength]
		carrier, engagement, err := parseHandoverSelect(hs)
		if err != nil {
			return nil, err
		}
		d.state = stateDone
		return &ApduOutcome{Handover: &NegotiatedHandover{
			HSMessage:        append([]byte(nil), hs...),
			HRMessage:        d.hrMessage,
			DeviceEngagement: engagement,
			CarrierUUID:      carrier,
		}}, nil

	default:
		return nil, fmt.Errorf("handover already complete")
	}
}

// APDU construction.

func apduSelectApplication(aid []byte) []byte {
	cmd := []byte{0x00, 0xa4, 0x04, 0x00, byte(len(aid))}
	cmd = append(cmd, aid...)
	return append(cmd, 0x00)
}

func apduSelectFile(fileID uint16) []byte {
	return []byte{0x00, 0xa4, 0x00, 0x0c, 0x02, byte(fileID >> 8), byte(fileID)}
}

func apduReadBinary(offset uint16, length byte) []byte {
	return []byte{0x00, 0xb0, byte(offset >> 8), byte(offset), length}
}

func apduUpdateBinary(offset uint16, data []byte) []byte {
	cmd := []byte{0x00, 0xd6, byte(offset >> 8), byte(offset), byte(len(data))}
	return append(cmd, data...)
}

func checkStatus(rapdu []byte) ([]byte, error) {
	if len(rapdu) < 2 {
		return nil, fmt.Errorf("response APDU too short")
	}
	sw1, sw2 := rapdu[len(rapdu)-2], rapdu[len(rapdu)-1]
	if sw1 != 0x90 || sw2 != 0x00 {
		return nil, fmt.Errorf("command failed with status %02X%02X", sw1, sw2)
	}
	return rapdu[:len(rapdu)-2], nil
}

// NDEF handling, just enough for connection handover.

type ndefRecord struct {
	tnf     byte
	typ     []byte
	id      []byte
	payload []byte
}

const (
	tnfWellKnown = 0x01
	tnfMedia     = 0x02
	tnfExternal  = 0x04
)

var bleOOBType = []byte("application/vnd.bluetooth.le.oob")

// AD type for a complete list of 128-bit service UUIDs.
const adTypeServiceUUIDs = 0x07

func encodeNDEFMessage(records []ndefRecord) []byte {
	var buf bytes.Buffer
	for i, r := range records {
		header := r.tnf | 0x10 // SR, short record
		if i == 0 {
			header |= 0x80 // MB
		}
		if i == len(records)-1 {
			header |= 0x40 // ME
		}
		if len(r.id) > 0 {
			header |= 0x08 // IL
		}
		buf.WriteByte(header)
		buf.WriteByte(byte(len(r.typ)))
		buf.WriteByte(byte(len(r.payload)))
		if len(r.id) > 0 {
			buf.WriteByte(byte(len(r.id)))
		}
		buf.Write(r.typ)
		buf.Write(r.id)
		buf.Write(r.payload)
	}
	return buf.Bytes()
}

func parseNDEFMessage(data []byte) ([]ndefRecord, error) {
	var records []ndefRecord
	for len(data) > 0 {
		if len(data) < 3 {
			return nil, fmt.Errorf("truncated NDEF record header")
		}
		header := data[0]
		typeLen := int(data[1])
		offset := 2

		var payloadLen int
		if header&0x10 != 0 { // short record
			payloadLen = int(data[offset])
			offset++
		} else {
			if len(data) < offset+4 {
				return nil, fmt.Errorf("truncated NDEF payload length")
			}
			payloadLen = int(binary.BigEndian.Uint32(data[offset:]))
			offset += 4
		}
		idLen := 0
		if header&0x08 != 0 {
			idLen = int(data[offset])
			offset++
		}
		if len(data) < offset+typeLen+idLen+payloadLen {
			return nil, fmt.Errorf("truncated NDEF record body")
		}
		record := ndefRecord{
			tnf:     header & 0x07,
			typ:     data[offset : offset+typeLen],
			id:      data[offset+typeLen : offset+typeLen+idLen],
			payload: data[offset+typeLen+idLen : offset+typeLen+idLen+payloadLen],
		}
		records = append(records, record)
		data = data[offset+typeLen+idLen+payloadLen:]

		if header&0x40 != 0 { // ME
			break
		}
	}
	return records, nil
}

// buildHandoverRequest produces the NDEF Handover Request message with one
// BLE alternative carrier.
func buildHandoverRequest(serviceUUID uuid.UUID) ([]byte, error) {
	collision := make([]byte, 2)
	if _, err := rand.Read(collision); err != nil {
		return nil, fmt.Errorf("failed to generate collision resolution: %w", err)
	}

	// Collision resolution record nested inside the Hr payload.
	crRecord := encodeNDEFMessage([]ndefRecord{
		{tnf: tnfWellKnown, typ: []byte("cr"), payload: collision},
		// Alternative carrier referencing carrier data record "0".
		{tnf: tnfWellKnown, typ: []byte("ac"), payload: []byte{0x01, 0x01, '0', 0x00}},
	})

	hrPayload := append([]byte{0x15}, crRecord...) // version 1.5

	records := []ndefRecord{
		{tnf: tnfWellKnown, typ: []byte("Hr"), payload: hrPayload},
		{tnf: tnfMedia, typ: bleOOBType, id: []byte("0"), payload: bleOOBData(serviceUUID)},
	}
	return encodeNDEFMessage(records), nil
}

// bleOOBData encodes the carrier configuration as BLE advertising
// structures: LE role followed by the service UUID.
func bleOOBData(serviceUUID uuid.UUID) []byte {
	var buf bytes.Buffer
	// LE role: central only.
	buf.Write([]byte{0x02, 0x1c, 0x01})
	// 128-bit service UUID, little endian per Bluetooth convention.
	buf.WriteByte(17)
	buf.WriteByte(adTypeServiceUUIDs)
	buf.Write(reverse(serviceUUID[:]))
	return buf.Bytes()
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

var deviceEngagementType = []byte("iso.org:18013:deviceengagement")

// parseHandoverSelect extracts the agreed BLE carrier UUID and the device
// engagement record from a Handover Select message.
func parseHandoverSelect(data []byte) (uuid.UUID, []byte, error) {
	records, err := parseNDEFMessage(data)
	if err != nil {
		return uuid.UUID{}, nil, fmt.Errorf("failed to parse handover select: %w", err)
	}

	var carrier uuid.UUID
	var carrierFound bool
	var engagement []byte
	for _, r := range records {
		switch {
		case r.tnf == tnfMedia && bytes.Equal(r.typ, bleOOBType):
			id, ok := serviceUUIDFromOOB(r.payload)
			if !ok {
				return uuid.UUID{}, nil, fmt.Errorf("BLE carrier record carries no service UUID")
			}
			carrier = id
			carrierFound = true
		case r.tnf == tnfExternal && bytes.Equal(r.typ, deviceEngagementType):
			engagement = r.payload
		}
	}
	if !carrierFound {
		return uuid.UUID{}, nil, fmt.Errorf("handover select carries no BLE carrier")
	}
	if len(engagement) == 0 {
		return uuid.UUID{}, nil, fmt.Errorf("handover select carries no device engagement")
	}
	return carrier, engagement, nil
}

func serviceUUIDFromOOB(data []byte) (uuid.UUID, bool) {
	for len(data) >= 2 {
		length := int(data[0])
		if length == 0 || len(data) < 1+length {
			break
		}
		adType := data[1]
		value := data[2 : 1+length]
		if adType == adTypeServiceUUIDs && len(value) == 16 {
			var id uuid.UUID
			copy(id[:], reverse(value))
			return id, true
		}
		data = data[1+length:]
	}
	return uuid.UUID{}, false
}
