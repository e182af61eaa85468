package nfc

import (
	"encoding/binary"
	"fmt"

	"github.com/yshr-dev/felica-agent/internal/felica"
)

// FeliCa command and response codes used by the agent.
const (
	cmdPolling                = 0x00
	respPolling               = 0x01
	cmdReadWithoutEncryption  = 0x06
	respReadWithoutEncryption = 0x07
)

const (
	// SystemCodeAny polls for any FeliCa card.
	SystemCodeAny uint16 = 0xFFFF

	// serviceHistory is the boarding history service on Suica-family
	// cards.
	serviceHistory uint16 = 0x090F

	// historyBlocks is the card's history capacity; Suica keeps at most
	// 20 records.
	historyBlocks = 20
)

// Card is the transmit seam to a connected PC/SC card. *scard.Card
// satisfies it; tests substitute fakes.
type Card interface {
	Transmit(apdu []byte) ([]byte, error)
}

// buildPolling frames a Polling command. Request code 01 asks the card
// to return its system code, time slot 0.
func buildPolling(systemCode uint16) []byte {
	return []byte{0x06, cmdPolling, byte(systemCode >> 8), byte(systemCode), 0x01, 0x00}
}

// parsePolling extracts the IDm and, when present, the requested system
// code from a Polling response frame.
func parsePolling(frame []byte) (idm []byte, systemCode uint16, err error) {
	if len(frame) < 18 {
		return nil, 0, fmt.Errorf("polling response too short: %d bytes", len(frame))
	}
	if frame[1] != respPolling {
		return nil, 0, fmt.Errorf("unexpected polling response code 0x%02X", frame[1])
	}
	idm = frame[2:10]
	if len(frame) >= 20 {
		systemCode = binary.BigEndian.Uint16(frame[18:20])
	}
	return idm, systemCode, nil
}

// buildReadWithoutEncryption frames a Read Without Encryption command
// for a single block of the given service. The service code goes on the
// wire little-endian; the block list element uses the 2 byte form.
func buildReadWithoutEncryption(idm []byte, service uint16, block byte) []byte {
	frame := make([]byte, 0, 16)
	frame = append(frame, 0x10, cmdReadWithoutEncryption)
	frame = append(frame, idm...)
	frame = append(frame, 0x01, byte(service), byte(service>>8))
	frame = append(frame, 0x01, 0x80, block)
	return frame
}

// parseReadWithoutEncryption returns the single 16 byte block carried in
// a Read Without Encryption response, or the card's status flags as an
// error.
func parseReadWithoutEncryption(frame []byte) ([]byte, error) {
	if len(frame) < 12 {
		return nil, fmt.Errorf("read response too short: %d bytes", len(frame))
	}
	if frame[1] != respReadWithoutEncryption {
		return nil, fmt.Errorf("unexpected read response code 0x%02X", frame[1])
	}
	status1, status2 := frame[10], frame[11]
	if status1 != 0x00 {
		return nil, fmt.Errorf("card refused read: status %02X%02X", status1, status2)
	}
	if len(frame) < 13+16 {
		return nil, fmt.Errorf("read response missing block data: %d bytes", len(frame))
	}
	return frame[13 : 13+16], nil
}

// transmitFeliCa tunnels one FeliCa frame through the reader's
// contactless interface (PC/SC pseudo-APDU FF 00 00 00 wrapping a PN53x
// InCommunicateThru) and unwraps the card's response frame.
func transmitFeliCa(card Card, frame []byte) ([]byte, error) {
	apdu := make([]byte, 0, len(frame)+7)
	apdu = append(apdu, 0xFF, 0x00, 0x00, 0x00, byte(len(frame)+2), 0xD4, 0x42)
	apdu = append(apdu, frame...)

	resp, err := card.Transmit(apdu)
	if err != nil {
		return nil, fmt.Errorf("transmit: %w", err)
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("short reader response: %d bytes", len(resp))
	}

	sw := uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
	if sw != 0x9000 {
		return nil, fmt.Errorf("reader returned SW %04X", sw)
	}

	data := resp[:len(resp)-2]
	if len(data) < 3 || data[0] != 0xD5 || data[1] != 0x43 {
		return nil, fmt.Errorf("unexpected reader response prefix")
	}
	if data[2] != 0x00 {
		return nil, fmt.Errorf("contactless exchange failed: status 0x%02X", data[2])
	}
	return data[3:], nil
}

// pollCard runs one Polling exchange.
func pollCard(card Card, systemCode uint16) ([]byte, uint16, error) {
	resp, err := transmitFeliCa(card, buildPolling(systemCode))
	if err != nil {
		return nil, 0, err
	}
	return parsePolling(resp)
}

// readHistoryBlocks reads the boarding history service block by block,
// most recent first, stopping at the first unused slot. Any transport or
// frame error aborts the whole read.
func readHistoryBlocks(card Card, idm []byte) ([][]byte, error) {
	blocks := make([][]byte, 0, historyBlocks)
	for i := 0; i < historyBlocks; i++ {
		resp, err := transmitFeliCa(card, buildReadWithoutEncryption(idm, serviceHistory, byte(i)))
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		block, err := parseReadWithoutEncryption(resp)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		if felica.SequenceNumber(block) == 0 {
			break // unused slot, the rest of the history is empty
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}
