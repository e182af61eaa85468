package nfc

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIDm = []byte{0x01, 0x01, 0x0A, 0x10, 0x03, 0x17, 0xC9, 0x11}

// fakeCard scripts Transmit responses in order and records the APDUs it
// received.
type fakeCard struct {
	responses [][]byte
	requests  [][]byte
	err       error
}

func (f *fakeCard) Transmit(apdu []byte) ([]byte, error) {
	f.requests = append(f.requests, apdu)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return nil, errors.New("fakeCard: no scripted response")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

// wrap frames a FeliCa response the way the reader returns it: PN53x
// InCommunicateThru echo, status 0, trailing SW 9000.
func wrap(frame []byte) []byte {
	out := append([]byte{0xD5, 0x43, 0x00}, frame...)
	return append(out, 0x90, 0x00)
}

func pollingResponse(idm []byte, systemCode uint16) []byte {
	frame := []byte{0x14, respPolling}
	frame = append(frame, idm...)
	frame = append(frame, make([]byte, 8)...) // PMm
	frame = append(frame, byte(systemCode>>8), byte(systemCode))
	return frame
}

func readResponse(idm, block []byte) []byte {
	frame := []byte{0x1D, respReadWithoutEncryption}
	frame = append(frame, idm...)
	frame = append(frame, 0x00, 0x00, 0x01)
	return append(frame, block...)
}

func historyBlock(t *testing.T, sequence int) []byte {
	t.Helper()
	block, err := hex.DecodeString("1507000020EF00000000F40100000000")
	require.NoError(t, err)
	block[12] = byte(sequence >> 16)
	block[13] = byte(sequence >> 8)
	block[14] = byte(sequence)
	return block
}

func TestBuildPolling(t *testing.T) {
	assert.Equal(t, []byte{0x06, 0x00, 0xFF, 0xFF, 0x01, 0x00}, buildPolling(SystemCodeAny))
	assert.Equal(t, []byte{0x06, 0x00, 0x00, 0x03, 0x01, 0x00}, buildPolling(0x0003))
}

func TestParsePolling(t *testing.T) {
	idm, systemCode, err := parsePolling(pollingResponse(testIDm, 0x0003))
	require.NoError(t, err)
	assert.Equal(t, testIDm, idm)
	assert.Equal(t, uint16(0x0003), systemCode)
}

func TestParsePollingErrors(t *testing.T) {
	_, _, err := parsePolling([]byte{0x02, respPolling})
	assert.Error(t, err)

	bad := pollingResponse(testIDm, 0x0003)
	bad[1] = 0x05
	_, _, err = parsePolling(bad)
	assert.Error(t, err)
}

func TestBuildReadWithoutEncryption(t *testing.T) {
	frame := buildReadWithoutEncryption(testIDm, serviceHistory, 4)

	want := []byte{0x10, 0x06}
	want = append(want, testIDm...)
	// one service, code 0x090F little-endian, one block, 2 byte element
	want = append(want, 0x01, 0x0F, 0x09, 0x01, 0x80, 0x04)
	assert.Equal(t, want, frame)
	assert.Equal(t, int(frame[0]), len(frame), "length byte covers the whole frame")
}

func TestParseReadWithoutEncryption(t *testing.T) {
	block := historyBlock(t, 5)
	got, err := parseReadWithoutEncryption(readResponse(testIDm, block))
	require.NoError(t, err)
	assert.Equal(t, block, got)
}

func TestParseReadWithoutEncryptionStatusError(t *testing.T) {
	frame := []byte{0x0C, respReadWithoutEncryption}
	frame = append(frame, testIDm...)
	frame = append(frame, 0xFF, 0xA6) // card error status

	_, err := parseReadWithoutEncryption(frame)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FFA6")
}

func TestTransmitFeliCa(t *testing.T) {
	frame := buildPolling(SystemCodeAny)
	card := &fakeCard{responses: [][]byte{wrap(pollingResponse(testIDm, 0x0003))}}

	resp, err := transmitFeliCa(card, frame)
	require.NoError(t, err)
	assert.Equal(t, pollingResponse(testIDm, 0x0003), resp)

	require.Len(t, card.requests, 1)
	apdu := card.requests[0]
	assert.Equal(t, []byte{0xFF, 0x00, 0x00, 0x00, byte(len(frame) + 2), 0xD4, 0x42}, apdu[:7])
	assert.Equal(t, frame, apdu[7:])
}

func TestTransmitFeliCaErrors(t *testing.T) {
	tests := []struct {
		name string
		card *fakeCard
	}{
		{name: "transport error", card: &fakeCard{err: errors.New("reader gone")}},
		{name: "bad status word", card: &fakeCard{responses: [][]byte{{0xD5, 0x43, 0x00, 0x63, 0x00}}}},
		{name: "exchange failed", card: &fakeCard{responses: [][]byte{{0xD5, 0x43, 0x01, 0x90, 0x00}}}},
		{name: "short response", card: &fakeCard{responses: [][]byte{{0x90}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := transmitFeliCa(tt.card, buildPolling(SystemCodeAny))
			assert.Error(t, err)
		})
	}
}

func TestReadHistoryBlocksStopsAtEmptySlot(t *testing.T) {
	card := &fakeCard{responses: [][]byte{
		wrap(readResponse(testIDm, historyBlock(t, 12))),
		wrap(readResponse(testIDm, historyBlock(t, 11))),
		wrap(readResponse(testIDm, historyBlock(t, 0))), // unused slot
	}}

	blocks, err := readHistoryBlocks(card, testIDm)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, historyBlock(t, 12), blocks[0])
	assert.Equal(t, historyBlock(t, 11), blocks[1])
	assert.Len(t, card.requests, 3)
}

func TestReadHistoryBlocksAbortsOnError(t *testing.T) {
	card := &fakeCard{responses: [][]byte{
		wrap(readResponse(testIDm, historyBlock(t, 12))),
		wrap([]byte{0x0C, respReadWithoutEncryption, 0, 0, 0, 0, 0, 0, 0, 0, 0xFF, 0xA6}),
	}}

	blocks, err := readHistoryBlocks(card, testIDm)
	require.Error(t, err)
	assert.Nil(t, blocks, "no partial history on failure")
}

func TestReadCard(t *testing.T) {
	card := &fakeCard{responses: [][]byte{
		wrap(pollingResponse(testIDm, 0x0003)),
		wrap(readResponse(testIDm, historyBlock(t, 2))),
		wrap(readResponse(testIDm, historyBlock(t, 1))),
		wrap(readResponse(testIDm, historyBlock(t, 0))),
	}}

	data, err := readCard(card)
	require.NoError(t, err)
	assert.Equal(t, "01010A100317C911", data.IDm)
	assert.Equal(t, "0003", data.SystemCode)
	assert.Len(t, data.Blocks, 2)
}

func TestReadCardNonSuica(t *testing.T) {
	card := &fakeCard{responses: [][]byte{
		wrap(pollingResponse(testIDm, 0x811D)),
	}}

	data, err := readCard(card)
	require.NoError(t, err)
	assert.Equal(t, "811D", data.SystemCode)
	assert.Empty(t, data.Blocks, "no history service on non-Suica cards")
	assert.Len(t, card.requests, 1, "history is not read")
}
