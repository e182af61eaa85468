package felica

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemName(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{code: "0003", want: SystemSuica},
		{code: "811D", want: SystemEdy},
		{code: "811d", want: SystemEdy},
		{code: "04C7", want: SystemNanaco},
		{code: "8B61", want: SystemWaon},
		{code: "FFFF", want: SystemUnknown},
		{code: "", want: SystemUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SystemName(tt.code), "system code %q", tt.code)
	}
}

func TestBuildPayloadSerialNumbers(t *testing.T) {
	tests := []struct {
		name   string
		blocks int
	}{
		{name: "no blocks", blocks: 0},
		{name: "one block", blocks: 1},
		{name: "full history", blocks: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := make([][]byte, tt.blocks)
			for i := range blocks {
				block := exampleBlock(t)
				block[0] = byte(i) // distinct terminal per block to verify order
				blocks[i] = block
			}

			payload, err := BuildPayload("01010A100317C911", "0003", blocks)
			require.NoError(t, err)

			require.Len(t, payload.SuicaHistory, tt.blocks)
			for i, record := range payload.SuicaHistory {
				assert.Equal(t, i+1, record.SerialNumber, "serials are 1..N in read order")
				assert.Equal(t, i, record.Terminal, "input order is preserved")
			}
		})
	}
}

func TestBuildPayloadMalformedBlockAborts(t *testing.T) {
	blocks := [][]byte{
		exampleBlock(t),
		make([]byte, 3), // wrong size
		exampleBlock(t),
	}

	payload, err := BuildPayload("01010A100317C911", "0003", blocks)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedBlock)
	assert.Nil(t, payload, "no partial payload on decode failure")
}

func TestBuildPayloadUnknownSystem(t *testing.T) {
	payload, err := BuildPayload("0102030405060708", "DEAD", nil)
	require.NoError(t, err)
	assert.Equal(t, SystemUnknown, payload.System)
	assert.Equal(t, "DEAD", payload.SystemCode)
}

// The serialized document must match the README example byte for byte
// in structure and values.
func TestPayloadJSON(t *testing.T) {
	payload, err := BuildPayload("01010A100317C911", "0003", [][]byte{exampleBlock(t)})
	require.NoError(t, err)

	got, err := json.Marshal(payload)
	require.NoError(t, err)

	want := `{
		"idm": "01010A100317C911",
		"system_code": "0003",
		"system": "suica",
		"suica_history": [
			{
				"serial_number": 1,
				"data_type": "train",
				"terminal": 21,
				"processing": 7,
				"date": "2016-07-15",
				"balance": 500,
				"region": 0,
				"station": {
					"entered_line_code": 0,
					"entered_station_code": 0,
					"exited_line_code": 0,
					"exited_station_code": 0
				},
				"block": "1507000020EF00000000F40100000100"
			}
		]
	}`
	assert.JSONEq(t, want, string(got))
}

func TestPayloadJSONEmptyHistory(t *testing.T) {
	payload, err := BuildPayload("0102030405060708", "811D", nil)
	require.NoError(t, err)

	got, err := json.Marshal(payload)
	require.NoError(t, err)

	// suica_history is always present, an empty array for cards with no
	// readable history
	assert.JSONEq(t, `{"idm":"0102030405060708","system_code":"811D","system":"edy","suica_history":[]}`, string(got))
}
