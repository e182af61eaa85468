package felica

import (
	"fmt"
	"strings"
)

// Known card systems.
const (
	SystemSuica   = "suica"
	SystemEdy     = "edy"
	SystemNanaco  = "nanaco"
	SystemWaon    = "waon"
	SystemUnknown = "unknown"
)

// system code (4 hex digits, upper case) to system name
var systemNames = map[string]string{
	"0003": SystemSuica,
	"811D": SystemEdy,
	"04C7": SystemNanaco,
	"8B61": SystemWaon,
}

// SystemName resolves a system code to a card system name. Unrecognized
// codes resolve to SystemUnknown; identification is best effort and
// never an error.
func SystemName(systemCode string) string {
	if name, ok := systemNames[strings.ToUpper(systemCode)]; ok {
		return name
	}
	return SystemUnknown
}

// Payload is the document POSTed to the webhook endpoint, one per card
// presentation. Built once, serialized, discarded.
type Payload struct {
	IDm          string          `json:"idm"`
	SystemCode   string          `json:"system_code"`
	System       string          `json:"system"`
	SuicaHistory []HistoryRecord `json:"suica_history"`
}

// BuildPayload decodes the given history blocks in the order supplied by
// the reader (most recent first, not re-sorted) and assembles the
// webhook payload. Serial numbers are assigned 1..N in that order. Any
// block that fails to decode fails the whole build; a partial payload is
// never produced.
func BuildPayload(idm, systemCode string, blocks [][]byte) (*Payload, error) {
	history := make([]HistoryRecord, 0, len(blocks))
	for i, block := range blocks {
		record, err := DecodeRecord(block, i+1)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i+1, err)
		}
		history = append(history, record)
	}

	return &Payload{
		IDm:          strings.ToUpper(idm),
		SystemCode:   strings.ToUpper(systemCode),
		System:       SystemName(systemCode),
		SuicaHistory: history,
	}, nil
}
