package felica

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// BlockSize is the fixed length of one history block on the card.
const BlockSize = 16

// Field offsets within a history block. Verified against the documented
// example record; treat as the single place to adjust if a hardware
// sample disagrees.
const (
	offTerminal       = 0
	offProcessing     = 1
	offDate           = 4 // uint16 big-endian, bit-packed y/m/d
	offEnteredLine    = 6
	offEnteredStation = 7
	offExitedLine     = 8
	offExitedStation  = 9
	offBalance        = 10 // uint16 little-endian
	offSequence       = 12 // 3 byte card-side sequence number
	offRegion         = 15
)

// ErrMalformedBlock is returned when a history block is not exactly
// BlockSize bytes. The caller is expected to abort the whole card read.
var ErrMalformedBlock = errors.New("malformed history block")

type DataType string

const (
	DataTypeTrain       DataType = "train"
	DataTypeBus         DataType = "bus"
	DataTypeSaleOfGoods DataType = "sale_of_goods"
)

// processing codes that are not train rides
var (
	busProcessingCodes  = map[int]bool{13: true, 15: true, 31: true, 35: true}
	saleProcessingCodes = map[int]bool{70: true, 73: true, 74: true, 75: true, 198: true, 203: true}
)

// DataTypeOf maps a processing code to its data type. Codes outside the
// known bus and sale-of-goods sets decode as train; decoding never fails
// on an unrecognized code.
func DataTypeOf(processing int) DataType {
	if busProcessingCodes[processing] {
		return DataTypeBus
	}
	if saleProcessingCodes[processing] {
		return DataTypeSaleOfGoods
	}
	return DataTypeTrain
}

// Date is the calendar date of a transaction, decoded from the card's
// packed representation. Serializes as ISO YYYY-MM-DD.
type Date struct {
	Year  int
	Month int
	Day   int
}

// DecodeDate unpacks the 16 bit date field: year in bits 9-15 offset
// from 2000, month in bits 5-8, day in bits 0-4. Impossible dates pass
// through as-is; the card is the source of truth.
func DecodeDate(v uint16) Date {
	return Date{
		Year:  int((v>>9)&0x7f) + 2000,
		Month: int((v >> 5) & 0x0f),
		Day:   int(v & 0x1f),
	}
}

// Pack is the inverse of DecodeDate.
func (d Date) Pack() uint16 {
	return uint16(d.Year-2000)<<9 | uint16(d.Month)<<5 | uint16(d.Day)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	_, err := fmt.Sscanf(s, "%d-%d-%d", &d.Year, &d.Month, &d.Day)
	return err
}

// Station holds the rail line and station codes of a transaction. All
// four codes are zero for non-rail transactions.
type Station struct {
	EnteredLineCode    int `json:"entered_line_code"`
	EnteredStationCode int `json:"entered_station_code"`
	ExitedLineCode     int `json:"exited_line_code"`
	ExitedStationCode  int `json:"exited_station_code"`
}

// HistoryRecord is one decoded transaction. Immutable once decoded;
// produced from exactly one history block.
type HistoryRecord struct {
	SerialNumber int      `json:"serial_number"`
	DataType     DataType `json:"data_type"`
	Terminal     int      `json:"terminal"`
	Processing   int      `json:"processing"`
	Date         Date     `json:"date"`
	Balance      int      `json:"balance"`
	Region       int      `json:"region"`
	Station      Station  `json:"station"`
	Block        string   `json:"block"`
}

// DecodeRecord decodes one raw history block into a HistoryRecord.
// position is the 1-based ordinal of the block in read order and becomes
// the record's serial number. Pure function, no side effects.
func DecodeRecord(block []byte, position int) (HistoryRecord, error) {
	if len(block) != BlockSize {
		return HistoryRecord{}, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedBlock, len(block), BlockSize)
	}

	processing := int(block[offProcessing])
	dataType := DataTypeOf(processing)

	// bytes 6-9 hold line and station codes only for train rides; on
	// bus and sale-of-goods records they carry other data, so the
	// station sub-record stays zero
	var station Station
	if dataType == DataTypeTrain {
		station = Station{
			EnteredLineCode:    int(block[offEnteredLine]),
			EnteredStationCode: int(block[offEnteredStation]),
			ExitedLineCode:     int(block[offExitedLine]),
			ExitedStationCode:  int(block[offExitedStation]),
		}
	}

	return HistoryRecord{
		SerialNumber: position,
		DataType:     dataType,
		Terminal:     int(block[offTerminal]),
		Processing:   processing,
		Date:         DecodeDate(binary.BigEndian.Uint16(block[offDate : offDate+2])),
		Balance:      int(binary.LittleEndian.Uint16(block[offBalance : offBalance+2])),
		Region:       int(block[offRegion]),
		Station:      station,
		Block:        strings.ToUpper(hex.EncodeToString(block)),
	}, nil
}

// SequenceNumber returns the card-side 24 bit transaction sequence
// number at bytes 12-14. A zero sequence marks an unused history slot;
// the session layer uses this to stop reading. Returns 0 for blocks of
// the wrong size.
func SequenceNumber(block []byte) int {
	if len(block) != BlockSize {
		return 0
	}
	return int(block[offSequence])<<16 | int(block[offSequence+1])<<8 | int(block[offSequence+2])
}
