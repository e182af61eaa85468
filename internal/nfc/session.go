package nfc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ebfe/scard"
	log "github.com/sirupsen/logrus"

	"github.com/yshr-dev/felica-agent/internal/felica"
)

// ErrReaderUnavailable is returned when no usable PC/SC reader can be
// claimed. Fatal at startup.
var ErrReaderUnavailable = errors.New("card reader unavailable")

// statusPollInterval paces the wait-for-card loop.
const statusPollInterval = 300 * time.Millisecond

// CardData is everything read from one card presentation: identity plus
// the populated history blocks in reader order, most recent first.
type CardData struct {
	IDm        string
	SystemCode string
	Blocks     [][]byte
}

// Session owns the PC/SC context and the selected reader. Construct
// once at startup, Close on shutdown; the device handle never outlives
// the session.
type Session struct {
	ctx    *scard.Context
	reader string

	// set after a read so the next wait first lets the card leave the
	// field; WaitForCard is only ever called from the single read loop
	pendingRemoval bool
}

// NewSession establishes the PC/SC context and picks a reader. When
// readerHint is non-empty the first reader whose name contains it is
// used, otherwise the first reader found.
func NewSession(readerHint string) (*Session, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReaderUnavailable, err)
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("%w: %v", ErrReaderUnavailable, err)
	}

	reader := ""
	for _, r := range readers {
		if readerHint == "" || strings.Contains(r, readerHint) {
			reader = r
			break
		}
	}
	if reader == "" {
		ctx.Release()
		return nil, fmt.Errorf("%w: no reader matching %q among %d readers", ErrReaderUnavailable, readerHint, len(readers))
	}

	log.Infof("using card reader: %s", reader)
	return &Session{ctx: ctx, reader: reader}, nil
}

// Close releases the PC/SC context.
func (s *Session) Close() error {
	return s.ctx.Release()
}

// WaitForCard blocks until a card is presented or ctx is cancelled,
// then reads identity and history in a single pass while the card is
// still in the field. The card is disconnected before returning on
// every path.
func (s *Session) WaitForCard(ctx context.Context) (*CardData, error) {
	// one cycle per presentation: a card resting on the reader is not
	// read twice
	if s.pendingRemoval {
		if err := s.waitForRemoval(ctx); err != nil {
			return nil, err
		}
		s.pendingRemoval = false
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		states := []scard.ReaderState{{Reader: s.reader, CurrentState: scard.StateUnaware}}
		if err := s.ctx.GetStatusChange(states, statusPollInterval); err != nil {
			if err == scard.ErrTimeout {
				continue
			}
			return nil, fmt.Errorf("reader status: %w", err)
		}

		if states[0].EventState&scard.StatePresent == 0 {
			// no card yet
			time.Sleep(statusPollInterval)
			continue
		}

		card, err := s.ctx.Connect(s.reader, scard.ShareShared, scard.ProtocolAny)
		if err != nil {
			// the card may have left the field between status and connect
			log.Warnf("card connect failed, retrying: %v", err)
			time.Sleep(statusPollInterval)
			continue
		}

		data, err := readCard(card)
		if derr := card.Disconnect(scard.ResetCard); derr != nil {
			log.Warnf("card disconnect: %v", derr)
		}
		s.pendingRemoval = true
		if err != nil {
			return nil, err
		}
		return data, nil
	}
}

// waitForRemoval blocks until the reader's field is empty or ctx is
// cancelled.
func (s *Session) waitForRemoval(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		states := []scard.ReaderState{{Reader: s.reader, CurrentState: scard.StateUnaware}}
		if err := s.ctx.GetStatusChange(states, statusPollInterval); err != nil {
			if err == scard.ErrTimeout {
				continue
			}
			return fmt.Errorf("reader status: %w", err)
		}

		if states[0].EventState&scard.StatePresent == 0 {
			return nil
		}
		time.Sleep(statusPollInterval)
	}
}

// readCard polls the card for its identity and, for Suica-family cards,
// reads the boarding history.
func readCard(card Card) (*CardData, error) {
	idm, systemCode, err := pollCard(card, SystemCodeAny)
	if err != nil {
		return nil, fmt.Errorf("polling: %w", err)
	}

	data := &CardData{
		IDm:        strings.ToUpper(hex.EncodeToString(idm)),
		SystemCode: fmt.Sprintf("%04X", systemCode),
	}

	// only Suica-family cards carry the boarding history service
	if felica.SystemName(data.SystemCode) == felica.SystemSuica {
		blocks, err := readHistoryBlocks(card, idm)
		if err != nil {
			return nil, fmt.Errorf("history read: %w", err)
		}
		data.Blocks = blocks
	}

	return data, nil
}
