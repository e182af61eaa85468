package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/yshr-dev/felica-agent/internal/agent/broker"
	"github.com/yshr-dev/felica-agent/internal/comm"
	"github.com/yshr-dev/felica-agent/internal/felica"
	"github.com/yshr-dev/felica-agent/internal/nfc"
	"github.com/yshr-dev/felica-agent/internal/notify"
	"github.com/yshr-dev/felica-agent/internal/sound"
	"github.com/yshr-dev/felica-agent/internal/status/ws"
)

// Reader blocks until a card has been presented and fully read.
type Reader interface {
	WaitForCard(ctx context.Context) (*nfc.CardData, error)
}

// Sender delivers one payload to the webhook endpoint.
type Sender interface {
	Send(ctx context.Context, payload *felica.Payload) error
}

// Status is the snapshot served by the local status API.
type Status struct {
	InstanceId   string     `json:"instance_id"`
	StartedAt    time.Time  `json:"started_at"`
	CyclesTotal  int        `json:"cycles_total"`
	CyclesFailed int        `json:"cycles_failed"`
	LastIDm      string     `json:"last_idm,omitempty"`
	LastSystem   string     `json:"last_system,omitempty"`
	LastReadAt   *time.Time `json:"last_read_at,omitempty"`
}

// Agent runs the single-threaded read cycle: wait for a card, decode
// its history, deliver the payload, go back to waiting. Hub, broker,
// notifier and player are optional sinks; each is nil-safe. No state is
// shared between cycles beyond the status counters.
type Agent struct {
	reader   Reader
	sender   Sender
	hub      *ws.Hub
	broker   *broker.Broker
	notifier *notify.TelegramNotifier
	player   *sound.Player

	mu     sync.Mutex
	status Status
}

func NewAgent(reader Reader, sender Sender, hub *ws.Hub, brk *broker.Broker,
	notifier *notify.TelegramNotifier, player *sound.Player, instanceId string) *Agent {
	return &Agent{
		reader:   reader,
		sender:   sender,
		hub:      hub,
		broker:   brk,
		notifier: notifier,
		player:   player,
		status: Status{
			InstanceId: instanceId,
			StartedAt:  time.Now(),
		},
	}
}

// heartbeatInterval paces the event-stream heartbeat; a var so tests
// can shorten it.
var heartbeatInterval = 30 * time.Second

// Run loops until ctx is cancelled. Card-level failures never stop the
// loop; they are logged, the cycle's data is dropped, and the agent
// returns to waiting for the next card.
func (a *Agent) Run(ctx context.Context) error {
	log.Info("waiting for cards")

	go a.heartbeat(ctx)

	for {
		card, err := a.reader.WaitForCard(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("agent stopping")
				return nil
			}
			log.Errorf("card read failed: %v", err)
			a.markFailed()
			a.player.Play(sound.Error)
			time.Sleep(time.Second)
			continue
		}

		a.handleCard(ctx, card)
	}
}

// handleCard runs one read cycle for a present card.
func (a *Agent) handleCard(ctx context.Context, card *nfc.CardData) {
	cycleId := uuid.New().String()
	system := felica.SystemName(card.SystemCode)
	log.Infof("card detected: idm=%s system=%s blocks=%d cycle=%s", card.IDm, system, len(card.Blocks), cycleId)

	a.broadcast(comm.EventCardDetected, comm.CardDetected{
		CycleId:    cycleId,
		IDm:        card.IDm,
		System:     system,
		Blocks:     len(card.Blocks),
		DetectedAt: time.Now(),
	})

	payload, err := felica.BuildPayload(card.IDm, card.SystemCode, card.Blocks)
	if err != nil {
		a.failCycle(cycleId, "decode", err)
		return
	}

	stop := a.player.Loop(sound.Waiting)
	err = a.sender.Send(ctx, payload)
	stop()
	if err != nil {
		// no retry and no queue: the cycle's data is gone
		a.failCycle(cycleId, "send", fmt.Errorf("payload dropped: %w", err))
		return
	}

	a.player.Play(sound.OK)
	a.notifier.SendNotification(fmt.Sprintf("Card read: %s (%s), %d records delivered", card.IDm, system, len(payload.SuicaHistory)))

	if err := a.broker.PublishRead(payload); err != nil {
		log.Errorf("NATS publish failed: %v", err)
	}

	a.broadcast(comm.EventPayloadSent, comm.PayloadSent{
		CycleId: cycleId,
		IDm:     card.IDm,
		Records: len(payload.SuicaHistory),
		SentAt:  time.Now(),
	})

	a.markRead(card.IDm, system)
}

// heartbeat tells event-stream clients the agent is alive while no
// cards are being read.
func (a *Agent) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.broadcast(comm.EventHeartbeat, comm.ServiceHeartbeat{
				ID:        a.Status().InstanceId,
				Timestamp: time.Now(),
			})
		}
	}
}

func (a *Agent) failCycle(cycleId, stage string, err error) {
	log.Errorf("cycle %s failed at %s: %v", cycleId, stage, err)
	a.markFailed()
	a.player.Play(sound.Error)
	a.notifier.SendNotification(fmt.Sprintf("Card read failed (%s): %v", stage, err))
	a.broadcast(comm.EventCycleFailed, comm.CycleFailed{
		CycleId:  cycleId,
		Stage:    stage,
		Error:    err.Error(),
		FailedAt: time.Now(),
	})
}

func (a *Agent) broadcast(eventType string, v interface{}) {
	if a.hub == nil {
		return
	}
	event, err := comm.NewEvent(eventType, v)
	if err != nil {
		log.Errorf("failed to build %s event: %v", eventType, err)
		return
	}
	a.hub.Broadcast(event)
}

func (a *Agent) markRead(idm, system string) {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status.CyclesTotal++
	a.status.LastIDm = idm
	a.status.LastSystem = system
	a.status.LastReadAt = &now
}

func (a *Agent) markFailed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status.CyclesTotal++
	a.status.CyclesFailed++
}

// Status returns a copy of the current counters.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}
