package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"

	log "github.com/sirupsen/logrus"
	configs "github.com/yshr-dev/felica-agent/configs"
	"github.com/yshr-dev/felica-agent/internal/agent"
	"github.com/yshr-dev/felica-agent/internal/agent/broker"
	agentconfig "github.com/yshr-dev/felica-agent/internal/agent/config"
	natscli "github.com/yshr-dev/felica-agent/internal/nats"
	"github.com/yshr-dev/felica-agent/internal/nfc"
	"github.com/yshr-dev/felica-agent/internal/notify"
	"github.com/yshr-dev/felica-agent/internal/sound"
	"github.com/yshr-dev/felica-agent/internal/status/routes"
	"github.com/yshr-dev/felica-agent/internal/status/ws"
	"github.com/yshr-dev/felica-agent/internal/webhook"
)

const SERVICE_NAME = "agentd"

var instanceId string

func init() {
	configs.Logging(SERVICE_NAME)
	configs.LoadEnv(SERVICE_NAME)
}

func main() {
	instanceId = configs.CreateUniqueInstance(SERVICE_NAME)

	cfg, err := agentconfig.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	// claim the card reader; needs access to the PC/SC daemon
	session, err := nfc.NewSession(cfg.Reader)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer session.Close()

	sender := webhook.NewSender(cfg.Endpoint, cfg.Token, cfg.Timeout)
	hub := ws.NewHub()

	// optional NATS sink
	var brk *broker.Broker
	if cfg.NatsURL != "" {
		n, err := natscli.Connect(cfg.NatsURL, cfg.NatsToken)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer n.Conn.Close()
		log.Infof("NATS connected at %s", n.Url)
		brk = broker.NewBroker(n.Conn)
	}

	notifier := notify.NewTelegramNotifierFromConfig(cfg.TelegramToken, cfg.TelegramChatIDs)
	player := sound.NewPlayer(cfg.SoundDir)

	a := agent.NewAgent(session, sender, hub, brk, notifier, player, instanceId)

	// optional local status API
	var server *http.Server
	if cfg.StatusAddr != "" {
		r := chi.NewRouter()
		c := configs.CORS()

		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(configs.CustomLoggerMiddleware())
		r.Use(middleware.Recoverer)
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(c.Handler)
		r.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))

		routes.SetRoutes(r, hub, a)

		server = &http.Server{
			Addr:         cfg.StatusAddr,
			Handler:      r,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("ListenAndServe(): %v", err)
			}
		}()
		log.Infof("status api running at %s", server.Addr)
	}

	// the read loop runs until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		log.Errorf("agent stopped with error: %v", err)
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("%s shutdown Failed:%+v", SERVICE_NAME, err)
		}
	}
	log.Infof("%s gracefully stopped", SERVICE_NAME)
}
