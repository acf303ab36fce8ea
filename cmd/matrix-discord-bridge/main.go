// Copyright 2024-2026 Aiku AI

// Command matrix-discord-bridge is a Matrix appservice that bridges
// Discord guild channels to Matrix rooms in both directions. Discord
// users appear as Matrix ghosts; Matrix users reach Discord through
// their own puppet account, a channel webhook, or a bridge embed.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/util/exerrors"
	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-discord-bridge/pkg/bridge"
	"github.com/aiku/matrix-discord-bridge/pkg/presence"
	"github.com/aiku/matrix-discord-bridge/pkg/store"
	"github.com/aiku/matrix-discord-bridge/pkg/worker"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg := exerrors.Must(bridge.LoadConfig(*configPath))
	log := *exerrors.Must(cfg.Logging.Compile())
	log.Info().
		Str("tag", Tag).
		Str("commit", Commit).
		Str("built_at", BuildTime).
		Msg("Starting matrix-discord-bridge")

	db := exerrors.Must(sqlx.Open("sqlite3", cfg.DatabasePath))
	defer db.Close()
	mappings := exerrors.Must(store.NewMappings(db))

	as := appservice.Create()
	as.Registration = exerrors.Must(appservice.LoadRegistration(cfg.RegistrationPath))
	as.HomeserverDomain = cfg.HomeserverDomain
	exerrors.PanicIfNotNil(as.SetHomeserverURL(cfg.HomeserverURL))
	as.Host = appservice.HostConfig{Hostname: cfg.AppserviceHost, Port: cfg.AppservicePort}
	as.Log = log.With().Str("component", "appservice").Logger()
	identity := &bridge.ASIdentityProvider{AS: as}

	session := exerrors.Must(discordgo.New("Bot " + cfg.DiscordToken))
	session.Identify.Intents = discordgo.IntentsAll
	session.StateEnabled = true

	b := bridge.New(cfg, log, mappings, identity, session)
	b.WireMembers(&bridge.StateMemberSource{Session: session})
	for _, pc := range cfg.Puppets {
		puppetSession, err := discordgo.New(pc.Token)
		if err != nil {
			log.Error().Err(err).Str("mxid", pc.MXID).Msg("Skipping puppet with invalid token")
			continue
		}
		puppet := &bridge.Puppet{MXID: id.UserID(pc.MXID), Session: puppetSession}
		if self, err := puppetSession.User("@me"); err != nil {
			log.Warn().Err(err).Str("mxid", pc.MXID).Msg("Failed to look up puppet's Discord user, its echoes won't be suppressed")
		} else {
			puppet.UserID = self.ID
		}
		b.AddPuppet(puppet)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b.RegisterHandlers(session)

	ep := appservice.NewEventProcessor(as)
	ep.On(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		b.HandleMatrixEvent(ctx, evt)
	})
	ep.On(event.EphemeralEventTyping, func(ctx context.Context, evt *event.Event) {
		b.HandleMatrixTyping(ctx, evt)
	})

	go as.Start()
	go ep.Start(ctx)
	b.Start()
	exerrors.PanicIfNotNil(session.Open())

	selfID := ""
	if session.State != nil && session.State.User != nil {
		selfID = session.State.User.ID
	}
	b.SetSelfID(selfID)

	queue := presence.NewQueue(&bridge.StatePresenceSource{Session: session}, b, selfID, log)
	if cfg.IsolateGuildClient {
		// Guild client requests cross into the orchestrator through
		// the worker boundary instead of direct calls.
		w := worker.New(workerHandler{b: b, queue: queue}, log)
		go w.Run(ctx)
		proxy := w.Proxy()
		b.WireGhostSender(proxy)
		b.WirePresence(proxy)
	} else {
		b.WirePresence(queue)
	}
	queue.Start(millis(cfg.PresenceInterval))

	adminSrv := &http.Server{Addr: cfg.AdminAPIAddr, Handler: b.AdminRouter()}
	go func() {
		log.Info().Str("addr", cfg.AdminAPIAddr).Msg("Admin API listening")
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Admin API failed")
		}
	}()

	log.Info().Msg("Bridge running")
	<-ctx.Done()
	log.Info().Msg("Shutting down")

	_ = adminSrv.Shutdown(context.Background())
	queue.Stop()
	_ = session.Close()
	ep.Stop()
	as.Stop()
	b.Stop()
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// workerHandler adapts the bridge and presence queue to the worker's
// handler surface.
type workerHandler struct {
	b     *bridge.Bridge
	queue *presence.Queue
}

func (h workerHandler) SendAsGhost(ctx context.Context, userID string, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	return h.b.SendAsGhost(ctx, userID, roomID, content)
}

func (h workerHandler) EnqueuePresence(userID, username string) {
	h.queue.EnqueueUser(userID, username)
}

func (h workerHandler) DequeuePresence(userID string) {
	h.queue.DequeueUser(userID)
}
