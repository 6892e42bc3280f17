// Package bridge connects a Jellyfin server to the hub integration server:
// it discovers playback sessions, exposes them as media player entities and
// supervises the server connection.
package bridge

import (
	"context"
	"fmt"
	"log"
	"sync"

	"jellybridge/internal/hub"
	"jellybridge/internal/jellyfin"
	"jellybridge/internal/player"
	"jellybridge/internal/store"
)

type Bridge struct {
	hub   *hub.Server
	store *store.Store

	// initMu serializes entity re-initialization; mu guards the fields.
	initMu  sync.Mutex
	mu      sync.Mutex
	client  *jellyfin.Client
	players map[string]*player.Player
	baseCtx context.Context
}

func New(hubServer *hub.Server, st *store.Store) *Bridge {
	return &Bridge{
		hub:     hubServer,
		store:   st,
		players: make(map[string]*player.Player),
		baseCtx: context.Background(),
	}
}

func (b *Bridge) currentClient() *jellyfin.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client
}

func (b *Bridge) monitorCtx() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.baseCtx
}

// HandleConnect runs when a remote connects. A live server connection with
// entities already built is reused as-is; otherwise entities are rebuilt
// from scratch.
func (b *Bridge) HandleConnect(ctx context.Context) {
	configured, err := b.store.IsConfigured()
	if err != nil {
		log.Printf("bridge: reading configuration: %v", err)
		b.hub.SetDeviceState(hub.DeviceError)
		return
	}
	if !configured {
		b.hub.SetDeviceState(hub.DeviceDisconnected)
		return
	}

	b.mu.Lock()
	alive := b.client != nil && b.client.Connected() && len(b.players) > 0
	b.mu.Unlock()
	if alive {
		b.hub.SetDeviceState(hub.DeviceConnected)
		return
	}

	if err := b.InitializeEntities(b.monitorCtx()); err != nil {
		log.Printf("bridge: initializing entities: %v", err)
	}
}

func (b *Bridge) HandleDisconnect(ctx context.Context) {
	// Session monitoring continues; other remotes may still be attached.
	log.Print("bridge: remote disconnected")
}

// HandleSubscribe refreshes each newly configured entity, pushes its current
// attributes and starts monitoring, so the remote never sees state older
// than the subscription.
func (b *Bridge) HandleSubscribe(ctx context.Context, entityIDs []string) {
	for _, id := range entityIDs {
		b.mu.Lock()
		p, ok := b.players[id]
		base := b.baseCtx
		b.mu.Unlock()
		if !ok {
			continue
		}
		if err := p.Refresh(ctx); err != nil {
			log.Printf("bridge: refreshing %s: %v", id, err)
		}
		b.hub.UpdateAttributes(id, p.Attributes())
		p.Start(base)
	}
}

// HandleUnsubscribe stops monitoring; the entity stays registered and can be
// subscribed again.
func (b *Bridge) HandleUnsubscribe(ctx context.Context, entityIDs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range entityIDs {
		if p, ok := b.players[id]; ok {
			p.Stop()
		}
	}
}

// InitializeEntities tears down every existing entity and rebuilds the set
// from the server's current session list. Destructive and idempotent:
// calling it twice yields the same entities with fresh monitors.
func (b *Bridge) InitializeEntities(ctx context.Context) error {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	b.hub.SetDeviceState(hub.DeviceConnecting)
	b.teardown()

	cfg, err := b.store.GetServerConfig()
	if err != nil {
		b.hub.SetDeviceState(hub.DeviceError)
		return fmt.Errorf("loading server config: %w", err)
	}

	client := jellyfin.New(cfg.Host, cfg.Username, cfg.Password, "")
	if err := client.Connect(ctx); err != nil {
		b.hub.SetDeviceState(hub.DeviceError)
		return fmt.Errorf("connecting to %s: %w", cfg.Host, err)
	}

	serverID := client.ServerID()
	if serverID == "" {
		serverID = cfg.ServerID
	}

	sessions := b.listSessions(ctx, client)
	deduped := DedupeSessions(sessions)

	b.mu.Lock()
	b.client = client
	for _, sess := range deduped {
		p := player.New(serverID, sess, client, b.hub)
		b.players[p.ID()] = p
		b.hub.AddAvailableEntity(p)
	}
	count := len(b.players)
	b.mu.Unlock()

	log.Printf("bridge: exposing %d media player entities from %d sessions", count, len(sessions))
	b.hub.SetDeviceState(hub.DeviceConnected)
	return nil
}

// listSessions is fail-soft: a listing error yields an empty set rather
// than aborting initialization.
func (b *Bridge) listSessions(ctx context.Context, client *jellyfin.Client) []jellyfin.Session {
	sessions, err := client.MySessions(ctx)
	if err != nil {
		log.Printf("bridge: listing sessions: %v", err)
		return nil
	}
	return sessions
}

// teardown stops all monitors and clears registries. Callers hold initMu.
func (b *Bridge) teardown() {
	b.mu.Lock()
	players := b.players
	client := b.client
	b.players = make(map[string]*player.Player)
	b.client = nil
	b.mu.Unlock()

	for _, p := range players {
		p.Stop()
	}
	b.hub.ClearAvailableEntities()
	if client != nil {
		client.Disconnect()
	}
}
