package bridge

import (
	"context"
	"fmt"
	"log"
	"time"

	"jellybridge/internal/hub"
)

const (
	probeInterval = 30 * time.Second
	probeBackoff  = 60 * time.Second
)

// Run supervises the server connection until ctx is canceled: every probe
// interval it verifies the connection is healthy and rebuilds entities when
// it is not. A failed cycle backs off before retrying.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	b.baseCtx = ctx
	b.mu.Unlock()

	timer := time.NewTimer(probeInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Shutdown()
			return nil
		case <-timer.C:
		}
		delay := probeInterval
		if err := b.probe(ctx); err != nil {
			log.Printf("bridge: connection probe: %v", err)
			delay = probeBackoff
		}
		timer.Reset(delay)
	}
}

func (b *Bridge) probe(ctx context.Context) error {
	configured, err := b.store.IsConfigured()
	if err != nil {
		return err
	}
	if !configured {
		return nil
	}

	client := b.currentClient()
	if client == nil || !client.Connected() {
		b.hub.SetDeviceState(hub.DeviceConnecting)
		return b.InitializeEntities(ctx)
	}

	if _, err := client.GetServerInfo(ctx); err == nil {
		return nil
	}

	// Reconnect the shared client in place. Entities keep their monitors
	// and hub registrations; a rebuild would drop live subscriptions.
	log.Printf("bridge: server unreachable, reconnecting")
	b.hub.SetDeviceState(hub.DeviceConnecting)
	if err := client.Connect(ctx); err != nil {
		b.hub.SetDeviceState(hub.DeviceError)
		return fmt.Errorf("reconnecting to %s: %w", client.Host(), err)
	}
	if b.playerCount() == 0 {
		return b.InitializeEntities(ctx)
	}
	b.hub.SetDeviceState(hub.DeviceConnected)
	return nil
}

func (b *Bridge) playerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.players)
}

// Shutdown stops monitors and logs out of the server. Idempotent.
func (b *Bridge) Shutdown() {
	b.initMu.Lock()
	defer b.initMu.Unlock()
	b.teardown()
	b.hub.SetDeviceState(hub.DeviceDisconnected)
}
