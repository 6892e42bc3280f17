package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"jellybridge/internal/hub"
	"jellybridge/internal/jellyfin"
	"jellybridge/internal/store"
)

// HandleSetup validates credentials against the server, persists them and
// rebuilds entities. Credentials are only written after a successful probe
// connection.
func (b *Bridge) HandleSetup(ctx context.Context, data map[string]string) hub.SetupResult {
	host := strings.TrimSpace(data["host"])
	username := strings.TrimSpace(data["username"])
	password := strings.TrimSpace(data["password"])
	otp := strings.TrimSpace(data["otp"])

	if host == "" || username == "" || password == "" {
		return hub.SetupError(hub.SetupErrorOther)
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}

	probe := jellyfin.New(host, username, password, otp)
	if err := probe.Connect(ctx); err != nil {
		log.Printf("bridge: setup connection to %s failed: %v", host, err)
		if errors.Is(err, jellyfin.ErrAuthFailed) {
			return hub.SetupError(hub.SetupErrorAuthorization)
		}
		return hub.SetupError(hub.SetupErrorConnectionRefused)
	}
	defer probe.Disconnect()

	cfg := store.ServerConfig{
		Host:     host,
		Username: username,
		Password: password,
		ServerID: probe.ServerID(),
		UserID:   probe.UserID(),
	}
	if err := b.store.SetServerConfig(cfg); err != nil {
		log.Printf("bridge: persisting configuration: %v", err)
		return hub.SetupError(hub.SetupErrorOther)
	}

	if info, err := probe.GetServerInfo(ctx); err == nil {
		if raw, err := json.Marshal(info); err == nil {
			if err := b.store.SetServerInfo(string(raw)); err != nil {
				log.Printf("bridge: persisting server info: %v", err)
			}
		}
	}

	log.Printf("bridge: configured server %s for user %s", host, username)
	if err := b.InitializeEntities(b.monitorCtx()); err != nil {
		// Setup already validated the credentials; entity discovery
		// is retried by the supervisor.
		log.Printf("bridge: post-setup initialization: %v", err)
	}
	return hub.SetupComplete()
}
