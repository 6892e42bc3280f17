// Package player maps one Jellyfin playback session onto a hub media player
// entity and keeps its attributes in sync with the server.
package player

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"jellybridge/internal/hub"
	"jellybridge/internal/jellyfin"
)

const (
	refreshInterval = 3 * time.Second
	errorBackoff    = 10 * time.Second
	settleDelay     = 500 * time.Millisecond
	seekStepSeconds = 30
)

// SessionClient is the slice of the media server client a player needs.
type SessionClient interface {
	Connected() bool
	MySessions(ctx context.Context) ([]jellyfin.Session, error)
	ArtworkURL(item *jellyfin.NowPlayingItem, maxWidth int) string
	PlayPause(ctx context.Context, sessionID string) error
	Play(ctx context.Context, sessionID string) error
	Pause(ctx context.Context, sessionID string) error
	Stop(ctx context.Context, sessionID string) error
	NextTrack(ctx context.Context, sessionID string) error
	PreviousTrack(ctx context.Context, sessionID string) error
	Seek(ctx context.Context, sessionID string, positionTicks int64) error
	SetVolume(ctx context.Context, sessionID string, level int) error
	VolumeUp(ctx context.Context, sessionID string) error
	VolumeDown(ctx context.Context, sessionID string) error
	ToggleMute(ctx context.Context, sessionID string) error
	SetRepeatMode(ctx context.Context, sessionID, mode string) error
	SetShuffle(ctx context.Context, sessionID string, shuffled bool) error
}

// AttributeSink receives attribute changes for push to connected remotes.
type AttributeSink interface {
	UpdateAttributes(entityID string, attrs map[string]any)
}

// Player is a media player entity backed by a single session. Safe for
// concurrent use; the monitor loop and command handlers share the cached
// attribute map.
type Player struct {
	id        string
	name      string
	sessionID string
	client    SessionClient
	sink      AttributeSink

	mu    sync.Mutex
	attrs map[string]any

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a player for a deduplicated session. The entity identifier is
// stable across re-initializations of the same server and session.
func New(serverID string, sess jellyfin.Session, client SessionClient, sink AttributeSink) *Player {
	p := &Player{
		id:        fmt.Sprintf("%s_media_player_%s", serverID, sess.ID),
		name:      displayName(sess),
		sessionID: sess.ID,
		client:    client,
		sink:      sink,
		attrs: map[string]any{
			hub.AttrState:         hub.StateOn,
			hub.AttrVolume:        100,
			hub.AttrMuted:         false,
			hub.AttrMediaPosition: 0,
			hub.AttrMediaDuration: 0,
			hub.AttrMediaTitle:    "",
			hub.AttrMediaArtist:   "",
			hub.AttrMediaAlbum:    "",
			hub.AttrMediaImageURL: "",
			hub.AttrRepeat:        hub.RepeatOff,
			hub.AttrShuffle:       false,
		},
	}
	p.applySession(&sess)
	return p
}

func displayName(sess jellyfin.Session) string {
	switch {
	case sess.Client == "" && sess.DeviceName == "":
		return "Jellyfin Session"
	case sess.Client == "":
		return sess.DeviceName
	case sess.DeviceName == "" || sess.DeviceName == sess.Client:
		return sess.Client
	default:
		return fmt.Sprintf("%s (%s)", sess.Client, sess.DeviceName)
	}
}

func (p *Player) ID() string   { return p.id }
func (p *Player) Name() string { return p.name }

func (p *Player) SessionID() string { return p.sessionID }

func (p *Player) Features() []hub.Feature {
	return []hub.Feature{
		hub.FeaturePlayPause,
		hub.FeatureStop,
		hub.FeatureNext,
		hub.FeaturePrevious,
		hub.FeatureVolume,
		hub.FeatureVolumeUpDown,
		hub.FeatureMuteToggle,
		hub.FeatureSeek,
		hub.FeatureFastForward,
		hub.FeatureRewind,
		hub.FeatureMediaTitle,
		hub.FeatureMediaArtist,
		hub.FeatureMediaAlbum,
		hub.FeatureMediaImageURL,
		hub.FeatureMediaPosition,
		hub.FeatureMediaDuration,
	}
}

func (p *Player) Attributes() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	attrs := make(map[string]any, len(p.attrs))
	for k, v := range p.attrs {
		attrs[k] = v
	}
	return attrs
}

// Start launches the monitor loop. The loop refreshes attributes every few
// seconds and backs off while the server is unreachable. No-op while a loop
// is already running; a stopped player can be started again.
func (p *Player) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.running = true
	go p.monitor(ctx)
}

// Stop cancels the monitor loop and waits for it to exit. Idempotent.
func (p *Player) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	cancel()
	<-done
}

func (p *Player) monitor(ctx context.Context) {
	defer close(p.done)
	timer := time.NewTimer(refreshInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		delay := refreshInterval
		if err := p.Refresh(ctx); err != nil {
			log.Printf("player %s: refresh failed: %v", p.id, err)
			delay = errorBackoff
		}
		timer.Reset(delay)
	}
}

// Refresh pulls the current sessions and re-derives attributes. A transport
// error marks the entity UNAVAILABLE; a session no longer listed marks it
// OFF with media fields blanked.
func (p *Player) Refresh(ctx context.Context) error {
	sessions, err := p.client.MySessions(ctx)
	if err != nil {
		p.update(map[string]any{hub.AttrState: hub.StateUnavailable})
		return err
	}
	for i := range sessions {
		if sessions[i].ID == p.sessionID {
			p.applySession(&sessions[i])
			return nil
		}
	}
	p.update(map[string]any{
		hub.AttrState:         hub.StateOff,
		hub.AttrMediaPosition: 0,
		hub.AttrMediaDuration: 0,
		hub.AttrMediaTitle:    "",
		hub.AttrMediaArtist:   "",
		hub.AttrMediaAlbum:    "",
		hub.AttrMediaImageURL: "",
	})
	return nil
}

func (p *Player) applySession(sess *jellyfin.Session) {
	attrs := map[string]any{
		hub.AttrState:         hub.StateOn,
		hub.AttrVolume:        100,
		hub.AttrMuted:         false,
		hub.AttrMediaPosition: 0,
		hub.AttrMediaDuration: 0,
		hub.AttrMediaTitle:    "",
		hub.AttrMediaArtist:   "",
		hub.AttrMediaAlbum:    "",
		hub.AttrMediaImageURL: "",
		hub.AttrRepeat:        hub.RepeatOff,
		hub.AttrShuffle:       false,
	}

	if ps := sess.PlayState; ps != nil {
		if ps.VolumeLevel != nil {
			attrs[hub.AttrVolume] = *ps.VolumeLevel
		}
		attrs[hub.AttrMuted] = ps.IsMuted
		attrs[hub.AttrMediaPosition] = jellyfin.TicksToSeconds(ps.PositionTicks)
		switch ps.RepeatMode {
		case "RepeatOne":
			attrs[hub.AttrRepeat] = hub.RepeatOne
		case "RepeatAll":
			attrs[hub.AttrRepeat] = hub.RepeatAll
		}
		attrs[hub.AttrShuffle] = ps.ShuffleMode != "" && ps.ShuffleMode != "Sorted"
	}

	// Paused wins even when the session reports no now-playing item.
	switch {
	case sess.PlayState != nil && sess.PlayState.IsPaused:
		attrs[hub.AttrState] = hub.StatePaused
	case sess.NowPlayingItem != nil:
		attrs[hub.AttrState] = hub.StatePlaying
	}

	if item := sess.NowPlayingItem; item != nil {
		attrs[hub.AttrMediaDuration] = jellyfin.TicksToSeconds(item.RunTimeTicks)
		attrs[hub.AttrMediaTitle] = item.Name
		attrs[hub.AttrMediaImageURL] = p.client.ArtworkURL(item, jellyfin.DefaultArtworkWidth)
		if item.Type == "Episode" {
			attrs[hub.AttrMediaArtist] = episodeArtist(item)
			attrs[hub.AttrMediaAlbum] = item.SeasonName
		} else {
			attrs[hub.AttrMediaArtist] = strings.Join(item.Artists, ", ")
			attrs[hub.AttrMediaAlbum] = item.Album
		}
	}

	p.update(attrs)
}

// episodeArtist names the series with a season/episode suffix when both
// numbers are known. Servers omit the index numbers on some items, leaving
// them zero.
func episodeArtist(item *jellyfin.NowPlayingItem) string {
	switch {
	case item.SeriesName != "" && item.ParentIndexNumber > 0 && item.IndexNumber > 0:
		return fmt.Sprintf("%s - S%dE%d", item.SeriesName, item.ParentIndexNumber, item.IndexNumber)
	case item.SeriesName != "":
		return item.SeriesName
	default:
		return "TV Show"
	}
}

// update merges attrs into the cache and pushes only the keys whose values
// actually changed.
func (p *Player) update(attrs map[string]any) {
	p.mu.Lock()
	changed := make(map[string]any)
	for k, v := range attrs {
		if p.attrs[k] != v {
			p.attrs[k] = v
			changed[k] = v
		}
	}
	p.mu.Unlock()
	if len(changed) > 0 && p.sink != nil {
		p.sink.UpdateAttributes(p.id, changed)
	}
}

func (p *Player) position() (pos, duration int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, _ = p.attrs[hub.AttrMediaPosition].(int)
	duration, _ = p.attrs[hub.AttrMediaDuration].(int)
	return pos, duration
}
