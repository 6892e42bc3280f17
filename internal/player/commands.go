package player

import (
	"context"
	"log"
	"time"

	"jellybridge/internal/hub"
	"jellybridge/internal/jellyfin"
)

// HandleCommand executes a remote command against the backing session.
// Successful commands wait a short settle period and refresh attributes so
// the remote sees the effect without waiting for the next poll.
func (p *Player) HandleCommand(ctx context.Context, cmd hub.Command, params map[string]any) hub.StatusCode {
	if !p.client.Connected() {
		return hub.StatusServiceUnavailable
	}

	var err error
	switch cmd {
	case hub.CmdPlayPause:
		err = p.client.PlayPause(ctx, p.sessionID)
	case hub.CmdStop:
		err = p.client.Stop(ctx, p.sessionID)
	case hub.CmdNext:
		err = p.client.NextTrack(ctx, p.sessionID)
	case hub.CmdPrevious:
		err = p.client.PreviousTrack(ctx, p.sessionID)
	case hub.CmdVolume:
		level, ok := floatParam(params, "volume")
		if !ok {
			return hub.StatusBadRequest
		}
		err = p.client.SetVolume(ctx, p.sessionID, int(level))
	case hub.CmdVolumeUp:
		err = p.client.VolumeUp(ctx, p.sessionID)
	case hub.CmdVolumeDown:
		err = p.client.VolumeDown(ctx, p.sessionID)
	case hub.CmdMuteToggle:
		err = p.client.ToggleMute(ctx, p.sessionID)
	case hub.CmdSeek:
		seconds, ok := floatParam(params, "media_position")
		if !ok {
			return hub.StatusBadRequest
		}
		err = p.client.Seek(ctx, p.sessionID, jellyfin.SecondsToTicks(seconds))
	case hub.CmdFastForward:
		err = p.seekRelative(ctx, seekStepSeconds)
	case hub.CmdRewind:
		err = p.seekRelative(ctx, -seekStepSeconds)
	case hub.CmdRepeat:
		mode, _ := params["repeat"].(string)
		err = p.client.SetRepeatMode(ctx, p.sessionID, repeatModeFor(mode))
	case hub.CmdShuffle:
		shuffled, _ := params["shuffle"].(bool)
		err = p.client.SetShuffle(ctx, p.sessionID, shuffled)
	default:
		return hub.StatusNotImplemented
	}

	if err != nil {
		log.Printf("player %s: %s failed: %v", p.id, cmd, err)
		return hub.StatusServerError
	}

	select {
	case <-time.After(settleDelay):
	case <-ctx.Done():
		return hub.StatusOK
	}
	if err := p.Refresh(ctx); err != nil {
		log.Printf("player %s: post-command refresh: %v", p.id, err)
	}
	return hub.StatusOK
}

// seekRelative jumps from the cached position, clamped to the current item.
func (p *Player) seekRelative(ctx context.Context, deltaSeconds int) error {
	pos, duration := p.position()
	target := pos + deltaSeconds
	if target < 0 {
		target = 0
	}
	if target > duration {
		target = duration
	}
	return p.client.Seek(ctx, p.sessionID, jellyfin.SecondsToTicks(float64(target)))
}

func repeatModeFor(mode string) string {
	switch hub.RepeatMode(mode) {
	case hub.RepeatOne:
		return "RepeatOne"
	case hub.RepeatAll:
		return "RepeatAll"
	default:
		return "RepeatNone"
	}
}

func floatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
