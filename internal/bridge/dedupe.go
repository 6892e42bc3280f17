package bridge

import "jellybridge/internal/jellyfin"

type deviceKey struct {
	client string
	device string
}

// DedupeSessions keeps the first active session for each (client, device)
// pair, preserving input order. Jellyfin lists one session per open app
// view, so a single device can report the same playback several times.
func DedupeSessions(sessions []jellyfin.Session) []jellyfin.Session {
	seen := make(map[deviceKey]bool, len(sessions))
	out := make([]jellyfin.Session, 0, len(sessions))
	for _, s := range sessions {
		if !s.IsActive {
			continue
		}
		key := deviceKey{client: s.Client, device: s.DeviceName}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
