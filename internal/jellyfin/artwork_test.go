package jellyfin

import (
	"net/http"
	"strings"
	"testing"
)

func TestPickArtworkEpisodePrecedence(t *testing.T) {
	full := &NowPlayingItem{
		ID:                      "ep1",
		Type:                    "Episode",
		SeriesID:                "series1",
		SeasonID:                "season1",
		SeriesBackdropImageTags: []string{"t1"},
		BackdropImageTags:       []string{"t2"},
		SeriesPrimaryImageTag:   "t3",
		ImageTags:               map[string]string{"Primary": "t4"},
	}

	tests := []struct {
		name     string
		mutate   func(*NowPlayingItem)
		wantID   string
		wantType string
	}{
		{"series backdrop wins", func(i *NowPlayingItem) {}, "series1", "Backdrop"},
		{"episode backdrop next", func(i *NowPlayingItem) {
			i.SeriesBackdropImageTags = nil
		}, "ep1", "Backdrop"},
		{"series primary next", func(i *NowPlayingItem) {
			i.SeriesBackdropImageTags = nil
			i.BackdropImageTags = nil
		}, "series1", "Primary"},
		{"season primary next", func(i *NowPlayingItem) {
			i.SeriesBackdropImageTags = nil
			i.BackdropImageTags = nil
			i.SeriesPrimaryImageTag = ""
		}, "season1", "Primary"},
		{"episode primary last", func(i *NowPlayingItem) {
			i.SeriesBackdropImageTags = nil
			i.BackdropImageTags = nil
			i.SeriesPrimaryImageTag = ""
			i.SeasonID = ""
		}, "ep1", "Primary"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := *full
			item.ImageTags = map[string]string{"Primary": "t4"}
			tt.mutate(&item)
			id, imageType := pickArtwork(&item)
			if id != tt.wantID || imageType != tt.wantType {
				t.Errorf("pickArtwork = (%s, %s), want (%s, %s)", id, imageType, tt.wantID, tt.wantType)
			}
		})
	}
}

func TestPickArtworkSeriesBackdropBeatsEpisodePrimary(t *testing.T) {
	item := &NowPlayingItem{
		ID:                      "ep1",
		Type:                    "Episode",
		SeriesID:                "series1",
		SeriesBackdropImageTags: []string{"tag"},
		ImageTags:               map[string]string{"Primary": "tag"},
	}
	id, imageType := pickArtwork(item)
	if id != "series1" || imageType != "Backdrop" {
		t.Errorf("got (%s, %s), want series backdrop", id, imageType)
	}
}

func TestPickArtworkMovie(t *testing.T) {
	item := &NowPlayingItem{
		ID:                "m1",
		Type:              "Movie",
		BackdropImageTags: []string{"tag"},
		ImageTags:         map[string]string{"Primary": "tag"},
	}
	id, imageType := pickArtwork(item)
	if id != "m1" || imageType != "Backdrop" {
		t.Errorf("got (%s, %s), want item backdrop", id, imageType)
	}

	item.BackdropImageTags = nil
	id, imageType = pickArtwork(item)
	if id != "m1" || imageType != "Primary" {
		t.Errorf("got (%s, %s), want item primary", id, imageType)
	}
}

func TestPickArtworkNone(t *testing.T) {
	id, _ := pickArtwork(&NowPlayingItem{ID: "m1", Type: "Movie"})
	if id != "" {
		t.Errorf("expected no artwork, got %s", id)
	}
	id, _ = pickArtwork(&NowPlayingItem{ID: "ep1", Type: "Episode"})
	if id != "" {
		t.Errorf("expected no artwork for bare episode, got %s", id)
	}
}

func TestArtworkURL(t *testing.T) {
	c, _ := newConnectedClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	item := &NowPlayingItem{ID: "m1", Type: "Movie", ImageTags: map[string]string{"Primary": "tag"}}
	u := c.ArtworkURL(item, 600)
	if !strings.Contains(u, "/Items/m1/Images/Primary") {
		t.Errorf("url = %q, want primary image path", u)
	}
	if !strings.Contains(u, "MaxWidth=600") {
		t.Errorf("url = %q, want MaxWidth=600", u)
	}

	if got := c.ArtworkURL(&NowPlayingItem{ID: "m1", Type: "Movie"}, 600); got != "" {
		t.Errorf("url for artless item = %q, want empty", got)
	}
	if got := c.ArtworkURL(nil, 600); got != "" {
		t.Errorf("url for nil item = %q, want empty", got)
	}
}

func TestArtworkURLRequiresConnection(t *testing.T) {
	c := New("http://jf.local", "alice", "pw", "")
	item := &NowPlayingItem{ID: "m1", Type: "Movie", ImageTags: map[string]string{"Primary": "tag"}}
	if got := c.ArtworkURL(item, 600); got != "" {
		t.Errorf("url = %q, want empty when not connected", got)
	}
}

func TestTickConversion(t *testing.T) {
	for _, seconds := range []int{0, 1, 30, 125, 7200} {
		ticks := SecondsToTicks(float64(seconds))
		if got := TicksToSeconds(ticks); got != seconds {
			t.Errorf("round trip %d -> %d -> %d", seconds, ticks, got)
		}
	}

	if got := SecondsToTicks(125.5); got != 1255000000 {
		t.Errorf("SecondsToTicks(125.5) = %d, want 1255000000", got)
	}
	if got := TicksToSeconds(1255000000); got != 125 {
		t.Errorf("TicksToSeconds floors to %d, want 125", got)
	}
}
