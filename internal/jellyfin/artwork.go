package jellyfin

import (
	"fmt"
	"net/url"
)

// DefaultArtworkWidth bounds artwork requested for hub display.
const DefaultArtworkWidth = 600

// ArtworkURL picks the best image for an item, preferring backdrops over
// primary images.
//
// Episodes: series backdrop > episode backdrop > series primary >
// season primary > episode primary. Everything else: item backdrop >
// item primary. Returns "" when no candidate image exists or the client is
// not authenticated.
func (c *Client) ArtworkURL(item *NowPlayingItem, maxWidth int) string {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" || item == nil {
		return ""
	}
	if maxWidth <= 0 {
		maxWidth = DefaultArtworkWidth
	}

	itemID, imageType := pickArtwork(item)
	if itemID == "" {
		return ""
	}

	q := url.Values{
		"MaxWidth": {fmt.Sprint(maxWidth)},
		"api_key":  {token},
	}
	return fmt.Sprintf("%s/Items/%s/Images/%s?%s", c.host, url.PathEscape(itemID), imageType, q.Encode())
}

func pickArtwork(item *NowPlayingItem) (itemID, imageType string) {
	if item.Type == "Episode" {
		switch {
		case item.SeriesID != "" && len(item.SeriesBackdropImageTags) > 0:
			return item.SeriesID, "Backdrop"
		case len(item.BackdropImageTags) > 0:
			return item.ID, "Backdrop"
		case item.SeriesID != "" && item.SeriesPrimaryImageTag != "":
			return item.SeriesID, "Primary"
		case item.SeasonID != "":
			return item.SeasonID, "Primary"
		case item.ImageTags["Primary"] != "":
			return item.ID, "Primary"
		}
		return "", ""
	}

	switch {
	case len(item.BackdropImageTags) > 0:
		return item.ID, "Backdrop"
	case item.ImageTags["Primary"] != "":
		return item.ID, "Primary"
	}
	return "", ""
}
