package jellyfin

// TicksPerSecond is the Jellyfin time unit: 100-nanosecond ticks.
const TicksPerSecond = 10_000_000

func TicksToSeconds(ticks int64) int {
	return int(ticks / TicksPerSecond)
}

func SecondsToTicks(seconds float64) int64 {
	return int64(seconds * TicksPerSecond)
}

// Session is a playback session as reported by GET /Sessions.
type Session struct {
	ID             string          `json:"Id"`
	UserID         string          `json:"UserId"`
	UserName       string          `json:"UserName"`
	Client         string          `json:"Client"`
	DeviceName     string          `json:"DeviceName"`
	IsActive       bool            `json:"IsActive"`
	PlayState      *PlayState      `json:"PlayState"`
	NowPlayingItem *NowPlayingItem `json:"NowPlayingItem"`
}

type PlayState struct {
	IsPaused      bool   `json:"IsPaused"`
	IsMuted       bool   `json:"IsMuted"`
	PositionTicks int64  `json:"PositionTicks"`
	VolumeLevel   *int   `json:"VolumeLevel"`
	RepeatMode    string `json:"RepeatMode"`
	ShuffleMode   string `json:"ShuffleMode"`
}

type NowPlayingItem struct {
	ID                      string            `json:"Id"`
	Name                    string            `json:"Name"`
	Type                    string            `json:"Type"`
	SeriesName              string            `json:"SeriesName"`
	SeasonName              string            `json:"SeasonName"`
	SeriesID                string            `json:"SeriesId"`
	SeasonID                string            `json:"SeasonId"`
	ParentIndexNumber       int               `json:"ParentIndexNumber"`
	IndexNumber             int               `json:"IndexNumber"`
	RunTimeTicks            int64             `json:"RunTimeTicks"`
	Artists                 []string          `json:"Artists"`
	Album                   string            `json:"Album"`
	ImageTags               map[string]string `json:"ImageTags"`
	BackdropImageTags       []string          `json:"BackdropImageTags"`
	SeriesPrimaryImageTag   string            `json:"SeriesPrimaryImageTag"`
	SeriesBackdropImageTags []string          `json:"SeriesBackdropImageTags"`
}

// SystemInfo is the authenticated /System/Info document.
type SystemInfo struct {
	ID              string `json:"Id"`
	ServerName      string `json:"ServerName"`
	Version         string `json:"Version"`
	OperatingSystem string `json:"OperatingSystem"`
}
