// Package hub implements the websocket integration API spoken by the remote
// hub, plus the entity contract integrations expose through it.
package hub

import "context"

// DeviceState is the coarse connectivity health reported to the hub.
type DeviceState string

const (
	DeviceDisconnected DeviceState = "DISCONNECTED"
	DeviceConnecting   DeviceState = "CONNECTING"
	DeviceConnected    DeviceState = "CONNECTED"
	DeviceError        DeviceState = "ERROR"
)

// StatusCode is the result of an entity command.
type StatusCode int

const (
	StatusOK                 StatusCode = 200
	StatusBadRequest         StatusCode = 400
	StatusNotFound           StatusCode = 404
	StatusServerError        StatusCode = 500
	StatusNotImplemented     StatusCode = 501
	StatusServiceUnavailable StatusCode = 503
)

// Command identifiers for media player entities.
type Command string

const (
	CmdPlayPause   Command = "play_pause"
	CmdStop        Command = "stop"
	CmdNext        Command = "next"
	CmdPrevious    Command = "previous"
	CmdVolume      Command = "volume"
	CmdVolumeUp    Command = "volume_up"
	CmdVolumeDown  Command = "volume_down"
	CmdMuteToggle  Command = "mute_toggle"
	CmdSeek        Command = "seek"
	CmdFastForward Command = "fast_forward"
	CmdRewind      Command = "rewind"
	CmdRepeat      Command = "repeat"
	CmdShuffle     Command = "shuffle"
)

// Feature flags a media player entity declares to the hub.
type Feature string

const (
	FeaturePlayPause     Feature = "play_pause"
	FeatureStop          Feature = "stop"
	FeatureNext          Feature = "next"
	FeaturePrevious      Feature = "previous"
	FeatureVolume        Feature = "volume"
	FeatureVolumeUpDown  Feature = "volume_up_down"
	FeatureMuteToggle    Feature = "mute_toggle"
	FeatureSeek          Feature = "seek"
	FeatureFastForward   Feature = "fast_forward"
	FeatureRewind        Feature = "rewind"
	FeatureMediaTitle    Feature = "media_title"
	FeatureMediaArtist   Feature = "media_artist"
	FeatureMediaAlbum    Feature = "media_album"
	FeatureMediaImageURL Feature = "media_image_url"
	FeatureMediaPosition Feature = "media_position"
	FeatureMediaDuration Feature = "media_duration"
)

// PlayerState is the media player state attribute.
type PlayerState string

const (
	StateUnknown     PlayerState = "UNKNOWN"
	StateOff         PlayerState = "OFF"
	StateOn          PlayerState = "ON"
	StatePlaying     PlayerState = "PLAYING"
	StatePaused      PlayerState = "PAUSED"
	StateUnavailable PlayerState = "UNAVAILABLE"
)

// RepeatMode attribute values.
type RepeatMode string

const (
	RepeatOff RepeatMode = "OFF"
	RepeatAll RepeatMode = "ALL"
	RepeatOne RepeatMode = "ONE"
)

// Media player attribute keys.
const (
	AttrState         = "state"
	AttrVolume        = "volume"
	AttrMuted         = "muted"
	AttrMediaPosition = "media_position"
	AttrMediaDuration = "media_duration"
	AttrMediaTitle    = "media_title"
	AttrMediaArtist   = "media_artist"
	AttrMediaAlbum    = "media_album"
	AttrMediaImageURL = "media_image_url"
	AttrRepeat        = "repeat"
	AttrShuffle       = "shuffle"
)

// Entity is a controllable entity exposed to the hub.
type Entity interface {
	ID() string
	Name() string
	Features() []Feature
	Attributes() map[string]any
	HandleCommand(ctx context.Context, cmd Command, params map[string]any) StatusCode
}

// SetupErrorReason classifies a failed driver setup.
type SetupErrorReason string

const (
	SetupErrorOther             SetupErrorReason = "OTHER"
	SetupErrorConnectionRefused SetupErrorReason = "CONNECTION_REFUSED"
	SetupErrorAuthorization     SetupErrorReason = "AUTHORIZATION_ERROR"
)

// SetupResult is the outcome of a setup_driver request.
type SetupResult struct {
	Complete bool
	Reason   SetupErrorReason
}

func SetupComplete() SetupResult {
	return SetupResult{Complete: true}
}

func SetupError(reason SetupErrorReason) SetupResult {
	return SetupResult{Reason: reason}
}

// Listener receives hub lifecycle events. All callbacks run on connection
// goroutines and must be safe for concurrent use.
type Listener interface {
	HandleConnect(ctx context.Context)
	HandleDisconnect(ctx context.Context)
	HandleSubscribe(ctx context.Context, entityIDs []string)
	HandleUnsubscribe(ctx context.Context, entityIDs []string)
	HandleSetup(ctx context.Context, setupData map[string]string) SetupResult
}
