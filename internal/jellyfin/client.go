package jellyfin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrAuthFailed   = errors.New("authentication failed")
)

const (
	appName    = "Jellybridge"
	appVersion = "1.0.0"
	deviceID   = "jellybridge-integration"
)

// Client is the process-wide Jellyfin connection shared by every entity.
// At most one authenticated session exists at a time; Connect replaces the
// previous credentials in place.
type Client struct {
	host     string
	username string
	password string
	otp      string

	http    *http.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	token    string
	userID   string
	serverID string
}

func New(host, username, password, otp string) *Client {
	return &Client{
		host:     strings.TrimRight(host, "/"),
		username: username,
		password: password,
		otp:      otp,
		http:     &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(10, 5),
	}
}

// Connect authenticates against /Users/AuthenticateByName. A 401 maps to
// ErrAuthFailed; any other failure is a transport error.
func (c *Client) Connect(ctx context.Context) error {
	// 2FA plugins accept the one-time code appended to the password.
	pw := c.password
	if c.otp != "" {
		pw += c.otp
	}

	body, err := json.Marshal(map[string]string{
		"Username": c.username,
		"Pw":       pw,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/Users/AuthenticateByName", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authHeader())

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.host, err)
	}
	defer drainBody(resp)

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authenticate returned status %d", resp.StatusCode)
	}

	var auth struct {
		User struct {
			ID   string `json:"Id"`
			Name string `json:"Name"`
		} `json:"User"`
		AccessToken string `json:"AccessToken"`
		ServerID    string `json:"ServerId"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&auth); err != nil {
		return fmt.Errorf("parsing auth response: %w", err)
	}
	if auth.AccessToken == "" {
		return ErrAuthFailed
	}

	c.mu.Lock()
	c.token = auth.AccessToken
	c.userID = auth.User.ID
	c.serverID = auth.ServerID
	c.mu.Unlock()

	log.Printf("jellyfin: authenticated %s against %s", c.username, c.host)
	return nil
}

// Disconnect drops the session. The logout call is best effort.
func (c *Client) Disconnect() {
	c.mu.Lock()
	token := c.token
	c.token = ""
	c.userID = ""
	c.mu.Unlock()

	if token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/Sessions/Logout", nil)
	if err != nil {
		return
	}
	req.Header.Set("X-Emby-Token", token)
	resp, err := c.http.Do(req)
	if err != nil {
		return
	}
	drainBody(resp)
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) ServerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverID
}

func (c *Client) Host() string { return c.host }

// GetServerInfo queries /System/Info. Used as the reachability probe by the
// connection supervisor.
func (c *Client) GetServerInfo(ctx context.Context) (*SystemInfo, error) {
	body, err := c.get(ctx, "/System/Info", nil)
	if err != nil {
		return nil, err
	}
	var info SystemInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parsing system info: %w", err)
	}
	return &info, nil
}

// MySessions returns the server's sessions restricted to the authenticated
// identity: by user id, falling back to username matching when the id filter
// yields nothing (some servers omit UserId on session records).
func (c *Client) MySessions(ctx context.Context) ([]Session, error) {
	body, err := c.get(ctx, "/Sessions", nil)
	if err != nil {
		return nil, err
	}
	var all []Session
	if err := json.Unmarshal(body, &all); err != nil {
		return nil, fmt.Errorf("parsing sessions: %w", err)
	}

	userID := c.UserID()
	var mine []Session
	if userID != "" {
		for _, s := range all {
			if s.UserID == userID {
				mine = append(mine, s)
			}
		}
	}
	if len(mine) == 0 && c.username != "" {
		for _, s := range all {
			if s.UserName == c.username {
				mine = append(mine, s)
			}
		}
	}
	return mine, nil
}

// Playback directives. POST /Sessions/{id}/Playing/{command}.

func (c *Client) PlayPause(ctx context.Context, sessionID string) error {
	return c.playingCommand(ctx, sessionID, "PlayPause", nil)
}

func (c *Client) Play(ctx context.Context, sessionID string) error {
	return c.playingCommand(ctx, sessionID, "Unpause", nil)
}

func (c *Client) Pause(ctx context.Context, sessionID string) error {
	return c.playingCommand(ctx, sessionID, "Pause", nil)
}

func (c *Client) Stop(ctx context.Context, sessionID string) error {
	return c.playingCommand(ctx, sessionID, "Stop", nil)
}

func (c *Client) NextTrack(ctx context.Context, sessionID string) error {
	return c.playingCommand(ctx, sessionID, "NextTrack", nil)
}

func (c *Client) PreviousTrack(ctx context.Context, sessionID string) error {
	return c.playingCommand(ctx, sessionID, "PreviousTrack", nil)
}

func (c *Client) Seek(ctx context.Context, sessionID string, positionTicks int64) error {
	q := url.Values{"SeekPositionTicks": {strconv.FormatInt(positionTicks, 10)}}
	return c.playingCommand(ctx, sessionID, "Seek", q)
}

// General commands. POST /Sessions/{id}/Command.

func (c *Client) SetVolume(ctx context.Context, sessionID string, level int) error {
	return c.generalCommand(ctx, sessionID, "SetVolume", map[string]string{"Volume": strconv.Itoa(level)})
}

func (c *Client) VolumeUp(ctx context.Context, sessionID string) error {
	return c.generalCommand(ctx, sessionID, "VolumeUp", nil)
}

func (c *Client) VolumeDown(ctx context.Context, sessionID string) error {
	return c.generalCommand(ctx, sessionID, "VolumeDown", nil)
}

func (c *Client) ToggleMute(ctx context.Context, sessionID string) error {
	return c.generalCommand(ctx, sessionID, "ToggleMute", nil)
}

func (c *Client) Mute(ctx context.Context, sessionID string) error {
	return c.generalCommand(ctx, sessionID, "Mute", nil)
}

func (c *Client) Unmute(ctx context.Context, sessionID string) error {
	return c.generalCommand(ctx, sessionID, "Unmute", nil)
}

// SetRepeatMode accepts the server tokens RepeatNone, RepeatOne, RepeatAll.
func (c *Client) SetRepeatMode(ctx context.Context, sessionID, mode string) error {
	return c.generalCommand(ctx, sessionID, "SetRepeatMode", map[string]string{"RepeatMode": mode})
}

// SetShuffle maps to the SetShuffleQueue command with mode Shuffled or Sorted.
func (c *Client) SetShuffle(ctx context.Context, sessionID string, shuffled bool) error {
	mode := "Sorted"
	if shuffled {
		mode = "Shuffled"
	}
	return c.generalCommand(ctx, sessionID, "SetShuffleQueue", map[string]string{"ShuffleMode": mode})
}

func (c *Client) playingCommand(ctx context.Context, sessionID, command string, query url.Values) error {
	path := "/Sessions/" + url.PathEscape(sessionID) + "/Playing/" + command
	return c.post(ctx, path, query, nil)
}

func (c *Client) generalCommand(ctx context.Context, sessionID, name string, args map[string]string) error {
	path := "/Sessions/" + url.PathEscape(sessionID) + "/Command"
	payload := struct {
		Name      string            `json:"Name"`
		Arguments map[string]string `json:"Arguments,omitempty"`
	}{Name: name, Arguments: args}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.post(ctx, path, nil, body)
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	defer drainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}

func (c *Client) post(ctx context.Context, path string, query url.Values, body []byte) error {
	resp, err := c.do(ctx, http.MethodPost, path, query, body)
	if err != nil {
		return err
	}
	defer drainBody(resp)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		return nil, ErrNotConnected
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	u := c.host + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Emby-Token", token)
	return c.http.Do(req)
}

func authHeader() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "jellybridge"
	}
	return fmt.Sprintf(`MediaBrowser Client="%s", Device="%s", DeviceId="%s", Version="%s"`,
		appName, host, deviceID, appVersion)
}

func drainBody(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
