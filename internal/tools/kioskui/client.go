package kioskui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// State is the kiosk payload served to displays authenticated by PIN.
type State struct {
	Tablet  *TabletInfo  `json:"tablet"`
	Session *SessionInfo `json:"session"`
}

type TabletInfo struct {
	ID           string `json:"id"`
	BuildingName string `json:"building_name"`
	RoomName     string `json:"room_name"`
}

type SessionInfo struct {
	ID            string `json:"id"`
	Discipline    string `json:"discipline"`
	TeacherName   string `json:"teacher_name"`
	RotateSeconds int    `json:"rotate_seconds"`
	QRSecret      string `json:"qr_secret"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client polls the backend for the tablet's current state.
type Client struct {
	baseURL    string
	displayPIN string
	http       *http.Client
}

func NewClient(baseURL, displayPIN string) *Client {
	return &Client{
		baseURL:    baseURL,
		displayPIN: displayPIN,
		http:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Fetch(ctx context.Context) (*State, error) {
	endpoint := fmt.Sprintf("%s/api/v1/tablets/current?display_pin=%s", c.baseURL, url.QueryEscape(c.displayPIN))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode kiosk state: %w", err)
	}
	if !env.Success {
		if env.Error != nil {
			return nil, fmt.Errorf("backend refused: %s (%s)", env.Error.Message, env.Error.Code)
		}
		return nil, fmt.Errorf("backend refused with status %d", resp.StatusCode)
	}
	var state State
	if err := json.Unmarshal(env.Data, &state); err != nil {
		return nil, fmt.Errorf("decode kiosk state: %w", err)
	}
	return &state, nil
}
