package kiosk

import (
	"context"
	"time"

	"github.com/polytech-platform/traffic-attendance-service/internal/security"
)

// Frame is one rotation's worth of display state. The kiosk renders the
// token as a QR code and schedules its next repaint at ExpiresAt.
type Frame struct {
	SessionID string        `json:"session_id"`
	Token     string        `json:"token"`
	Window    int64         `json:"window"`
	ExpiresIn time.Duration `json:"expires_in"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Generator derives rotating proof tokens for one session entirely offline.
// It holds the per-session secret handed over when the kiosk fetched the
// session, so rotation needs no backend round trips.
type Generator struct {
	sessionID     string
	secret        string
	rotateSeconds int
	now           func() time.Time
}

func NewGenerator(sessionID, secret string, rotateSeconds int) *Generator {
	if rotateSeconds <= 0 {
		rotateSeconds = 1
	}
	return &Generator{
		sessionID:     sessionID,
		secret:        secret,
		rotateSeconds: rotateSeconds,
		now:           time.Now,
	}
}

// Current returns the frame for this instant.
func (g *Generator) Current() Frame {
	now := g.now()
	window := security.QRWindow(now, g.rotateSeconds)
	remaining := security.NextQRRotation(now, g.rotateSeconds)
	return Frame{
		SessionID: g.sessionID,
		Token:     security.ComputeQRToken(g.secret, g.sessionID, window),
		Window:    window,
		ExpiresIn: remaining,
		ExpiresAt: now.Add(remaining),
	}
}

// Run emits the current frame immediately and then a fresh frame at every
// window boundary until the context ends. The timer is re-armed from the
// wall clock each cycle, so frames stay aligned to boundaries instead of
// drifting with timer latency.
func (g *Generator) Run(ctx context.Context, out chan<- Frame) error {
	for {
		frame := g.Current()
		select {
		case out <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}

		timer := time.NewTimer(security.NextQRRotation(g.now(), g.rotateSeconds))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
