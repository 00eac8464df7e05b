package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// QR proof tokens rotate on discrete wall-clock windows. The kiosk computes
// the same HMAC locally from the session secret, so no backend round trip is
// needed per rotation; the backend recomputes on demand during verification.

// qrTokenLen is the number of hex characters kept from the HMAC digest. Short
// enough for a dense QR payload, long enough that guessing within a two-window
// lifetime is hopeless.
const qrTokenLen = 16

// QRWindow returns the rotation window index for an instant:
// floor(unix_seconds / rotateSeconds).
func QRWindow(now time.Time, rotateSeconds int) int64 {
	if rotateSeconds <= 0 {
		rotateSeconds = 1
	}
	return now.Unix() / int64(rotateSeconds)
}

// NextQRRotation returns how long until the window after the current one
// begins. Kiosks schedule their refresh timer on this, not on a fixed poll,
// so token transitions land exactly on window boundaries.
func NextQRRotation(now time.Time, rotateSeconds int) time.Duration {
	if rotateSeconds <= 0 {
		rotateSeconds = 1
	}
	boundary := (QRWindow(now, rotateSeconds) + 1) * int64(rotateSeconds)
	return time.Unix(boundary, 0).Sub(now)
}

// ComputeQRToken derives the proof token for one session and one window.
func ComputeQRToken(secret, sessionID string, window int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%d", sessionID, window)
	return hex.EncodeToString(mac.Sum(nil))[:qrTokenLen]
}

// VerifyQRToken accepts the current and the immediately preceding window.
// That tolerates the latency between a kiosk refreshing its code and a phone
// finishing the scan/submit round trip, while keeping the replay window
// bounded to two rotation periods. Comparison is constant time; callers must
// not reveal which window failed.
func VerifyQRToken(secret, sessionID, token string, now time.Time, rotateSeconds int) bool {
	w := QRWindow(now, rotateSeconds)
	ok := false
	for _, candidate := range []int64{w, w - 1} {
		expected := ComputeQRToken(secret, sessionID, candidate)
		if hmac.Equal([]byte(expected), []byte(token)) {
			ok = true
		}
	}
	return ok
}
