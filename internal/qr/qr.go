// Package qr encodes participant attendance codes and decodes what a
// scanner reads back.
package qr

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// Size bounds for generated images, in pixels.
const (
	DefaultSize = 256
	MinSize     = 128
	MaxSize     = 1024
)

// ErrInvalidPayload is returned when scanned data names no seminar and
// participant.
var ErrInvalidPayload = errors.New("QR data must contain seminar_id and participant_email")

// Payload identifies one participant of one seminar.
type Payload struct {
	SeminarID        string `json:"seminar_id"`
	ParticipantEmail string `json:"participant_email"`
}

// URL returns {base}/qr?data=<url-encoded JSON payload>.
func URL(base string, p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(base, "/") + "/qr?data=" + url.QueryEscape(string(raw)), nil
}

// PNG renders the URL for p as a square image of size pixels. Sizes outside
// [MinSize, MaxSize] are clamped; zero means DefaultSize.
func PNG(base string, p Payload, size int) ([]byte, error) {
	content, err := URL(base, p)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(content, qrcode.Medium, clamp(size))
}

func clamp(size int) int {
	switch {
	case size == 0:
		return DefaultSize
	case size < MinSize:
		return MinSize
	case size > MaxSize:
		return MaxSize
	}
	return size
}

// Parse accepts the JSON payload, a URL carrying it in the data query
// parameter, or "seminar_id|participant_email".
func Parse(data string) (Payload, error) {
	data = strings.TrimSpace(data)
	switch {
	case strings.HasPrefix(data, "{"):
		var p Payload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return Payload{}, ErrInvalidPayload
		}
		return p.check()
	case strings.Contains(data, "data="):
		u, err := url.Parse(data)
		if err != nil {
			return Payload{}, ErrInvalidPayload
		}
		inner := u.Query().Get("data")
		if inner == "" || strings.Contains(inner, "data=") {
			return Payload{}, ErrInvalidPayload
		}
		return Parse(inner)
	case strings.Count(data, "|") == 1:
		parts := strings.SplitN(data, "|", 2)
		return Payload{SeminarID: strings.TrimSpace(parts[0]), ParticipantEmail: strings.TrimSpace(parts[1])}.check()
	}
	return Payload{}, ErrInvalidPayload
}

func (p Payload) check() (Payload, error) {
	p.SeminarID = strings.TrimSpace(p.SeminarID)
	p.ParticipantEmail = strings.TrimSpace(p.ParticipantEmail)
	if p.SeminarID == "" || p.ParticipantEmail == "" {
		return Payload{}, ErrInvalidPayload
	}
	return p, nil
}
