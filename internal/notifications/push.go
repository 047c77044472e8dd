package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

var ErrNoPushTarget = errors.New("no push target")

// PushTarget is a device the user registered for push delivery.
type PushTarget struct {
	Platform   string `json:"platform"`
	DeviceKind string `json:"deviceKind"`
	Token      string `json:"token"`
}

// ParsePushTarget accepts the stored push token in either form: a JSON
// object, or a bare legacy token string which is treated as an Expo token.
func ParsePushTarget(raw string) (PushTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return PushTarget{}, ErrNoPushTarget
	}
	if strings.HasPrefix(raw, "{") {
		var target PushTarget
		if err := json.Unmarshal([]byte(raw), &target); err != nil {
			return PushTarget{}, err
		}
		target.Token = strings.TrimSpace(target.Token)
		if target.Token == "" {
			return PushTarget{}, ErrNoPushTarget
		}
		target.Platform = strings.ToLower(strings.TrimSpace(target.Platform))
		if target.Platform == "" {
			target.Platform = "expo"
		}
		if target.DeviceKind == "" {
			target.DeviceKind = "unknown"
		}
		return target, nil
	}
	return PushTarget{Platform: "expo", DeviceKind: "unknown", Token: raw}, nil
}

// PushMessage is what the device shows.
type PushMessage struct {
	Title string
	Body  string
	Badge int64
	Data  map[string]string
}

// Pusher delivers a message to one device.
type Pusher interface {
	Push(ctx context.Context, target PushTarget, msg PushMessage) error
}

// LogPusher records pushes in the log. It is the default until a real
// provider is configured.
type LogPusher struct {
	logg *logger.Logger
}

func NewLogPusher(logg *logger.Logger) *LogPusher {
	return &LogPusher{logg: logg}
}

func (p *LogPusher) Push(ctx context.Context, target PushTarget, msg PushMessage) error {
	ctx = p.logg.WithFields(ctx, map[string]any{
		"platform":    target.Platform,
		"device_kind": target.DeviceKind,
		"title":       msg.Title,
		"badge":       msg.Badge,
	})
	p.logg.Info(ctx, "push notification")
	return nil
}
