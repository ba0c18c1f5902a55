package services

import (
	"context"
	"encoding/json"
	"fmt"

	"civic-hazard-backend/internal/config"
	"civic-hazard-backend/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/token"
)

// pushChunkSize bounds how many tokens one delivery batch covers.
const pushChunkSize = 100

// Notifier delivers push notifications to a set of device tokens.
// Delivery is best-effort: implementations log failures and never return them.
type Notifier interface {
	Send(ctx context.Context, tokens []*models.PushToken, title, body string, data map[string]string)
}

// APNSNotifier sends pushes through Apple's push service using a token-based
// (.p8) client.
type APNSNotifier struct {
	client *apns2.Client
	topic  string
}

// NewNotifier builds the configured notifier. With no key file configured the
// returned notifier only logs, so the server still runs in dev setups.
func NewNotifier(cfg config.APNSConfig) (Notifier, error) {
	if cfg.KeyFile == "" {
		log.Warn().Msg("APNs key not configured, push delivery disabled")
		return &logNotifier{}, nil
	}

	authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs auth key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &APNSNotifier{client: client, topic: cfg.Topic}, nil
}

// Send delivers the notification to each token in chunks. Invalid or
// unregistered tokens are logged as prune candidates; nothing is retried.
func (n *APNSNotifier) Send(ctx context.Context, tokens []*models.PushToken, title, body string, data map[string]string) {
	payload := map[string]any{
		"aps": map[string]any{
			"alert": map[string]string{"title": title, "body": body},
			"sound": "default",
		},
	}
	for k, v := range data {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal push payload")
		return
	}

	for start := 0; start < len(tokens); start += pushChunkSize {
		end := start + pushChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		for _, t := range tokens[start:end] {
			if t.Platform != "ios" {
				log.Debug().Str("platform", t.Platform).Msg("Skipping non-APNs token")
				continue
			}
			n.push(ctx, t, raw)
		}
	}
}

func (n *APNSNotifier) push(ctx context.Context, t *models.PushToken, payload []byte) {
	notification := &apns2.Notification{
		DeviceToken: t.Token,
		Topic:       n.topic,
		Payload:     payload,
	}

	res, err := n.client.PushWithContext(ctx, notification)
	if err != nil {
		log.Error().Err(err).Str("user_id", t.UserID).Msg("Push delivery failed")
		return
	}
	if res.Sent() {
		return
	}

	switch res.Reason {
	case apns2.ReasonUnregistered, apns2.ReasonBadDeviceToken:
		// Prune candidate; removal stays manual for now.
		log.Warn().
			Str("user_id", t.UserID).
			Str("reason", res.Reason).
			Msg("Push token invalid, flagging for pruning")
	default:
		log.Error().
			Str("user_id", t.UserID).
			Str("reason", res.Reason).
			Int("status", res.StatusCode).
			Msg("Push rejected")
	}
}

// logNotifier is the stand-in used when APNs is not configured.
type logNotifier struct{}

func (n *logNotifier) Send(_ context.Context, tokens []*models.PushToken, title, body string, _ map[string]string) {
	log.Info().
		Int("tokens", len(tokens)).
		Str("title", title).
		Str("body", body).
		Msg("Push delivery skipped (APNs not configured)")
}
