package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ncecere/open_image_gateway/internal/auth"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/requestctx"
)

// ErrInvalidAPIKey is returned when a credential is presented but matches
// neither the service key nor an enabled user key.
var ErrInvalidAPIKey = errors.New("invalid api key")

// BearerToken extracts the credential from an Authorization header.
// "Bearer x", "Key x" and a bare "x" are accepted.
func BearerToken(header string) string {
	raw := strings.TrimSpace(header)
	lower := strings.ToLower(raw)
	for _, scheme := range []string{"bearer ", "key "} {
		if strings.HasPrefix(lower, scheme) {
			return strings.TrimSpace(raw[len(scheme):])
		}
	}
	return raw
}

// ResolveCaller maps the Authorization header onto a caller. With no service
// key configured every caller is treated as a user so the public endpoints
// stay open. An absent credential is a guest; an unknown one is an error.
func (c *Container) ResolveCaller(ctx context.Context, authorization, remoteIP string) (*requestctx.Caller, error) {
	sys, err := c.Settings.System(ctx)
	if err != nil {
		return nil, fmt.Errorf("load system settings: %w", err)
	}
	token := BearerToken(authorization)

	if strings.TrimSpace(sys.APIKey) == "" {
		caller := &requestctx.Caller{Level: models.LevelUser, Source: requestctx.SourceGuest, RemoteIP: remoteIP}
		if token != "" {
			if key, ok, err := c.Settings.FindUserKey(ctx, token); err == nil && ok && key.Enabled {
				return c.userCaller(ctx, key, remoteIP), nil
			}
		}
		return caller, nil
	}

	if token == "" {
		return requestctx.Guest(remoteIP), nil
	}
	if auth.SecretsEqual(token, sys.APIKey) {
		return &requestctx.Caller{Level: models.LevelAdmin, Source: requestctx.SourceService, Name: "service", RemoteIP: remoteIP}, nil
	}
	key, ok, err := c.Settings.FindUserKey(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("lookup user key: %w", err)
	}
	if !ok || !key.Enabled {
		return nil, ErrInvalidAPIKey
	}
	return c.userCaller(ctx, key, remoteIP), nil
}

func (c *Container) userCaller(ctx context.Context, key models.UserKey, remoteIP string) *requestctx.Caller {
	if err := c.Settings.RecordUsage(ctx, key.ID); err != nil {
		c.Logger.Warn("record user key usage", slog.String("key_id", key.ID), slog.String("error", err.Error()))
	}
	return &requestctx.Caller{Level: key.Level, Source: requestctx.SourceUserKey, KeyID: key.ID, Name: key.Name, RemoteIP: remoteIP}
}
