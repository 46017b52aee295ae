package moqtransport

import (
	"log/slog"

	"github.com/mengelbart/moqtransport/internal/wire"
	"github.com/mengelbart/qlog"
)

// Role announces which combination of publishing/subscribing a session
// supports, sent as a setup parameter.
type Role uint8

const (
	RolePublisher Role = iota
	RoleSubscriber
	RolePubSub
)

// SessionConfig holds the parameters a Session negotiates or enforces.
// Use SessionOption functions to override the defaults.
type SessionConfig struct {
	perspective       Perspective
	supportedVersions  []wire.Version
	role               Role
	localMaxRequestID  uint64
	path               string
	logger             *slog.Logger
	qlogger            *qlog.Logger
	callbacks          *SessionCallbacks
	registry           TrackPublisher
}

func defaultSessionConfig(p Perspective) *SessionConfig {
	return &SessionConfig{
		perspective:       p,
		supportedVersions: []wire.Version{wire.CurrentVersion},
		role:              RolePubSub,
		localMaxRequestID: 100,
		logger:            defaultLogger,
		callbacks:         &SessionCallbacks{},
		registry:          NewLocalTrackRegistry(),
	}
}

// SessionOption customizes a Session at construction time, mirroring the
// functional-options style used for the teacher's TransportOption.
type SessionOption func(*SessionConfig)

func WithRole(r Role) SessionOption {
	return func(c *SessionConfig) { c.role = r }
}

func WithPath(path string) SessionOption {
	return func(c *SessionConfig) { c.path = path }
}

func WithLocalMaxRequestID(n uint64) SessionOption {
	return func(c *SessionConfig) { c.localMaxRequestID = n }
}

func WithLogger(l *slog.Logger) SessionOption {
	return func(c *SessionConfig) { c.logger = l }
}

func WithQLogger(l *qlog.Logger) SessionOption {
	return func(c *SessionConfig) { c.qlogger = l }
}

func WithSessionCallbacks(cb SessionCallbacks) SessionOption {
	return func(c *SessionConfig) { c.callbacks = &cb }
}

func WithTrackPublisher(r TrackPublisher) SessionOption {
	return func(c *SessionConfig) { c.registry = r }
}

func WithSupportedVersions(versions ...wire.Version) SessionOption {
	return func(c *SessionConfig) { c.supportedVersions = versions }
}
