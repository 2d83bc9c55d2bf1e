package config

import "strings"

// Environment identifies the runtime environment the bridge operates in.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Transport names a supported link transport.
type Transport string

const (
	// TransportTCP frames envelopes as bare JSON documents on a TCP stream.
	TransportTCP Transport = "tcp"
	// TransportWebsocket carries one envelope per websocket text message.
	TransportWebsocket Transport = "websocket"
)

// ReconnectPolicy selects how the delay between reconnect attempts evolves.
type ReconnectPolicy string

const (
	// ReconnectConstant waits the same delay between every attempt.
	ReconnectConstant ReconnectPolicy = "constant"
	// ReconnectExponential doubles the delay up to maxReconnectDelay.
	ReconnectExponential ReconnectPolicy = "exponential"
)

// JournalDriver names a trade journal backend.
type JournalDriver string

const (
	// JournalNone disables the trade journal.
	JournalNone JournalDriver = "none"
	// JournalSQLite stores entries in a local sqlite file.
	JournalSQLite JournalDriver = "sqlite"
	// JournalPostgres stores entries in postgres.
	JournalPostgres JournalDriver = "postgres"
)

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
