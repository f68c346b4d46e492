package server

import (
	"fmt"
	"time"

	"github.com/fable-games/fable/internal/database"
)

type Config struct {
	// Logging all frames and state transitions
	Debug bool `envconfig:"FABLE_DEBUG" default:"false"`

	Host string `envconfig:"FABLE_HOST" default:"127.0.0.1"`

	// Port the master serves game clients on. A process started as a
	// standby node overrides this with its own serving port.
	GamePort int `envconfig:"FABLE_GAME_PORT" default:"65432"`

	// Rendezvous address for node election and snapshot replication.
	// Exactly one process can bind it; that process is the master.
	ReplicationHost string `envconfig:"FABLE_REPLICATION_HOST" default:"127.0.0.1"`
	ReplicationPort int    `envconfig:"FABLE_REPLICATION_PORT" default:"7000"`

	// Phase deadlines
	WritingTimeout   time.Duration `envconfig:"FABLE_WRITING_TIMEOUT" default:"60s"`
	SelectionTimeout time.Duration `envconfig:"FABLE_SELECTION_TIMEOUT" default:"30s"`
	VotingTimeout    time.Duration `envconfig:"FABLE_VOTING_TIMEOUT" default:"30s"`
	ContinueTimeout  time.Duration `envconfig:"FABLE_CONTINUE_TIMEOUT" default:"15s"`

	// Liveness: connections silent longer than HeartbeatTimeout are
	// evicted; the monitor wakes every HeartbeatInterval.
	HeartbeatInterval time.Duration `envconfig:"FABLE_HEARTBEAT_INTERVAL" default:"2s"`
	HeartbeatTimeout  time.Duration `envconfig:"FABLE_HEARTBEAT_TIMEOUT" default:"8s"`

	// Upper bound of the randomized delay before the first election attempt
	ElectionJitter time.Duration `envconfig:"FABLE_ELECTION_JITTER" default:"1500ms"`

	SnapshotPath string `envconfig:"FABLE_SNAPSHOT_PATH" default:"recovery.json"`
	ArchivePath  string `envconfig:"FABLE_ARCHIVE_PATH" default:"archive.json"`
	ThemesPath   string `envconfig:"FABLE_THEMES_PATH" default:"themes.json"`

	// Number of items in the finished-story read cache
	CacheSize int `envconfig:"FABLE_CACHE_SIZE" default:"1024"`

	Db database.Config
}

func (c *Config) GameAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GamePort)
}

func (c *Config) ReplicationAddr() string {
	return fmt.Sprintf("%s:%d", c.ReplicationHost, c.ReplicationPort)
}
