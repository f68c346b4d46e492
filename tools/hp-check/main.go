// Liveness probe for a running master: joins as a throwaway client, sends a
// heartbeat, and exits 0 only when the server answers the join. Meant for
// cron or container health checks.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/fable-games/fable/internal/logging"
	"github.com/fable-games/fable/internal/protocol"
	"github.com/fable-games/fable/internal/shutdown"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Addr    string        `envconfig:"FABLE_HP_ADDR" default:"127.0.0.1:65432"`
	Timeout time.Duration `envconfig:"FABLE_HP_TIMEOUT" default:"5s"`
}

func main() {
	flag.Parse()
	ctx, cancel := shutdown.New()
	defer cancel()
	logger := logging.FromContext(ctx)

	config := Config{}
	if err := envconfig.Process("", &config); err != nil {
		logger.Fatalf("processing the config: %v", err)
	}

	conn, err := net.DialTimeout("tcp", config.Addr, config.Timeout)
	if err != nil {
		logger.Fatalf("dial %s: %v", config.Addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(config.Timeout)
	_ = conn.SetDeadline(deadline)

	if err := protocol.Write(conn, protocol.Message{Type: protocol.CmdJoin, Username: "hp-check"}); err != nil {
		logger.Fatalf("join: %v", err)
	}

	m, err := protocol.Read(conn)
	if err != nil {
		logger.Fatalf("read welcome: %v", err)
	}
	if m.Type != protocol.EvtWelcome {
		logger.Fatalf("unexpected reply %q", m.Type)
	}

	if err := protocol.Write(conn, protocol.Message{Type: protocol.CmdHeartbeat}); err != nil {
		logger.Fatalf("heartbeat: %v", err)
	}

	_, _ = fmt.Fprintln(os.Stdout, "ok")
}
