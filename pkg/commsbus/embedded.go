package commsbus

import (
	"fmt"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
)

const embeddedLogPrefix = "commsbus:embedded"

// StartEmbeddedServer runs an in-process COMMS server, for single-binary
// deployments and tests. The caller owns shutdown:
//
//	ns.Shutdown()
//	ns.WaitForShutdown()
func StartEmbeddedServer(host string, port int) (*commsserver.Server, error) {
	opts := &commsserver.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := commsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create server: %w", embeddedLogPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("%s - server not ready for connections", embeddedLogPrefix)
	}
	return ns, nil
}
