package eventpool

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"mpm/pkg/logger"
)

const (
	// EnvPort overrides server discovery when set.
	EnvPort = "CLAUDE_MPM_SOCKETIO_PORT"

	defaultPort  = 8765
	probeTimeout = 50 * time.Millisecond
)

var probePorts = []int{8765, 8080, 8081, 8082, 8083, 8084, 8085}

// DiscoverPort finds the event server port: environment variable first,
// then a quick probe of well-known ports, then the default.
func DiscoverPort() int {
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			return port
		}
		logger.Get().Warn().Str("value", v).Msg("ignoring invalid event server port from environment")
	}

	for _, port := range probePorts {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), probeTimeout)
		if err != nil {
			continue
		}
		conn.Close()
		logger.Get().Debug().Int("port", port).Msg("event server discovered by probe")
		return port
	}
	return defaultPort
}
