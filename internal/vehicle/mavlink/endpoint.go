package mavlink

import (
	"fmt"

	"github.com/bluenviron/gomavlib/v3"
)

// Endpoint kinds accepted in Config.Endpoint
const (
	EndpointUDPBroadcast = "udp-broadcast"
	EndpointUDPServer    = "udp-server"
	EndpointUDPClient    = "udp-client"
	EndpointTCPClient    = "tcp-client"
	EndpointSerial       = "serial"
)

func endpointConf(c Config) (gomavlib.EndpointConf, error) {
	switch c.Endpoint {
	case EndpointUDPBroadcast:
		return gomavlib.EndpointUDPBroadcast{BroadcastAddress: c.Address}, nil
	case EndpointUDPServer:
		return gomavlib.EndpointUDPServer{Address: c.Address}, nil
	case EndpointUDPClient:
		return gomavlib.EndpointUDPClient{Address: c.Address}, nil
	case EndpointTCPClient:
		return gomavlib.EndpointTCPClient{Address: c.Address}, nil
	case EndpointSerial:
		return gomavlib.EndpointSerial{Device: c.Address, Baud: c.Baud}, nil
	default:
		return nil, fmt.Errorf("unsupported endpoint %q", c.Endpoint)
	}
}
