package stream

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// Transport kinds.
const (
	KindTCP       = "tcp"
	KindSerial    = "serial"
	KindWebSocket = "websocket"
	KindMQTT      = "mqtt"
)

// DefaultAddress is the consumer's listening address.
const DefaultAddress = "127.0.0.1:12345"

// Options selects and configures the outbound transport.
type Options struct {
	// Kind is one of KindTCP, KindSerial, KindWebSocket or KindMQTT.
	Kind string
	// Address is host:port for tcp, a device path for serial, a ws:// URL
	// for websocket and a broker URL for mqtt.
	Address     string
	DialTimeout time.Duration
	Serial      PortOptions
	MQTT        MQTTOptions
}

// Open establishes the transport described by opts. The caller owns the
// returned connection and must close it.
func Open(ctx context.Context, opts Options) (io.WriteCloser, error) {
	if opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
	}

	switch opts.Kind {
	case "", KindTCP:
		addr := opts.Address
		if addr == "" {
			addr = DefaultAddress
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return conn, nil

	case KindSerial:
		return OpenSerial(opts.Address, opts.Serial)

	case KindWebSocket:
		return DialWebSocket(ctx, opts.Address)

	case KindMQTT:
		return DialMQTT(opts.Address, opts.MQTT)

	default:
		return nil, fmt.Errorf("unknown transport kind %q", opts.Kind)
	}
}
