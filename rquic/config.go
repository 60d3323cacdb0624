package rquic

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gordian-engine/radar/rlink"
	"github.com/quic-go/quic-go"
)

const (
	// DefaultBeaconGroup is the multicast group announcements are sent to.
	DefaultBeaconGroup = "239.255.77.77:7777"

	DefaultBeaconInterval = time.Second
	DefaultLostAfter      = 5 * time.Second

	// DefaultInviteTimeout bounds both an outgoing dial
	// and the wait for an expected incoming session.
	DefaultInviteTimeout = 10 * time.Second

	writeTimeout = 2 * time.Second
)

// Config is the configuration for a [Link].
type Config struct {
	// Announcements from a different service type are ignored.
	// If empty, [rlink.DefaultServiceType] is used.
	ServiceType string

	// Random if zero.
	InstanceID uuid.UUID

	// Socket for QUIC sessions. The Link takes ownership.
	QUICConn *net.UDPConn

	// Socket announcements are sent from and received on.
	// The Link takes ownership.
	BeaconConn net.PacketConn

	// Where to send announcements.
	// Normally the single multicast group BeaconConn has joined.
	BeaconTargets []net.Addr

	// Zero values use the package defaults.
	BeaconInterval time.Duration
	LostAfter      time.Duration
	InviteTimeout  time.Duration

	// If nil, [DefaultTLSConfig] is used.
	TLS *tls.Config

	// If nil, [DefaultQUICConfig] is used.
	QUIC *quic.Config
}

func (c Config) validate() {
	var panicErrs error

	if c.QUICConn == nil {
		panicErrs = errors.Join(panicErrs, errors.New("Config.QUICConn may not be nil"))
	}
	if c.BeaconConn == nil {
		panicErrs = errors.Join(panicErrs, errors.New("Config.BeaconConn may not be nil"))
	}
	if len(c.BeaconTargets) == 0 {
		panicErrs = errors.Join(panicErrs, errors.New("Config.BeaconTargets must not be empty"))
	}
	if len(c.ServiceType) > maxServiceTypeLen {
		panicErrs = errors.Join(panicErrs, fmt.Errorf(
			"Config.ServiceType must be at most %d bytes", maxServiceTypeLen,
		))
	}
	for _, f := range []struct {
		Name string
		D    time.Duration
	}{
		{"BeaconInterval", c.BeaconInterval},
		{"LostAfter", c.LostAfter},
		{"InviteTimeout", c.InviteTimeout},
	} {
		if f.D < 0 {
			panicErrs = errors.Join(panicErrs, fmt.Errorf(
				"Config.%s must not be negative (got %s)", f.Name, f.D,
			))
		}
	}

	if panicErrs != nil {
		panic(panicErrs)
	}
}

func (c *Config) setDefaults() error {
	if c.ServiceType == "" {
		c.ServiceType = rlink.DefaultServiceType
	}
	if c.InstanceID == uuid.Nil {
		c.InstanceID = uuid.New()
	}
	if c.BeaconInterval == 0 {
		c.BeaconInterval = DefaultBeaconInterval
	}
	if c.LostAfter == 0 {
		c.LostAfter = DefaultLostAfter
	}
	if c.InviteTimeout == 0 {
		c.InviteTimeout = DefaultInviteTimeout
	}
	if c.QUIC == nil {
		c.QUIC = DefaultQUICConfig()
	}
	if c.TLS == nil {
		tc, err := DefaultTLSConfig()
		if err != nil {
			return fmt.Errorf("failed to build default TLS config: %w", err)
		}
		c.TLS = tc
	}
	return nil
}

// DefaultQUICConfig is the default QUIC configuration for a [Config].
func DefaultQUICConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: 2 * time.Second,

		// Radio-adjacent peers come and go;
		// a silent peer should surface as a disconnect quickly.
		MaxIdleTimeout:  10 * time.Second,
		KeepAlivePeriod: 2 * time.Second,

		// Token payloads are tiny.
		InitialStreamReceiveWindow:     16 * 1024,
		MaxStreamReceiveWindow:         64 * 1024,
		InitialConnectionReceiveWindow: 32 * 1024,
		MaxConnectionReceiveWindow:     128 * 1024,

		// One bidirectional stream per session, and no unidirectional ones.
		MaxIncomingStreams:    2,
		MaxIncomingUniStreams: -1,
	}
}

// ListenBeacon joins the multicast group at addr
// and returns the socket and group address to use as
// Config.BeaconConn and Config.BeaconTargets.
func ListenBeacon(addr string) (net.PacketConn, net.Addr, error) {
	gaddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve beacon group %q: %w", addr, err)
	}

	conn, err := net.ListenMulticastUDP("udp4", nil, gaddr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to join beacon group %q: %w", addr, err)
	}

	return conn, gaddr, nil
}
