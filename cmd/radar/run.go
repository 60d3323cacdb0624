package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gordian-engine/radar"
	"github.com/gordian-engine/radar/rble"
	"github.com/gordian-engine/radar/rlink"
	"github.com/gordian-engine/radar/rquic"
	"github.com/gordian-engine/radar/rranging"
	"github.com/gordian-engine/radar/rranging/rrangingsim"
	"github.com/gordian-engine/radar/rsink/rinflux"
	"github.com/gordian-engine/radar/rsink/rmqtt"
	"github.com/gordian-engine/radar/rtable"
	"github.com/gordian-engine/radar/rtoken"
	"github.com/spf13/cobra"
)

type runConfig struct {
	Link   string
	Engine string

	MaxAttempts int
	Rescan      time.Duration
	Cooldown    time.Duration
	StatusEvery time.Duration

	BLE rble.Config

	QUICListen  string
	BeaconGroup string
	ServiceType string
	InstanceID  string

	SimInterval   time.Duration
	SimStartDelay time.Duration

	MQTTBroker   string
	MQTTClientID string
	MQTTTopic    string
	MQTTRetained bool

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

func newRunCmd() *cobra.Command {
	var rc runConfig

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a radar node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runNode(ctx, log, rc)
		},
	}

	f := cmd.Flags()
	f.StringVar(&rc.Link, "link", "quic", "Transport link: ble|quic")
	f.StringVar(&rc.Engine, "engine", "sim", "Ranging engine: sim|none")

	f.IntVar(&rc.MaxAttempts, "max-attempts", radar.DefaultMaxConnectionAttempts, "Connection attempts per peer before abandoning it")
	f.DurationVar(&rc.Rescan, "rescan", radar.DefaultRescanInterval, "Interval between scan re-issues")
	f.DurationVar(&rc.Cooldown, "cooldown", 0, "Pause scanning this long after a connected peer drops")
	f.DurationVar(&rc.StatusEvery, "status-interval", 5*time.Second, "Interval between peer table log lines; 0 disables")

	f.StringVar(&rc.BLE.Adapter, "ble-adapter", rble.DefaultAdapter, "BlueZ adapter name")
	f.StringVar(&rc.BLE.ServiceUUID, "ble-service-uuid", rlink.DefaultServiceUUID, "GATT service UUID")
	f.StringVar(&rc.BLE.CharacteristicUUID, "ble-characteristic-uuid", rlink.DefaultCharacteristicUUID, "GATT characteristic UUID")
	f.StringVar(&rc.BLE.LocalName, "ble-local-name", "", "Name to include in the BLE advertisement")

	f.StringVar(&rc.QUICListen, "quic-listen", ":0", "UDP address for QUIC sessions")
	f.StringVar(&rc.BeaconGroup, "beacon-group", rquic.DefaultBeaconGroup, "Multicast group for announcements")
	f.StringVar(&rc.ServiceType, "service-type", rlink.DefaultServiceType, "Mesh service type")
	f.StringVar(&rc.InstanceID, "instance-id", "", "Mesh instance UUID; random if empty")

	f.DurationVar(&rc.SimInterval, "sim-interval", 200*time.Millisecond, "Simulated measurement interval")
	f.DurationVar(&rc.SimStartDelay, "sim-start-delay", 0, "Delay before the simulated engine has a local token")

	f.StringVar(&rc.MQTTBroker, "mqtt-broker", "", "MQTT broker URL; empty disables MQTT publishing")
	f.StringVar(&rc.MQTTClientID, "mqtt-client-id", "radar", "MQTT client ID")
	f.StringVar(&rc.MQTTTopic, "mqtt-topic", rmqtt.DefaultBaseTopic, "MQTT base topic")
	f.BoolVar(&rc.MQTTRetained, "mqtt-retained", true, "Publish retained MQTT messages")

	f.StringVar(&rc.InfluxURL, "influx-url", "", "InfluxDB URL; empty disables InfluxDB writes")
	f.StringVar(&rc.InfluxToken, "influx-token", "", "InfluxDB API token")
	f.StringVar(&rc.InfluxOrg, "influx-org", "", "InfluxDB organization")
	f.StringVar(&rc.InfluxBucket, "influx-bucket", "radar", "InfluxDB bucket")

	return cmd
}

func runNode(ctx context.Context, log *slog.Logger, rc runConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engine, err := newEngine(ctx, log.With("sys", "engine"), rc)
	if err != nil {
		return err
	}

	link, err := newLink(log.With("sys", "link"), rc)
	if err != nil {
		return err
	}

	n, err := radar.NewNode(ctx, log.With("sys", "node"), radar.NodeConfig{
		Link:   link,
		Engine: engine,

		MaxConnectionAttempts: rc.MaxAttempts,
		RescanInterval:        rc.Rescan,
		ScanCooldown:          rc.Cooldown,
	})
	if err != nil {
		_ = link.Close()
		return fmt.Errorf("failed to start node: %w", err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	if err := startSinks(ctx, log, rc, n, engine, &wg); err != nil {
		cancel()
		n.Wait()
		return err
	}

	if err := n.RangingStatus(); err != nil {
		log.Warn("Ranging inactive; peers can be discovered but not ranged", "err", err)
	}
	n.Advertise()

	if rc.StatusEvery > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logPeersEvery(ctx, log, n, rc.StatusEvery)
		}()
	}

	<-ctx.Done()
	log.Info("Shutting down", "cause", context.Cause(ctx))
	n.Wait()
	return nil
}

func newLink(log *slog.Logger, rc runConfig) (rlink.Link, error) {
	switch strings.ToLower(rc.Link) {
	case "ble":
		l, err := rble.NewLink(log, rc.BLE)
		if err != nil {
			return nil, fmt.Errorf("failed to create BLE link: %w", err)
		}
		return l, nil

	case "quic":
		cfg := rquic.Config{ServiceType: rc.ServiceType}
		if rc.InstanceID != "" {
			id, err := uuid.Parse(rc.InstanceID)
			if err != nil {
				return nil, fmt.Errorf("invalid instance ID: %w", err)
			}
			cfg.InstanceID = id
		}

		uaddr, err := net.ResolveUDPAddr("udp", rc.QUICListen)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve QUIC listen address: %w", err)
		}
		uc, err := net.ListenUDP("udp", uaddr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen for QUIC: %w", err)
		}
		cfg.QUICConn = uc

		bc, group, err := rquic.ListenBeacon(rc.BeaconGroup)
		if err != nil {
			_ = uc.Close()
			return nil, err
		}
		cfg.BeaconConn = bc
		cfg.BeaconTargets = []net.Addr{group}

		l, err := rquic.NewLink(log, cfg)
		if err != nil {
			_ = uc.Close()
			_ = bc.Close()
			return nil, fmt.Errorf("failed to create QUIC link: %w", err)
		}
		return l, nil

	default:
		return nil, fmt.Errorf("unknown --link %q (want ble|quic)", rc.Link)
	}
}

func newEngine(ctx context.Context, log *slog.Logger, rc runConfig) (rranging.Engine, error) {
	switch strings.ToLower(rc.Engine) {
	case "sim":
		e, err := rrangingsim.New(ctx, log, rrangingsim.Config{
			Interval:   rc.SimInterval,
			StartDelay: rc.SimStartDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to start simulated engine: %w", err)
		}
		return e, nil

	case "none":
		return unavailableEngine{}, nil

	default:
		return nil, fmt.Errorf("unknown --engine %q (want sim|none)", rc.Engine)
	}
}

func startSinks(
	ctx context.Context,
	log *slog.Logger,
	rc runConfig,
	n *radar.Node,
	engine rranging.Engine,
	wg *sync.WaitGroup,
) error {
	if rc.MQTTBroker != "" {
		p, err := rmqtt.NewPublisher(log.With("sys", "mqtt"), rmqtt.Config{
			Broker:    rc.MQTTBroker,
			ClientID:  rc.MQTTClientID,
			BaseTopic: rc.MQTTTopic,
			QoS:       1,
			Retained:  rc.MQTTRetained,
		})
		if err != nil {
			return err
		}
		if err := p.Connect(ctx); err != nil {
			return err
		}

		snap, s, err := n.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("failed to subscribe to peer changes: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx, snap, s)
		}()
	}

	if rc.InfluxURL != "" {
		conn, err := rinflux.Connect(ctx, rinflux.Config{
			URL:    rc.InfluxURL,
			Token:  rc.InfluxToken,
			Org:    rc.InfluxOrg,
			Bucket: rc.InfluxBucket,
		})
		if err != nil {
			return err
		}

		snap, s, err := n.Subscribe(ctx)
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to subscribe to peer changes: %w", err)
		}
		w := rinflux.NewWriter(log.With("sys", "influx"), conn.WriteAPI(), engine.LocalToken)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			w.Run(ctx, snap, s)
		}()
	}

	return nil
}

func logPeersEvery(ctx context.Context, log *slog.Logger, n *radar.Node, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		peers, err := n.Peers(ctx)
		if err != nil {
			return
		}
		log.Info("Peer table", "size", len(peers), "peers", formatPeers(peers))
	}
}

func formatPeers(peers rtable.Snapshot) string {
	var b strings.Builder
	for i, p := range peers {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s@%.2fm", p.Token, p.Distance)
		if d := p.Direction; d != nil {
			fmt.Fprintf(&b, "(%.2f,%.2f,%.2f)", d.X, d.Y, d.Z)
		}
	}
	return b.String()
}

// unavailableEngine is the engine for nodes that only discover and exchange.
type unavailableEngine struct{}

var errNoEngine = errors.New("no ranging engine configured")

func (unavailableEngine) LocalToken() (rtoken.Token, bool) { return rtoken.Token{}, false }
func (unavailableEngine) Configure(rtoken.Token) error     { return errNoEngine }
func (unavailableEngine) Events() <-chan rranging.Event    { return nil }
func (unavailableEngine) Available() error                 { return errNoEngine }
