//go:build linux

package rble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/gordian-engine/radar/rlink"
)

const (
	resolvePollInterval = 250 * time.Millisecond
	writeTimeout        = 2 * time.Second
)

// Link is an [rlink.Link] over BlueZ.
type Link struct {
	log *slog.Logger

	cfg Config

	bus     *dbus.Conn
	adapter dbus.ObjectPath

	gatt *gattServer

	signals chan *dbus.Signal

	mu      sync.Mutex
	devices map[dbus.ObjectPath]*device

	// Remote characteristic path to owning device, for notifications.
	chars map[dbus.ObjectPath]dbus.ObjectPath

	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	events chan<- rlink.Event

	wg sync.WaitGroup
}

var _ rlink.Link = (*Link)(nil)

// device is the link's view of one remote device. Guarded by Link.mu.
type device struct {
	// Set after a successful Connect from this side.
	linked bool

	// Remote characteristic with notifications enabled; empty until bound.
	char dbus.ObjectPath

	// Set once the device has written to our characteristic as a central.
	inbound bool

	// Set by Disconnect so the resulting drop is not reported.
	suppressDrop bool
}

// NewLink connects to the system bus.
// Nothing is advertised or scanned until [*Link.Start].
func NewLink(log *slog.Logger, cfg Config) (*Link, error) {
	cfg.validate()
	cfg.setDefaults()

	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	l := &Link{
		log: log,
		cfg: cfg,

		bus:     bus,
		adapter: dbus.ObjectPath("/org/bluez/" + cfg.Adapter),

		devices: make(map[dbus.ObjectPath]*device),
		chars:   make(map[dbus.ObjectPath]dbus.ObjectPath),
	}
	l.gatt = &gattServer{
		log:      log.With("ble_role", "peripheral"),
		bus:      bus,
		svcUUID:  cfg.ServiceUUID,
		charUUID: cfg.CharacteristicUUID,
		onWrite:  l.handleInboundWrite,
	}

	return l, nil
}

func (l *Link) adapterObj() dbus.BusObject {
	return l.bus.Object(bluezService, l.adapter)
}

func (l *Link) deviceObj(p dbus.ObjectPath) dbus.BusObject {
	return l.bus.Object(bluezService, p)
}

func (l *Link) Start(ctx context.Context, events chan<- rlink.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return errors.New("link already started")
	}

	if err := l.adapterObj().CallWithContext(
		ctx, propsIface+".Set", 0, adapterIface, "Powered", dbus.MakeVariant(true),
	).Err; err != nil {
		return fmt.Errorf("failed to power adapter %s: %w", l.cfg.Adapter, err)
	}

	for _, m := range []string{"InterfacesAdded", "InterfacesRemoved"} {
		if err := l.bus.AddMatchSignal(
			dbus.WithMatchInterface(objManagerIface),
			dbus.WithMatchMember(m),
		); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", m, err)
		}
	}
	if err := l.bus.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return fmt.Errorf("failed to subscribe to PropertiesChanged: %w", err)
	}

	if err := l.gatt.export(l.cfg.LocalName); err != nil {
		return fmt.Errorf("failed to export GATT application: %w", err)
	}
	if err := l.adapterObj().CallWithContext(
		ctx, gattManagerIface+".RegisterApplication", 0, appPath, map[string]dbus.Variant{},
	).Err; err != nil {
		return fmt.Errorf("failed to register GATT application: %w", err)
	}
	if err := l.adapterObj().CallWithContext(
		ctx, advManagerIface+".RegisterAdvertisement", 0, advPath, map[string]dbus.Variant{},
	).Err; err != nil {
		return fmt.Errorf("failed to register advertisement: %w", err)
	}

	l.started = true
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.events = events

	l.signals = make(chan *dbus.Signal, 64)
	l.bus.Signal(l.signals)

	l.wg.Add(1)
	go l.receiveSignals()

	l.log.Info(
		"Link started",
		"adapter", l.cfg.Adapter,
		"service_uuid", l.cfg.ServiceUUID,
	)
	return nil
}

// emit delivers ev unless the link is shutting down.
// It must never be called while holding l.mu.
func (l *Link) emit(ev rlink.Event) {
	select {
	case <-l.ctx.Done():
	case l.events <- ev:
	}
}

// goAsync runs fn on a tracked goroutine,
// so that calls from the kernel never wait on the bus.
func (l *Link) goAsync(fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
}

func (l *Link) receiveSignals() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		case sig, ok := <-l.signals:
			if !ok {
				return
			}
			for _, n := range parseSignal(sig, l.cfg.ServiceUUID) {
				l.handleNotice(n)
			}
		}
	}
}

func (l *Link) handleNotice(n notice) {
	switch n.Kind {
	case noticeDeviceFound:
		if !isUnder(n.Path, l.adapter) {
			return
		}
		l.mu.Lock()
		if _, ok := l.devices[n.Path]; !ok {
			l.devices[n.Path] = new(device)
			l.log.Debug("Found device advertising service", "mac", macFromPath(n.Path))
		}
		l.mu.Unlock()
		l.emit(rlink.Event{Kind: rlink.Discovered, Endpoint: rlink.EndpointID(n.Path)})

	case noticeDeviceRemoved:
		l.mu.Lock()
		d, ok := l.devices[n.Path]
		if ok {
			delete(l.devices, n.Path)
			if d.char != "" {
				delete(l.chars, d.char)
			}
		}
		l.mu.Unlock()
		if ok {
			l.emit(rlink.Event{Kind: rlink.Lost, Endpoint: rlink.EndpointID(n.Path)})
		}

	case noticeDeviceDisconnected:
		l.mu.Lock()
		d, ok := l.devices[n.Path]
		report := false
		if ok {
			report = (d.linked || d.char != "") && !d.suppressDrop
			if d.char != "" {
				delete(l.chars, d.char)
			}
			*d = device{}
		}
		l.mu.Unlock()
		if report {
			l.emit(rlink.Event{Kind: rlink.Disconnected, Endpoint: rlink.EndpointID(n.Path)})
		}

	case noticeValue:
		l.mu.Lock()
		dev, ok := l.chars[n.Path]
		l.mu.Unlock()
		if !ok {
			return
		}
		l.emit(rlink.Event{Kind: rlink.DataReceived, Endpoint: rlink.EndpointID(dev), Data: n.Value})

	case noticeDeviceConnected, noticeServicesResolved:
		// Connect and DiscoverServices track these through their own calls.
	}
}

// handleInboundWrite runs on the bus dispatch goroutine.
func (l *Link) handleInboundWrite(from dbus.ObjectPath, data []byte) {
	l.mu.Lock()
	if l.closed || !l.started {
		l.mu.Unlock()
		return
	}
	d, ok := l.devices[from]
	if !ok {
		d = new(device)
		l.devices[from] = d
	}
	d.inbound = true

	// Added under the lock so Close cannot be between its closed check and wg.Wait.
	l.goAsync(func() {
		l.emit(rlink.Event{Kind: rlink.DataReceived, Endpoint: rlink.EndpointID(from), Data: data})
	})
	l.mu.Unlock()
}

// Scan starts discovery and re-reports devices BlueZ already knows about,
// since those produce no new InterfacesAdded signal.
func (l *Link) Scan() {
	l.goAsync(func() {
		a := l.adapterObj()

		filter := map[string]dbus.Variant{
			"Transport": dbus.MakeVariant("le"),
			"UUIDs":     dbus.MakeVariant([]string{l.cfg.ServiceUUID}),
		}
		if err := a.CallWithContext(l.ctx, adapterIface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
			l.log.Debug("Failed to set discovery filter", "err", err)
		}
		if err := a.CallWithContext(l.ctx, adapterIface+".StartDiscovery", 0).Err; err != nil && !isBluezError(err, "InProgress") {
			l.log.Info("Failed to start discovery", "err", err)
		}

		var objs managedObjects
		if err := l.bus.Object(bluezService, "/").CallWithContext(
			l.ctx, objManagerIface+".GetManagedObjects", 0,
		).Store(&objs); err != nil {
			l.log.Debug("Failed to list managed objects", "err", err)
			return
		}

		var found []dbus.ObjectPath
		l.mu.Lock()
		for p, ifaces := range objs {
			props, ok := ifaces[deviceIface]
			if !ok || !isUnder(p, l.adapter) || !advertisesService(props, l.cfg.ServiceUUID) {
				continue
			}
			if _, ok := l.devices[p]; !ok {
				l.devices[p] = new(device)
			}
			found = append(found, p)
		}
		l.mu.Unlock()

		for _, p := range found {
			l.emit(rlink.Event{Kind: rlink.Discovered, Endpoint: rlink.EndpointID(p)})
		}
	})
}

func (l *Link) PauseScan() {
	l.goAsync(func() {
		if err := l.adapterObj().CallWithContext(l.ctx, adapterIface+".StopDiscovery", 0).Err; err != nil {
			l.log.Debug("Failed to stop discovery", "err", err)
		}
	})
}

func (l *Link) Connect(ep rlink.EndpointID) {
	p := dbus.ObjectPath(ep)

	l.mu.Lock()
	d, ok := l.devices[p]
	if ok {
		d.suppressDrop = false
	}
	l.mu.Unlock()

	if !ok {
		l.goAsync(func() {
			l.emit(rlink.Event{Kind: rlink.ConnectFailed, Endpoint: ep, Err: rlink.ErrUnknownEndpoint})
		})
		return
	}

	l.goAsync(func() {
		ctx, cancel := context.WithTimeout(l.ctx, l.cfg.ConnectTimeout)
		defer cancel()

		err := l.deviceObj(p).CallWithContext(ctx, deviceIface+".Connect", 0).Err
		if err != nil && !isBluezError(err, "AlreadyConnected") {
			l.emit(rlink.Event{Kind: rlink.ConnectFailed, Endpoint: ep, Err: err})
			return
		}

		l.mu.Lock()
		if d, ok := l.devices[p]; ok {
			d.linked = true
		}
		l.mu.Unlock()

		l.emit(rlink.Event{Kind: rlink.ConnectSucceeded, Endpoint: ep})
	})
}

func (l *Link) DiscoverServices(ep rlink.EndpointID) {
	p := dbus.ObjectPath(ep)

	l.goAsync(func() {
		ctx, cancel := context.WithTimeout(l.ctx, l.cfg.ResolveTimeout)
		defer cancel()

		char, err := l.resolveCharacteristic(ctx, p)
		if err == nil {
			err = l.bus.Object(bluezService, char).CallWithContext(
				ctx, gattCharIface+".StartNotify", 0,
			).Err
		}
		if err != nil {
			if l.ctx.Err() == nil {
				l.emit(rlink.Event{Kind: rlink.Disconnected, Endpoint: ep, Err: err})
			}
			return
		}

		l.mu.Lock()
		d, ok := l.devices[p]
		if ok {
			d.char = char
			l.chars[char] = p
		}
		l.mu.Unlock()

		if !ok {
			l.emit(rlink.Event{Kind: rlink.Disconnected, Endpoint: ep, Err: rlink.ErrUnknownEndpoint})
			return
		}
		l.emit(rlink.Event{Kind: rlink.ServicesBound, Endpoint: ep})
	})
}

// resolveCharacteristic waits for BlueZ to finish resolving services on the device
// and returns the path of the token characteristic.
func (l *Link) resolveCharacteristic(ctx context.Context, p dbus.ObjectPath) (dbus.ObjectPath, error) {
	t := time.NewTicker(resolvePollInterval)
	defer t.Stop()

	dev := l.deviceObj(p)
	for {
		v, err := dev.GetProperty(deviceIface + ".ServicesResolved")
		if err != nil {
			return "", fmt.Errorf("failed to read ServicesResolved: %w", err)
		}
		if resolved, _ := v.Value().(bool); resolved {
			break
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("services not resolved: %w", context.Cause(ctx))
		case <-t.C:
		}
	}

	var objs managedObjects
	if err := l.bus.Object(bluezService, "/").CallWithContext(
		ctx, objManagerIface+".GetManagedObjects", 0,
	).Store(&objs); err != nil {
		return "", fmt.Errorf("failed to list managed objects: %w", err)
	}

	char, ok := findCharacteristic(objs, p, l.cfg.CharacteristicUUID)
	if !ok {
		return "", fmt.Errorf("device does not expose characteristic %s", l.cfg.CharacteristicUUID)
	}
	return char, nil
}

func (l *Link) Send(ep rlink.EndpointID, data []byte) error {
	p := dbus.ObjectPath(ep)

	l.mu.Lock()
	d, ok := l.devices[p]
	var char dbus.ObjectPath
	var inbound bool
	if ok {
		char, inbound = d.char, d.inbound
	}
	l.mu.Unlock()

	switch {
	case !ok:
		return rlink.ErrUnknownEndpoint

	case char != "":
		buf := make([]byte, len(data))
		copy(buf, data)
		l.goAsync(func() {
			ctx, cancel := context.WithTimeout(l.ctx, writeTimeout)
			defer cancel()

			opts := map[string]dbus.Variant{"type": dbus.MakeVariant("command")}
			if err := l.bus.Object(bluezService, char).CallWithContext(
				ctx, gattCharIface+".WriteValue", 0, buf, opts,
			).Err; err != nil {
				l.log.Debug("Failed to write characteristic", "endpoint", ep, "err", err)
			}
		})
		return nil

	case inbound:
		l.gatt.notify(data)
		return nil

	default:
		return rlink.ErrNotWritable
	}
}

func (l *Link) Disconnect(ep rlink.EndpointID) {
	p := dbus.ObjectPath(ep)

	l.mu.Lock()
	d, ok := l.devices[p]
	if ok {
		d.suppressDrop = true
	}
	l.mu.Unlock()
	if !ok {
		return
	}

	l.goAsync(func() {
		if err := l.deviceObj(p).CallWithContext(l.ctx, deviceIface+".Disconnect", 0).Err; err != nil {
			l.log.Debug("Failed to disconnect device", "endpoint", ep, "err", err)
		}
	})
}

func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	started := l.started
	l.mu.Unlock()

	var err error
	if started {
		// Bounded, since the parent context may already be gone.
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		a := l.adapterObj()
		err = errors.Join(
			ignoreBluezError(a.CallWithContext(ctx, adapterIface+".StopDiscovery", 0).Err, "NotReady", "Failed"),
			a.CallWithContext(ctx, advManagerIface+".UnregisterAdvertisement", 0, advPath).Err,
			a.CallWithContext(ctx, gattManagerIface+".UnregisterApplication", 0, appPath).Err,
		)
		cancel()

		l.cancel()
		l.bus.RemoveSignal(l.signals)
		l.gatt.unexport()
	}

	l.wg.Wait()

	return errors.Join(err, l.bus.Close())
}
