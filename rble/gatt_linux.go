//go:build linux

package rble

import (
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
)

const (
	appPath  dbus.ObjectPath = "/org/gordian/radar"
	svcPath  dbus.ObjectPath = appPath + "/service0"
	charPath dbus.ObjectPath = svcPath + "/char0"
	advPath  dbus.ObjectPath = appPath + "/advertisement0"
)

// gattServer is the local peripheral:
// one service with one characteristic, plus the LE advertisement for it.
type gattServer struct {
	log *slog.Logger
	bus *dbus.Conn

	svcUUID, charUUID string

	charProps *prop.Properties

	// Called from the bus dispatch goroutine for every inbound write.
	onWrite func(from dbus.ObjectPath, data []byte)
}

// root implements ObjectManager on appPath, which GattManager1 requires.
type gattRoot struct{ s *gattServer }

func (r gattRoot) GetManagedObjects() (managedObjects, *dbus.Error) {
	return managedObjects{
		svcPath: {
			gattServiceIface: {
				"UUID":    dbus.MakeVariant(r.s.svcUUID),
				"Primary": dbus.MakeVariant(true),
			},
		},
		charPath: {
			gattCharIface: r.s.charPropsSnapshot(),
		},
	}, nil
}

type gattChar struct{ s *gattServer }

func (c gattChar) ReadValue(_ map[string]dbus.Variant) ([]byte, *dbus.Error) {
	v, err := c.s.charProps.Get(gattCharIface, "Value")
	if err != nil {
		return nil, err
	}
	b, _ := v.Value().([]byte)
	return b, nil
}

func (c gattChar) WriteValue(value []byte, opts map[string]dbus.Variant) *dbus.Error {
	var from dbus.ObjectPath
	if v, ok := opts["device"]; ok {
		from, _ = v.Value().(dbus.ObjectPath)
	}
	if from == "" {
		c.s.log.Debug("Dropping characteristic write without device option")
		return nil
	}

	// Copy; the slice belongs to the bus decoder.
	data := make([]byte, len(value))
	copy(data, value)
	c.s.onWrite(from, data)
	return nil
}

// StartNotify and StopNotify are handled by BlueZ tracking subscribers itself;
// changes to Value are forwarded to every subscribed central.
func (c gattChar) StartNotify() *dbus.Error { return nil }
func (c gattChar) StopNotify() *dbus.Error  { return nil }

type advertisement struct{}

func (advertisement) Release() *dbus.Error { return nil }

func (s *gattServer) charPropsSnapshot() map[string]dbus.Variant {
	out := make(map[string]dbus.Variant, 4)
	for _, name := range []string{"UUID", "Service", "Flags", "Value"} {
		if v, err := s.charProps.Get(gattCharIface, name); err == nil {
			out[name] = v
		}
	}
	return out
}

// export publishes the GATT objects and the advertisement on the bus.
// It does not register them with BlueZ.
func (s *gattServer) export(localName string) error {
	if err := s.bus.Export(gattRoot{s: s}, appPath, objManagerIface); err != nil {
		return err
	}

	svcProps, err := prop.Export(s.bus, svcPath, prop.Map{
		gattServiceIface: {
			"UUID":    {Value: s.svcUUID, Emit: prop.EmitFalse},
			"Primary": {Value: true, Emit: prop.EmitFalse},
		},
	})
	if err != nil {
		return err
	}

	s.charProps, err = prop.Export(s.bus, charPath, prop.Map{
		gattCharIface: {
			"UUID":    {Value: s.charUUID, Emit: prop.EmitFalse},
			"Service": {Value: svcPath, Emit: prop.EmitFalse},
			"Flags": {
				Value: []string{"read", "write", "write-without-response", "notify"},
				Emit:  prop.EmitFalse,
			},
			"Value": {Value: []byte{}, Emit: prop.EmitTrue},
		},
	})
	if err != nil {
		return err
	}
	if err := s.bus.Export(gattChar{s: s}, charPath, gattCharIface); err != nil {
		return err
	}

	advMap := map[string]*prop.Prop{
		"Type":         {Value: "peripheral", Emit: prop.EmitFalse},
		"ServiceUUIDs": {Value: []string{s.svcUUID}, Emit: prop.EmitFalse},
	}
	if localName != "" {
		advMap["LocalName"] = &prop.Prop{Value: localName, Emit: prop.EmitFalse}
	}
	advProps, err := prop.Export(s.bus, advPath, prop.Map{advertisementIface: advMap})
	if err != nil {
		return err
	}
	if err := s.bus.Export(advertisement{}, advPath, advertisementIface); err != nil {
		return err
	}

	for _, n := range []struct {
		Path  dbus.ObjectPath
		Iface introspect.Interface
	}{
		{svcPath, introspect.Interface{
			Name:       gattServiceIface,
			Properties: svcProps.Introspection(gattServiceIface),
		}},
		{charPath, introspect.Interface{
			Name:       gattCharIface,
			Methods:    introspect.Methods(gattChar{}),
			Properties: s.charProps.Introspection(gattCharIface),
		}},
		{advPath, introspect.Interface{
			Name:       advertisementIface,
			Methods:    introspect.Methods(advertisement{}),
			Properties: advProps.Introspection(advertisementIface),
		}},
	} {
		node := &introspect.Node{
			Name: string(n.Path),
			Interfaces: []introspect.Interface{
				introspect.IntrospectData,
				prop.IntrospectData,
				n.Iface,
			},
		}
		if err := s.bus.Export(
			introspect.NewIntrospectable(node), n.Path, "org.freedesktop.DBus.Introspectable",
		); err != nil {
			return err
		}
	}

	return nil
}

// notify sets the characteristic value,
// which BlueZ forwards to every subscribed central.
func (s *gattServer) notify(data []byte) {
	s.charProps.SetMust(gattCharIface, "Value", data)
}

func (s *gattServer) unexport() {
	for _, p := range []dbus.ObjectPath{appPath, svcPath, charPath, advPath} {
		_ = s.bus.Export(nil, p, objManagerIface)
		_ = s.bus.Export(nil, p, gattServiceIface)
		_ = s.bus.Export(nil, p, gattCharIface)
		_ = s.bus.Export(nil, p, advertisementIface)
		_ = s.bus.Export(nil, p, propsIface)
		_ = s.bus.Export(nil, p, "org.freedesktop.DBus.Introspectable")
	}
}
