package rble

import (
	"github.com/godbus/dbus/v5"
)

type noticeKind uint8

const (
	// A device object appeared, or its UUIDs changed to include the service.
	noticeDeviceFound noticeKind = iota + 1

	noticeDeviceRemoved

	noticeDeviceConnected
	noticeDeviceDisconnected
	noticeServicesResolved

	// A remote characteristic we subscribed to has a new value.
	noticeValue
)

// notice is the part of a BlueZ signal the link acts on.
type notice struct {
	Kind noticeKind
	Path dbus.ObjectPath

	// Only for noticeValue.
	Value []byte
}

// parseSignal extracts notices from one D-Bus signal.
// Signals unrelated to devices or characteristics yield nothing.
func parseSignal(sig *dbus.Signal, svcUUID string) []notice {
	if sig == nil {
		return nil
	}

	switch sig.Name {
	case objManagerIface + ".InterfacesAdded":
		if len(sig.Body) < 2 {
			return nil
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		props, ok := ifaces[deviceIface]
		if !ok || !advertisesService(props, svcUUID) {
			return nil
		}
		return []notice{{Kind: noticeDeviceFound, Path: path}}

	case objManagerIface + ".InterfacesRemoved":
		if len(sig.Body) < 2 {
			return nil
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].([]string)
		for _, i := range ifaces {
			if i == deviceIface {
				return []notice{{Kind: noticeDeviceRemoved, Path: path}}
			}
		}
		return nil

	case propsIface + ".PropertiesChanged":
		if len(sig.Body) < 2 {
			return nil
		}
		iface, _ := sig.Body[0].(string)
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		return parsePropertiesChanged(sig.Path, iface, changed, svcUUID)
	}

	return nil
}

func parsePropertiesChanged(
	path dbus.ObjectPath, iface string, changed map[string]dbus.Variant, svcUUID string,
) []notice {
	var out []notice

	switch iface {
	case deviceIface:
		if advertisesService(changed, svcUUID) {
			out = append(out, notice{Kind: noticeDeviceFound, Path: path})
		}
		if v, ok := changed["Connected"]; ok {
			if c, _ := v.Value().(bool); c {
				out = append(out, notice{Kind: noticeDeviceConnected, Path: path})
			} else {
				out = append(out, notice{Kind: noticeDeviceDisconnected, Path: path})
			}
		}
		if v, ok := changed["ServicesResolved"]; ok {
			if r, _ := v.Value().(bool); r {
				out = append(out, notice{Kind: noticeServicesResolved, Path: path})
			}
		}

	case gattCharIface:
		if v, ok := changed["Value"]; ok {
			if b, ok := v.Value().([]byte); ok {
				out = append(out, notice{Kind: noticeValue, Path: path, Value: b})
			}
		}
	}

	return out
}
