package rble

import (
	"errors"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService = "org.bluez"

	adapterIface       = "org.bluez.Adapter1"
	deviceIface        = "org.bluez.Device1"
	gattServiceIface   = "org.bluez.GattService1"
	gattCharIface      = "org.bluez.GattCharacteristic1"
	gattManagerIface   = "org.bluez.GattManager1"
	advertisementIface = "org.bluez.LEAdvertisement1"
	advManagerIface    = "org.bluez.LEAdvertisingManager1"

	objManagerIface = "org.freedesktop.DBus.ObjectManager"
	propsIface      = "org.freedesktop.DBus.Properties"
)

// managedObjects is the shape of ObjectManager.GetManagedObjects
// and of the InterfacesAdded signal payload.
type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

func containsUUID(list []string, target string) bool {
	for _, s := range list {
		if strings.EqualFold(s, target) {
			return true
		}
	}
	return false
}

// advertisesService reports whether a Device1 property set
// lists the service UUID.
func advertisesService(props map[string]dbus.Variant, svc string) bool {
	v, ok := props["UUIDs"]
	if !ok {
		return false
	}
	uu, _ := v.Value().([]string)
	return containsUUID(uu, svc)
}

// isUnder reports whether p is a descendant of parent in the object tree.
func isUnder(p, parent dbus.ObjectPath) bool {
	return strings.HasPrefix(string(p), string(parent)+"/")
}

// findCharacteristic returns the path of the characteristic with the given UUID
// beneath the device at dev.
func findCharacteristic(objs managedObjects, dev dbus.ObjectPath, charUUID string) (dbus.ObjectPath, bool) {
	for path, ifaces := range objs {
		props, ok := ifaces[gattCharIface]
		if !ok || !isUnder(path, dev) {
			continue
		}
		v, ok := props["UUID"]
		if !ok {
			continue
		}
		if u, _ := v.Value().(string); strings.EqualFold(u, charUUID) {
			return path, true
		}
	}
	return "", false
}

func macFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+5:], "_", ":")
}

// isBluezError reports whether err is an org.bluez.Error with one of the given short names.
func isBluezError(err error, names ...string) bool {
	var de dbus.Error
	if !errors.As(err, &de) {
		var dp *dbus.Error
		if !errors.As(err, &dp) {
			return false
		}
		de = *dp
	}
	for _, n := range names {
		if de.Name == "org.bluez.Error."+n {
			return true
		}
	}
	return false
}

func ignoreBluezError(err error, names ...string) error {
	if isBluezError(err, names...) {
		return nil
	}
	return err
}
