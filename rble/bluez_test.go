package rble

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"
)

const testSvc = "0000180d-0000-1000-8000-00805f9b34fb"

func TestParseSignal_interfacesAdded(t *testing.T) {
	t.Parallel()

	dev := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")

	t.Run("advertising the service", func(t *testing.T) {
		t.Parallel()

		sig := &dbus.Signal{
			Name: objManagerIface + ".InterfacesAdded",
			Body: []any{
				dev,
				map[string]map[string]dbus.Variant{
					deviceIface: {
						"UUIDs": dbus.MakeVariant([]string{"0000180D-0000-1000-8000-00805F9B34FB"}),
					},
				},
			},
		}
		require.Equal(t, []notice{{Kind: noticeDeviceFound, Path: dev}}, parseSignal(sig, testSvc))
	})

	t.Run("other service", func(t *testing.T) {
		t.Parallel()

		sig := &dbus.Signal{
			Name: objManagerIface + ".InterfacesAdded",
			Body: []any{
				dev,
				map[string]map[string]dbus.Variant{
					deviceIface: {
						"UUIDs": dbus.MakeVariant([]string{"0000180f-0000-1000-8000-00805f9b34fb"}),
					},
				},
			},
		}
		require.Empty(t, parseSignal(sig, testSvc))
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()

		sig := &dbus.Signal{Name: objManagerIface + ".InterfacesAdded", Body: []any{dev}}
		require.Empty(t, parseSignal(sig, testSvc))
	})
}

func TestParseSignal_interfacesRemoved(t *testing.T) {
	t.Parallel()

	dev := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")

	sig := &dbus.Signal{
		Name: objManagerIface + ".InterfacesRemoved",
		Body: []any{dev, []string{propsIface, deviceIface}},
	}
	require.Equal(t, []notice{{Kind: noticeDeviceRemoved, Path: dev}}, parseSignal(sig, testSvc))

	sig.Body = []any{dev, []string{gattServiceIface}}
	require.Empty(t, parseSignal(sig, testSvc))
}

func TestParseSignal_propertiesChanged(t *testing.T) {
	t.Parallel()

	dev := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	char := dev + "/service0010/char0011"

	t.Run("device connection state", func(t *testing.T) {
		t.Parallel()

		sig := &dbus.Signal{
			Name: propsIface + ".PropertiesChanged",
			Path: dev,
			Body: []any{
				deviceIface,
				map[string]dbus.Variant{
					"Connected":        dbus.MakeVariant(false),
					"ServicesResolved": dbus.MakeVariant(true),
				},
				[]string{},
			},
		}
		require.Equal(t, []notice{
			{Kind: noticeDeviceDisconnected, Path: dev},
			{Kind: noticeServicesResolved, Path: dev},
		}, parseSignal(sig, testSvc))
	})

	t.Run("characteristic value", func(t *testing.T) {
		t.Parallel()

		sig := &dbus.Signal{
			Name: propsIface + ".PropertiesChanged",
			Path: char,
			Body: []any{
				gattCharIface,
				map[string]dbus.Variant{"Value": dbus.MakeVariant([]byte("tok"))},
				[]string{},
			},
		}
		require.Equal(t, []notice{
			{Kind: noticeValue, Path: char, Value: []byte("tok")},
		}, parseSignal(sig, testSvc))
	})

	t.Run("unrelated interface", func(t *testing.T) {
		t.Parallel()

		sig := &dbus.Signal{
			Name: propsIface + ".PropertiesChanged",
			Path: "/org/bluez/hci0",
			Body: []any{
				adapterIface,
				map[string]dbus.Variant{"Discovering": dbus.MakeVariant(true)},
				[]string{},
			},
		}
		require.Empty(t, parseSignal(sig, testSvc))
	})
}

func TestFindCharacteristic(t *testing.T) {
	t.Parallel()

	const charUUID = "00002a37-0000-1000-8000-00805f9b34fb"

	devA := dbus.ObjectPath("/org/bluez/hci0/dev_AA_AA_AA_AA_AA_AA")
	devB := dbus.ObjectPath("/org/bluez/hci0/dev_BB_BB_BB_BB_BB_BB")

	objs := managedObjects{
		devA: {deviceIface: {}},
		devA + "/service0010/char0011": {
			gattCharIface: {"UUID": dbus.MakeVariant("00002a38-0000-1000-8000-00805f9b34fb")},
		},
		devA + "/service0010/char0013": {
			gattCharIface: {"UUID": dbus.MakeVariant(charUUID)},
		},
		devB + "/service0010/char0011": {
			gattCharIface: {"UUID": dbus.MakeVariant(charUUID)},
		},
	}

	got, ok := findCharacteristic(objs, devA, charUUID)
	require.True(t, ok)
	require.Equal(t, devA+"/service0010/char0013", got)

	// Prefix of another device path must not match.
	_, ok = findCharacteristic(objs, "/org/bluez/hci0/dev_BB", charUUID)
	require.False(t, ok)
}

func TestMacFromPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "AA:BB:CC:DD:EE:FF", macFromPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"))
	require.Empty(t, macFromPath("/org/bluez/hci0"))
}

func TestIsBluezError(t *testing.T) {
	t.Parallel()

	err := dbus.Error{Name: "org.bluez.Error.InProgress"}
	require.True(t, isBluezError(err, "Failed", "InProgress"))
	require.False(t, isBluezError(err, "Failed"))
	require.False(t, isBluezError(nil, "InProgress"))

	require.NoError(t, ignoreBluezError(&err, "InProgress"))
	require.Error(t, ignoreBluezError(err, "NotReady"))
}

func TestConfig_validate(t *testing.T) {
	t.Parallel()

	require.NotPanics(t, func() {
		Config{}.validate()
	})

	require.Panics(t, func() {
		Config{ServiceUUID: "180d"}.validate()
	})
	require.Panics(t, func() {
		Config{Adapter: "/org/bluez/hci0"}.validate()
	})

	c := Config{ServiceUUID: "0000180D-0000-1000-8000-00805F9B34FB"}
	c.setDefaults()
	require.Equal(t, testSvc, c.ServiceUUID)
	require.Equal(t, DefaultAdapter, c.Adapter)
}
