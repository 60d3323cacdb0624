// Package rble is an [rlink.Link] over Bluetooth Low Energy,
// driving BlueZ through its D-Bus API.
//
// Each Link plays both roles at once.
// As a peripheral it advertises the radar service
// and serves one characteristic that peers write tokens to
// and subscribe to for notifications.
// As a central it scans for the same service,
// connects to peers it finds,
// subscribes to their characteristic and writes tokens to it.
//
// Endpoints are BlueZ device object paths.
// BlueZ is only available on Linux;
// on other platforms [NewLink] returns [ErrUnsupportedPlatform].
package rble
