package rble

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gordian-engine/radar/rlink"
)

const (
	DefaultAdapter = "hci0"

	DefaultConnectTimeout = 10 * time.Second

	// DefaultResolveTimeout bounds GATT service resolution after a connect.
	DefaultResolveTimeout = 15 * time.Second
)

// ErrUnsupportedPlatform is returned from [NewLink] where BlueZ is unavailable.
var ErrUnsupportedPlatform = errors.New("BLE link requires BlueZ on Linux")

// Config is the configuration for a [Link].
type Config struct {
	// BlueZ adapter name. If empty, [DefaultAdapter] is used.
	Adapter string

	// If empty, [rlink.DefaultServiceUUID] is used.
	ServiceUUID string

	// If empty, [rlink.DefaultCharacteristicUUID] is used.
	CharacteristicUUID string

	// Name included in the advertisement. Optional.
	LocalName string

	// Zero values use the package defaults.
	ConnectTimeout time.Duration
	ResolveTimeout time.Duration
}

func (c Config) validate() {
	var panicErrs error

	for _, f := range []struct {
		Name string
		V    string
	}{
		{"ServiceUUID", c.ServiceUUID},
		{"CharacteristicUUID", c.CharacteristicUUID},
	} {
		if f.V != "" && !isUUID128(f.V) {
			panicErrs = errors.Join(panicErrs, fmt.Errorf(
				"Config.%s must be a 128-bit UUID string (got %q)", f.Name, f.V,
			))
		}
	}

	if strings.ContainsAny(c.Adapter, "/ ") {
		panicErrs = errors.Join(panicErrs, fmt.Errorf(
			"Config.Adapter must be a bare adapter name like hci0 (got %q)", c.Adapter,
		))
	}

	if c.ConnectTimeout < 0 || c.ResolveTimeout < 0 {
		panicErrs = errors.Join(panicErrs, errors.New("Config timeouts must not be negative"))
	}

	if panicErrs != nil {
		panic(panicErrs)
	}
}

func (c *Config) setDefaults() {
	if c.Adapter == "" {
		c.Adapter = DefaultAdapter
	}
	if c.ServiceUUID == "" {
		c.ServiceUUID = rlink.DefaultServiceUUID
	}
	if c.CharacteristicUUID == "" {
		c.CharacteristicUUID = rlink.DefaultCharacteristicUUID
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ResolveTimeout == 0 {
		c.ResolveTimeout = DefaultResolveTimeout
	}

	// BlueZ reports UUIDs in lower case.
	c.ServiceUUID = strings.ToLower(c.ServiceUUID)
	c.CharacteristicUUID = strings.ToLower(c.CharacteristicUUID)
}

// isUUID128 reports whether s is in the canonical 36-character form BlueZ uses.
func isUUID128(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
