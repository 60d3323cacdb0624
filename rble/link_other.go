//go:build !linux

package rble

import (
	"context"
	"log/slog"

	"github.com/gordian-engine/radar/rlink"
)

// Link is unavailable on this platform; [NewLink] always fails.
type Link struct{}

var _ rlink.Link = (*Link)(nil)

func NewLink(*slog.Logger, Config) (*Link, error) {
	return nil, ErrUnsupportedPlatform
}

func (*Link) Start(context.Context, chan<- rlink.Event) error { return ErrUnsupportedPlatform }

func (*Link) Scan()                               {}
func (*Link) PauseScan()                          {}
func (*Link) Connect(rlink.EndpointID)            {}
func (*Link) DiscoverServices(rlink.EndpointID)   {}
func (*Link) Send(rlink.EndpointID, []byte) error { return rlink.ErrNotWritable }
func (*Link) Disconnect(rlink.EndpointID)         {}
func (*Link) Close() error                        { return nil }
