package rquic

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// announcement identifies a participant.
// It is multicast as a beacon
// and sent again as the first frame of every dialed session.
//
//	message Announcement {
//	  string service_type = 1;
//	  bytes  instance_id  = 2;
//	  uint32 port         = 3;
//	}
type announcement struct {
	ServiceType string
	InstanceID  uuid.UUID

	// QUIC listening port. Zero in a session hello.
	Port uint16
}

const (
	fieldServiceType protowire.Number = 1
	fieldInstanceID  protowire.Number = 2
	fieldPort        protowire.Number = 3
)

const maxServiceTypeLen = 64

func (a announcement) encode() []byte {
	b := make([]byte, 0, 32+len(a.ServiceType))
	b = protowire.AppendTag(b, fieldServiceType, protowire.BytesType)
	b = protowire.AppendString(b, a.ServiceType)
	b = protowire.AppendTag(b, fieldInstanceID, protowire.BytesType)
	b = protowire.AppendBytes(b, a.InstanceID[:])
	if a.Port != 0 {
		b = protowire.AppendTag(b, fieldPort, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.Port))
	}
	return b
}

func decodeAnnouncement(b []byte) (announcement, error) {
	var a announcement
	var haveID bool

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return announcement{}, fmt.Errorf("malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldServiceType && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return announcement{}, fmt.Errorf("malformed service type: %w", protowire.ParseError(n))
			}
			if len(v) > maxServiceTypeLen {
				return announcement{}, fmt.Errorf("service type too long (%d bytes)", len(v))
			}
			a.ServiceType = v
			b = b[n:]

		case num == fieldInstanceID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return announcement{}, fmt.Errorf("malformed instance ID: %w", protowire.ParseError(n))
			}
			id, err := uuid.FromBytes(v)
			if err != nil {
				return announcement{}, fmt.Errorf("invalid instance ID: %w", err)
			}
			a.InstanceID = id
			haveID = true
			b = b[n:]

		case num == fieldPort && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return announcement{}, fmt.Errorf("malformed port: %w", protowire.ParseError(n))
			}
			if v == 0 || v > 0xffff {
				return announcement{}, fmt.Errorf("port %d out of range", v)
			}
			a.Port = uint16(v)
			b = b[n:]

		default:
			// Skip unknown fields so newer peers can extend the announcement.
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return announcement{}, fmt.Errorf("malformed field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if a.ServiceType == "" {
		return announcement{}, errors.New("missing service type")
	}
	if !haveID {
		return announcement{}, errors.New("missing instance ID")
	}
	return a, nil
}
