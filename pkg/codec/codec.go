// Package codec selects the wire format used for entity data and persisted world records.
package codec

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/shamaton/msgpack/v3"
)

// Codec is an encoding for arbitrary Go values.
type Codec uint8

const (
	Undefined Codec = iota
	JSON
	MsgPack
)

const (
	jsonString      = "JSON"
	msgPackString   = "MSGPACK"
	undefinedString = "UNDEFINED"
)

func (c Codec) String() string {
	switch c {
	case JSON:
		return jsonString
	case MsgPack:
		return msgPackString
	case Undefined:
		return undefinedString
	default:
		return undefinedString
	}
}

func (c Codec) IsValid() bool {
	return c == JSON || c == MsgPack
}

func Parse(s string) (Codec, error) {
	switch strings.ToUpper(s) {
	case jsonString:
		return JSON, nil
	case msgPackString:
		return MsgPack, nil
	default:
		return Undefined, eris.Errorf("invalid codec: %s", s)
	}
}

// UnmarshalText lets Codec be parsed directly from environment variables.
func (c *Codec) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c Codec) Marshal(v any) ([]byte, error) {
	switch c {
	case JSON:
		data, err := json.Marshal(v)
		return data, eris.Wrap(err, "json marshal")
	case MsgPack:
		data, err := msgpack.Marshal(v)
		return data, eris.Wrap(err, "msgpack marshal")
	case Undefined:
	}
	return nil, eris.Errorf("cannot marshal with codec %s", c)
}

func (c Codec) Unmarshal(data []byte, v any) error {
	switch c {
	case JSON:
		return eris.Wrap(json.Unmarshal(data, v), "json unmarshal")
	case MsgPack:
		return eris.Wrap(msgpack.Unmarshal(data, v), "msgpack unmarshal")
	case Undefined:
	}
	return eris.Errorf("cannot unmarshal with codec %s", c)
}
