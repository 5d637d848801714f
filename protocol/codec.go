package protocol

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoded packet: msgpack map {"type": <command>, "data": <command fields>}

type outEnvelope struct {
	Type string `msgpack:"type"`
	Data Packet `msgpack:"data"`
}

type inEnvelope struct {
	Type string             `msgpack:"type"`
	Data msgpack.RawMessage `msgpack:"data"`
}

// Encode serializes a packet into its wire envelope.
func Encode(p Packet) ([]byte, error) {
	if p == nil {
		return nil, errors.New("encode nil packet")
	}
	data, err := msgpack.Marshal(&outEnvelope{Type: string(p.Command()), Data: p})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", p.Command(), err)
	}
	return data, nil
}

// Decode parses an envelope and dispatches on its tag into the matching variant.
//
// Malformed bytes and schema mismatches return errors wrapping ErrDecode; a valid
// envelope with an unregistered tag returns ErrUnknownCommand. Unknown fields inside
// data are ignored.
func Decode(b []byte) (Packet, error) {
	var env inEnvelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrDecode, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: envelope has no type", ErrDecode)
	}

	factory, ok := registry[Command(env.Type)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Type)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s envelope has no data", ErrDecode, env.Type)
	}

	p := factory()
	if err := msgpack.Unmarshal(env.Data, p); err != nil {
		return nil, fmt.Errorf("%w: %s data: %v", ErrDecode, env.Type, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return p, nil
}
