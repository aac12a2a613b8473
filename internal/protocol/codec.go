package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const (
	variantQuery    = "Query"
	variantResponse = "Response"
)

// Codec turns Messages into bus payloads and back.
type Codec interface {
	Name() string
	Encode(m Message) ([]byte, error)
	Decode(data []byte) (Message, error)
}

var (
	JSON Codec = jsonCodec{}
	CBOR Codec = cborCodec{}
)

// CodecByName resolves "json" or "cbor". Empty selects JSON.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// responseBody is the externally tagged shape {"Response": id|null}.
type responseBody struct {
	Response *uint64 `json:"Response" cbor:"Response"`
}

// wireValue returns the value that encodes m: the bare variant name for
// Query, a single-key map for Response.
func wireValue(m Message) (any, error) {
	switch m.Kind {
	case KindQuery:
		return variantQuery, nil
	case KindResponse:
		return responseBody{Response: m.ID.ptr()}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, m.Kind)
	}
}

func fromVariantName(name string) (Message, error) {
	if name == variantQuery {
		return Query(), nil
	}
	return Message{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
}

func fromTaggedMap(keys []string, body responseBody) (Message, error) {
	if len(keys) != 1 || keys[0] != variantResponse {
		return Message{}, fmt.Errorf("%w: keys %v", ErrUnknownVariant, keys)
	}
	return Response(nullFromPtr(body.Response)), nil
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Encode(m Message) ([]byte, error) {
	v, err := wireValue(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (jsonCodec) Decode(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Message{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	switch trimmed[0] {
	case '"':
		var name string
		if err := json.Unmarshal(trimmed, &name); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return fromVariantName(name)
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		var body responseBody
		if inner, ok := raw[variantResponse]; ok {
			if err := json.Unmarshal(inner, &body.Response); err != nil {
				return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
		}
		return fromTaggedMap(mapKeys(raw), body)
	default:
		return Message{}, fmt.Errorf("%w: unexpected json value", ErrMalformed)
	}
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Encode(m Message) ([]byte, error) {
	v, err := wireValue(m)
	if err != nil {
		return nil, err
	}
	return cborEnc.Marshal(v)
}

func (cborCodec) Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	var name string
	if err := cborDec.Unmarshal(data, &name); err == nil {
		return fromVariantName(name)
	}
	var raw map[string]cbor.RawMessage
	if err := cborDec.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var body responseBody
	if inner, ok := raw[variantResponse]; ok {
		if err := cborDec.Unmarshal(inner, &body.Response); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return fromTaggedMap(mapKeys(raw), body)
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
