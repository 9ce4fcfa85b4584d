package events

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// ErrMalformedFrame is returned for frames without an event name.
var ErrMalformedFrame = errors.New("malformed frame")

// ParseFrame decodes one client frame. Data is left as the generic map
// produced by encoding/json; use DecodePayload to type it.
func ParseFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	if f.Event == "" {
		return Frame{}, ErrMalformedFrame
	}
	return f, nil
}

// DecodePayload copies a generic payload into out (a pointer to one of the
// payload structs). Scalars are weakly typed so a numeric id still decodes
// into a string field.
func DecodePayload(in any, out any) error {
	if in == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return errors.Wrap(err, "build payload decoder")
	}
	if err := dec.Decode(in); err != nil {
		return errors.Wrap(err, "decode payload")
	}
	return nil
}

// FrameFromMap decodes a frame that arrived as a generic map (gRPC structs).
func FrameFromMap(m map[string]any) (Frame, error) {
	var f Frame
	if err := DecodePayload(m, &f); err != nil {
		return Frame{}, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	if f.Event == "" {
		return Frame{}, ErrMalformedFrame
	}
	return f, nil
}

// ToMap renders f as the generic map its JSON form decodes to.
func (f Frame) ToMap() (map[string]any, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, "re-decode frame")
	}
	return m, nil
}
