package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotObject is returned when a payload is not a JSON object.
	ErrNotObject = errors.New("payload is not an object")
	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("missing field")
	// ErrWrongType is returned when a field has an unexpected JSON type.
	ErrWrongType = errors.New("wrong field type")
)

// VideoFrame is a validated video-frame payload. Raw holds the original
// object, extra fields included.
type VideoFrame struct {
	ID    string
	Frame string
	Raw   json.RawMessage
}

// Classification is a validated classification payload.
type Classification struct {
	Image       string
	HasImage    bool
	Predictions []json.RawMessage
	Raw         json.RawMessage
}

// DecodeVideoFrame validates raw as {id: string, frame: string, ...}.
func DecodeVideoFrame(raw []byte) (VideoFrame, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return VideoFrame{}, err
	}
	id, err := stringField(obj, "id")
	if err != nil {
		return VideoFrame{}, err
	}
	frame, err := stringField(obj, "frame")
	if err != nil {
		return VideoFrame{}, err
	}
	return VideoFrame{ID: id, Frame: frame, Raw: json.RawMessage(raw)}, nil
}

// DecodeClassification validates raw as an object carrying a string image,
// an array of predictions, or both.
func DecodeClassification(raw []byte) (Classification, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return Classification{}, err
	}
	c := Classification{Raw: json.RawMessage(raw)}
	if v, ok := obj["predictions"]; ok && jsonKind(v) == '[' {
		if err := json.Unmarshal(v, &c.Predictions); err != nil {
			return Classification{}, fmt.Errorf("predictions: %w", ErrWrongType)
		}
		if c.Predictions == nil {
			c.Predictions = []json.RawMessage{}
		}
	}
	if v, ok := obj["image"]; ok && jsonKind(v) == '"' {
		if err := json.Unmarshal(v, &c.Image); err != nil {
			return Classification{}, fmt.Errorf("image: %w", ErrWrongType)
		}
		c.HasImage = true
	}
	if c.Predictions == nil && !c.HasImage {
		return Classification{}, fmt.Errorf("predictions or image: %w", ErrMissingField)
	}
	return c, nil
}

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	if jsonKind(raw) != '{' {
		return nil, ErrNotObject
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	return obj, nil
}

func stringField(obj map[string]json.RawMessage, name string) (string, error) {
	v, ok := obj[name]
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrMissingField)
	}
	if jsonKind(v) != '"' {
		return "", fmt.Errorf("%s: %w", name, ErrWrongType)
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%s: %w", name, ErrWrongType)
	}
	return s, nil
}

// jsonKind returns the first significant byte of a JSON value, or 0.
func jsonKind(v []byte) byte {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return 0
	}
	return v[0]
}
