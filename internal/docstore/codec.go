package docstore

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// ToData encodes a struct (or map) into document fields using its json tags.
func ToData(v any) (Data, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "docstore: encode document")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, errors.Wrap(err, "docstore: encode document")
	}
	return NormalizeData(m), nil
}

// MustData is ToData for values that are known to encode.
func MustData(v any) Data {
	d, err := ToData(v)
	if err != nil {
		panic(err)
	}
	return d
}

// DataTo decodes document fields into v using its json tags.
func DataTo(data Data, v any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "docstore: decode document")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, "docstore: decode document")
	}
	return nil
}
