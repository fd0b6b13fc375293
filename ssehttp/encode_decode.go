package ssehttp

import "encoding/json"

// EncodeJSON is a default sseconn.EncodeFunc that renders v as its JSON
// string, mirroring peterbourgon/ps's pshttp.Encode.
func EncodeJSON[T any](v T) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeJSON is a default DecodeFunc that parses s as JSON into T,
// mirroring peterbourgon/ps's pshttp.Decode.
func DecodeJSON[T any](s string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

// decodeJSONString unmarshals the wire envelope body (a JSON-encoded
// string, §6) into dst.
func decodeJSONString(body []byte, dst *string) error {
	return json.Unmarshal(body, dst)
}

// encodeJSONString marshals a wire payload string into its JSON envelope.
func encodeJSONString(payload string) ([]byte, error) {
	return json.Marshal(payload)
}
