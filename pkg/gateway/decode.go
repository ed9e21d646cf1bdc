package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/3leaps/imagequeue/pkg/manifest"
)

// MaxBodyBytes bounds a submission body, base64 references included.
const MaxBodyBytes = 10 << 20

// rawInput keeps every field raw so a wrong JSON type is reported per field
// instead of failing the whole decode.
type rawInput struct {
	Prompt     json.RawMessage `json:"prompt"`
	Size       json.RawMessage `json:"size"`
	Quality    json.RawMessage `json:"quality"`
	Background json.RawMessage `json:"background"`
	References json.RawMessage `json:"references"`
}

// DecodeInput parses a JSON submission body into a request. Absent or null
// fields are left empty for ApplyDefaults; fields of the wrong JSON type and
// a missing or non-string prompt yield a *ValidationError.
func DecodeInput(r io.Reader) (manifest.Request, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxBodyBytes+1))
	if err != nil {
		return manifest.Request{}, &ValidationError{Message: "unreadable request body"}
	}
	if len(data) > MaxBodyBytes {
		return manifest.Request{}, &ValidationError{Message: "request body too large"}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return manifest.Request{}, promptRequired()
	}

	var in rawInput
	if err := json.Unmarshal(data, &in); err != nil {
		return manifest.Request{}, &ValidationError{Message: "invalid JSON body"}
	}

	var req manifest.Request
	if !decodeString(in.Prompt, &req.Prompt) || strings.TrimSpace(req.Prompt) == "" {
		return manifest.Request{}, promptRequired()
	}

	var fields manifest.ValidationErrors
	var s string
	if decodeOptional(in.Size, &s, "/size", &fields) {
		req.Size = manifest.Size(s)
	}
	s = ""
	if decodeOptional(in.Quality, &s, "/quality", &fields) {
		req.Quality = manifest.Quality(s)
	}
	s = ""
	if decodeOptional(in.Background, &s, "/background", &fields) {
		req.Background = manifest.Background(s)
	}
	if present(in.References) {
		if err := json.Unmarshal(in.References, &req.References); err != nil {
			fields = append(fields, manifest.ValidationError{Path: "/references", Message: "must be a list of reference descriptors"})
		}
	}

	if len(fields) > 0 {
		return manifest.Request{}, &ValidationError{Message: invalidMessage(fields), Fields: fields}
	}
	return req, nil
}

func present(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && !bytes.Equal(t, []byte("null"))
}

func decodeString(raw json.RawMessage, dst *string) bool {
	if !present(raw) {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func decodeOptional(raw json.RawMessage, dst *string, path string, fields *manifest.ValidationErrors) bool {
	if !present(raw) {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		*fields = append(*fields, manifest.ValidationError{Path: path, Message: "must be a string"})
		return false
	}
	return true
}

func invalidMessage(fields manifest.ValidationErrors) string {
	return fmt.Sprintf("invalid request: %s", fields[0].Error())
}
