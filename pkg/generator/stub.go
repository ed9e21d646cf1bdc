package generator

import (
	"context"
	"encoding/base64"
)

// stubPNG is a 1x1 grayscale PNG.
const stubPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR4nGNgYAAAAAMAASsJTYQAAAAASUVORK5CYII="

// Stub returns the same tiny PNG for every prompt.
type Stub struct{}

// StubImage returns a copy of the stub PNG bytes.
func StubImage() []byte {
	b, _ := base64.StdEncoding.DecodeString(stubPNG)
	return b
}

func (Stub) Generate(ctx context.Context, _ Params) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return StubImage(), nil
}
