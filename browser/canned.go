package browser

import (
	"bytes"
	"context"
	"fmt"
)

// minimalPNG is a valid 1x1 transparent PNG: signature, IHDR, IDAT, IEND.
var minimalPNG = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A,
	0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4, 0x89,
	0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41, 0x54,
	0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00, 0x05, 0x00, 0x01,
	0x0D, 0x0A, 0x2D, 0xB4,
	0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44,
	0xAE, 0x42, 0x60, 0x82,
}

// Canned is an [Automator] with deterministic answers and no real browser.
// It lets the whole server run end-to-end in development and in tests.
type Canned struct{}

func (Canned) Browse(ctx context.Context, instructions string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("No live browser is attached to this deployment; instructions received: %s", instructions), nil
}

func (Canned) Screenshot(ctx context.Context, instructions string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return bytes.Clone(minimalPNG), nil
}
