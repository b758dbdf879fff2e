package tool

import (
	"bytes"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wingie/webagent/mcp"
)

func textOf(t *testing.T, res mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content block is %T, want TextContent", res.Content[0])
	return tc.Text
}

func imageOf(t *testing.T, res mcp.CallToolResult) mcp.ImageContent {
	t.Helper()
	require.Len(t, res.Content, 1)
	ic, ok := res.Content[0].(mcp.ImageContent)
	require.True(t, ok, "content block is %T, want ImageContent", res.Content[0])
	return ic
}

func TestSerializerNilResult(t *testing.T) {
	res := Serializer{}.Result("noop", nil)
	require.False(t, res.IsError)
	require.Equal(t, "Tool executed successfully with no output", textOf(t, res))
}

func TestSerializerPassesEnvelopesThrough(t *testing.T) {
	env := mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.NewTextContent("done")}, IsError: true}

	require.Equal(t, env, Serializer{}.Result("t", env))
	require.Equal(t, env, Serializer{}.Result("t", &env))
}

func TestSerializerContentBlocks(t *testing.T) {
	block := mcp.NewImageURLContent("https://example.com/a.png", "image/png")
	res := Serializer{}.Result("t", block)
	require.Equal(t, []mcp.ContentBlock{block}, res.Content)

	blocks := []mcp.ContentBlock{mcp.NewTextContent("a"), mcp.NewTextContent("b")}
	res = Serializer{}.Result("t", blocks)
	require.Equal(t, blocks, res.Content)
}

func TestSerializerScalars(t *testing.T) {
	s := Serializer{}
	tests := []struct {
		v    any
		want string
	}{
		{"plain text", "plain text"},
		{true, "true"},
		{false, "false"},
		{42, "42"},
		{int32(-7), "-7"},
		{int64(1 << 40), "1099511627776"},
		{float32(1.5), "1.5"},
		{2.5, "2.5"},
		{float64(3), "3"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, textOf(t, s.Result("t", tt.v)), "value %#v", tt.v)
	}
}

func TestSerializerStringer(t *testing.T) {
	// Named types with a String method take their textual form, including
	// named integer types like time.Duration.
	require.Equal(t, "1s", textOf(t, Serializer{}.Result("t", time.Second)))
}

func TestSerializerError(t *testing.T) {
	res := Serializer{}.Result("t", errors.New("backend unreachable"))
	require.True(t, res.IsError)
	require.Equal(t, "backend unreachable", textOf(t, res))
}

func TestSerializerStructAsJSON(t *testing.T) {
	v := struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}{Name: "links", Count: 3}
	require.JSONEq(t, `{"name":"links","count":3}`, textOf(t, Serializer{}.Result("t", v)))

	require.Equal(t, "[1,2,3]", textOf(t, Serializer{}.Result("t", []int{1, 2, 3})))
}

func TestSerializerUnserialisableValue(t *testing.T) {
	res := Serializer{}.Result("weird", make(chan int))
	require.True(t, res.IsError)
	require.Contains(t, textOf(t, res), "unserialisable")
	require.Contains(t, textOf(t, res), "weird")
}

func TestSerializerBytesSniffMime(t *testing.T) {
	png := append([]byte{0x89, 0x50, 0x4E, 0x47}, 1, 2, 3)
	jpeg := append([]byte{0xFF, 0xD8}, 4, 5)
	other := []byte{0x00, 0x01}

	res := imageOf(t, Serializer{}.Result("shot", png))
	require.Equal(t, "image/png", res.MimeType)
	require.Equal(t, base64.StdEncoding.EncodeToString(png), res.Data)

	require.Equal(t, "image/jpeg", imageOf(t, Serializer{}.Result("shot", jpeg)).MimeType)
	// Unrecognized payloads default to PNG.
	require.Equal(t, "image/png", imageOf(t, Serializer{}.Result("shot", other)).MimeType)
}

func TestSerializerDataURIString(t *testing.T) {
	jpegPayload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8, 0xFF, 0xE0})

	// The mime comes from the decoded magic bytes, not the URI's claim.
	res := imageOf(t, Serializer{}.Result("shot", "data:image/png;base64,"+jpegPayload))
	require.Equal(t, "image/jpeg", res.MimeType)
	require.Equal(t, jpegPayload, res.Data)

	// A data URI whose payload is not base64 is returned as the literal text.
	broken := "data:image/png;base64,%%not-base64%%"
	require.Equal(t, broken, textOf(t, Serializer{}.Result("shot", broken)))
}

func TestSerializerBareBase64String(t *testing.T) {
	raw := append([]byte{0x89, 0x50, 0x4E, 0x47}, make([]byte, 900)...)
	long := base64.StdEncoding.EncodeToString(raw)
	require.Greater(t, len(long), minBase64ImageLen)

	res := imageOf(t, Serializer{}.Result("shot", long))
	require.Equal(t, "image/png", res.MimeType)
	require.Equal(t, long, res.Data)

	// Long strings that do not decode stay text.
	notB64 := strings.Repeat("x", minBase64ImageLen+1)
	require.Equal(t, notB64, textOf(t, Serializer{}.Result("shot", notB64)))

	// Short base64 stays text too; only long payloads are sniffed.
	short := base64.StdEncoding.EncodeToString([]byte{0x89, 0x50, 0x4E, 0x47})
	require.Equal(t, short, textOf(t, Serializer{}.Result("shot", short)))
}

func TestSerializerWarnsOnLargeResults(t *testing.T) {
	var buf bytes.Buffer
	s := Serializer{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	big := map[string]string{"blob": strings.Repeat("a", maxInlineJSONChars)}
	res := s.Result("scrape", big)

	require.False(t, res.IsError)
	require.Greater(t, len(textOf(t, res)), maxInlineJSONChars, "large results are returned in full")
	require.Contains(t, buf.String(), "Large tool result")
	require.Contains(t, buf.String(), "scrape")

	// Without a logger the same result passes quietly.
	require.False(t, Serializer{}.Result("scrape", big).IsError)
}
