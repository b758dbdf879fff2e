package tool

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/wingie/webagent/mcp"
)

const (
	// minBase64ImageLen is the shortest string the serializer will consider a
	// bare base64-encoded image; anything shorter is plain text.
	minBase64ImageLen = 1000

	// maxInlineJSONChars is the size above which a JSON-serialised result gets
	// a warning log (the result is still returned in full).
	maxInlineJSONChars = 10000
)

// Serializer maps a handler's return value to an MCP content envelope.
// Logger, when non-nil, receives oversized-result warnings.
type Serializer struct {
	Logger *slog.Logger
}

// ErrorResult wraps a short reason as a failed-call envelope. A tool's
// business failure travels this way, on a successful JSON-RPC response.
func ErrorResult(format string, a ...any) mcp.CallToolResult {
	return mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.NewTextContent(fmt.Sprintf(format, a...))},
		IsError: true,
	}
}

func textResult(text string) mcp.CallToolResult {
	return mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.NewTextContent(text)}}
}

// Result converts v into a CallToolResult. It never fails: a value that
// cannot be serialised comes back as an error envelope, not a Go error.
func (s Serializer) Result(toolName string, v any) mcp.CallToolResult {
	switch r := v.(type) {
	case nil:
		return textResult("Tool executed successfully with no output")

	case mcp.CallToolResult: // handler built the envelope itself (incl. business failures)
		return r
	case *mcp.CallToolResult:
		return *r

	case mcp.ContentBlock:
		return mcp.CallToolResult{Content: []mcp.ContentBlock{r}}

	case []mcp.ContentBlock:
		return mcp.CallToolResult{Content: r}

	case string:
		if img, ok := s.imageFromString(r); ok {
			return mcp.CallToolResult{Content: []mcp.ContentBlock{img}}
		}
		return textResult(r)

	case []byte:
		data := base64.StdEncoding.EncodeToString(r)
		return mcp.CallToolResult{Content: []mcp.ContentBlock{mcp.NewImageContent(data, sniffImageMime(r))}}

	case bool:
		return textResult(strconv.FormatBool(r))
	case int:
		return textResult(strconv.FormatInt(int64(r), 10))
	case int32:
		return textResult(strconv.FormatInt(int64(r), 10))
	case int64:
		return textResult(strconv.FormatInt(r, 10))
	case float32:
		return textResult(strconv.FormatFloat(float64(r), 'f', -1, 32))
	case float64:
		return textResult(strconv.FormatFloat(r, 'f', -1, 64))

	case fmt.Stringer:
		return textResult(r.String())
	case error:
		return ErrorResult("%s", r.Error())

	default: // structs, maps, slices: JSON is their canonical textual form
		b, err := json.Marshal(r)
		if err != nil {
			return ErrorResult("tool '%s' returned an unserialisable %T: %s", toolName, v, err)
		}
		if len(b) > maxInlineJSONChars && s.Logger != nil {
			s.Logger.Warn("Large tool result", slog.String("tool", toolName), slog.Int("chars", len(b)))
		}
		return textResult(string(b))
	}
}

// imageFromString recognizes the two string-borne image shapes: a data:image/
// URI and a long bare base64 payload. Mime comes from the decoded magic bytes.
func (s Serializer) imageFromString(v string) (mcp.ContentBlock, bool) {
	if strings.HasPrefix(v, "data:image/") {
		if _, payload, ok := strings.Cut(v, ","); ok {
			if raw, err := base64.StdEncoding.DecodeString(payload); err == nil {
				return mcp.NewImageContent(payload, sniffImageMime(raw)), true
			}
		}
		return nil, false
	}
	if len(v) > minBase64ImageLen {
		if raw, err := base64.StdEncoding.DecodeString(v); err == nil {
			return mcp.NewImageContent(v, sniffImageMime(raw)), true
		}
	}
	return nil, false
}

// sniffImageMime identifies PNG (89 50 4E 47) and JPEG (FF D8) payloads by
// their magic bytes; everything else is treated as PNG.
func sniffImageMime(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8}):
		return "image/jpeg"
	default:
		return "image/png"
	}
}
