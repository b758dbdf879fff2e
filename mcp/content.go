package mcp

import (
	"encoding/json"
	"fmt"
)

// Content block type discriminators as they appear on the wire.
const (
	ContentTypeText     = "text"
	ContentTypeImage    = "image"
	ContentTypeImageURL = "image_url"
)

// ContentBlock is the tagged sum of payloads a tool call can return; the wire
// form always carries a `type` discriminator.
type ContentBlock interface {
	isContentBlock()
}

type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (t TextContent) isContentBlock() {}

// NewTextContent returns a TextContent with its discriminator set.
func NewTextContent(text string) TextContent {
	return TextContent{Type: ContentTypeText, Text: text}
}

// ImageContent carries base64-encoded image bytes.
type ImageContent struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

func (i ImageContent) isContentBlock() {}

// NewImageContent returns an ImageContent with its discriminator set.
func NewImageContent(base64Data, mimeType string) ImageContent {
	return ImageContent{Type: ContentTypeImage, Data: base64Data, MimeType: mimeType}
}

// ImageURLContent refers to an image by URL instead of embedding it.
type ImageURLContent struct {
	Type     string  `json:"type"`
	URL      string  `json:"url"`
	MimeType string  `json:"mimeType,omitempty"`
	Alt      *string `json:"alt,omitempty"`
}

func (i ImageURLContent) isContentBlock() {}

// NewImageURLContent returns an ImageURLContent with its discriminator set.
func NewImageURLContent(url, mimeType string) ImageURLContent {
	return ImageURLContent{Type: ContentTypeImageURL, URL: url, MimeType: mimeType}
}

// UnmarshalContentBlock decodes one wire content block by its `type` discriminator.
func UnmarshalContentBlock(data []byte) (ContentBlock, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	switch probe.Type {
	case ContentTypeText:
		var c TextContent
		return c, json.Unmarshal(data, &c)
	case ContentTypeImage:
		var c ImageContent
		return c, json.Unmarshal(data, &c)
	case ContentTypeImageURL:
		var c ImageURLContent
		return c, json.Unmarshal(data, &c)
	default:
		return nil, fmt.Errorf("unknown content block type %q", probe.Type)
	}
}

// UnmarshalJSON decodes the content array through UnmarshalContentBlock so
// each element comes back as its concrete variant.
func (r *CallToolResult) UnmarshalJSON(data []byte) error {
	var temp struct {
		Content []json.RawMessage `json:"content"`
		IsError bool              `json:"isError"`
	}
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}
	r.IsError = temp.IsError
	r.Content = make([]ContentBlock, 0, len(temp.Content))
	for _, raw := range temp.Content {
		block, err := UnmarshalContentBlock(raw)
		if err != nil {
			return err
		}
		r.Content = append(r.Content, block)
	}
	return nil
}
