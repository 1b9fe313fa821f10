// ABOUTME: Tagged content variant for inbound channel messages
// ABOUTME: Extract and Classify are total functions over the variant

package channel

import (
	"strings"

	"github.com/2389/coven-inbox/internal/store"
)

// Placeholders used when a message carries no displayable text.
const (
	PlaceholderImage       = "[Image]"
	PlaceholderVideo       = "[Video]"
	PlaceholderAudio       = "[Audio]"
	PlaceholderDocument    = "[Document]"
	PlaceholderLocation    = "[Location]"
	PlaceholderUnsupported = "[Unsupported message]"
)

// Content is the sealed sum type over inbound message bodies.
// Implementations: Text, ExtendedText, Image, Video, Audio, Document,
// Location, Unknown.
type Content interface {
	isContent()
}

// Text is a plain text body.
type Text struct {
	Body string
}

// ExtendedText is a text body with quoting or link preview.
type ExtendedText struct {
	Body string
}

// Image is a picture with an optional caption.
type Image struct {
	Caption  string
	MimeType string
}

// Video is a clip with an optional caption.
type Video struct {
	Caption  string
	MimeType string
}

// Audio is a voice note or audio file.
type Audio struct {
	MimeType string
	Seconds  int
	Voice    bool
}

// Document is a file attachment.
type Document struct {
	FileName string
	MimeType string
}

// Location is a shared map pin.
type Location struct {
	Latitude  float64
	Longitude float64
	Name      string
}

// Unknown is any body this core does not model. Kinds lists the provider
// keys that were present, for diagnostics.
type Unknown struct {
	Kinds []string
}

func (Text) isContent()         {}
func (ExtendedText) isContent() {}
func (Image) isContent()        {}
func (Video) isContent()        {}
func (Audio) isContent()        {}
func (Document) isContent()     {}
func (Location) isContent()     {}
func (Unknown) isContent()      {}

// Extract returns the human-readable text stored as the message content.
func Extract(c Content) string {
	switch v := c.(type) {
	case Text:
		return v.Body
	case ExtendedText:
		return v.Body
	case Image:
		return captionOr(v.Caption, PlaceholderImage)
	case Video:
		return captionOr(v.Caption, PlaceholderVideo)
	case Audio:
		return PlaceholderAudio
	case Document:
		if name := strings.TrimSpace(v.FileName); name != "" {
			return "[Document: " + name + "]"
		}
		return PlaceholderDocument
	case Location:
		return PlaceholderLocation
	default:
		return PlaceholderUnsupported
	}
}

// Classify returns the message type recorded for the content.
func Classify(c Content) store.MessageType {
	switch c.(type) {
	case Image:
		return store.MessageTypeImage
	case Video:
		return store.MessageTypeVideo
	case Audio:
		return store.MessageTypeAudio
	case Document:
		return store.MessageTypeFile
	case Location:
		return store.MessageTypeLocation
	default:
		return store.MessageTypeText
	}
}

func captionOr(caption, placeholder string) string {
	if strings.TrimSpace(caption) != "" {
		return caption
	}
	return placeholder
}
