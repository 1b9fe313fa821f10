// ABOUTME: Normalizer for Evolution-API style WhatsApp webhooks
// ABOUTME: Decodes the provider envelope and maps the message union onto the Content variant

package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/2389/coven-inbox/internal/store"
)

// EventMessagesUpsert is the only event kind that carries a new inbound message.
const EventMessagesUpsert = "messages.upsert"

const whatsappUserSuffix = "@s.whatsapp.net"

// Payload is the Evolution webhook envelope. Data stays raw until the event
// kind is known to carry a message.
type Payload struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`

	body []byte
}

// Decode parses the envelope of an Evolution webhook body.
func Decode(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p.body = body
	return &p, nil
}

type evolutionData struct {
	Key              evolutionKey      `json:"key"`
	PushName         string            `json:"pushName"`
	Message          json.RawMessage   `json:"message"`
	MessageTimestamp flexibleTimestamp `json:"messageTimestamp"`
}

type evolutionKey struct {
	RemoteJid string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

type evolutionMessage struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	ImageMessage    *evolutionMedia    `json:"imageMessage"`
	VideoMessage    *evolutionMedia    `json:"videoMessage"`
	AudioMessage    *evolutionAudio    `json:"audioMessage"`
	DocumentMessage *evolutionDocument `json:"documentMessage"`
	LocationMessage *evolutionLocation `json:"locationMessage"`
}

type evolutionMedia struct {
	Caption  string `json:"caption"`
	Mimetype string `json:"mimetype"`
}

type evolutionAudio struct {
	Mimetype string `json:"mimetype"`
	Seconds  int    `json:"seconds"`
	PTT      bool   `json:"ptt"`
}

type evolutionDocument struct {
	FileName string `json:"fileName"`
	Title    string `json:"title"`
	Mimetype string `json:"mimetype"`
}

type evolutionLocation struct {
	DegreesLatitude  float64 `json:"degreesLatitude"`
	DegreesLongitude float64 `json:"degreesLongitude"`
	Name             string  `json:"name"`
}

// flexibleTimestamp accepts unix seconds (or milliseconds) as a JSON number
// or numeric string, or an RFC 3339 string.
type flexibleTimestamp struct {
	time.Time
}

func (ts *flexibleTimestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			return fmt.Errorf("messageTimestamp: %w", err)
		}
		if unquoted == "" {
			return nil
		}
		if t, err := time.Parse(time.RFC3339Nano, unquoted); err == nil {
			ts.Time = t.UTC()
			return nil
		}
		raw = unquoted
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return fmt.Errorf("messageTimestamp %q is not a unix time", raw)
		}
		n = int64(f)
	}
	if n > 1e12 {
		ts.Time = time.UnixMilli(n).UTC()
	} else {
		ts.Time = time.Unix(n, 0).UTC()
	}
	return nil
}

// EvolutionNormalizer implements Normalizer for Evolution-API webhooks.
type EvolutionNormalizer struct {
	provider string
	now      func() time.Time
}

// NewEvolutionNormalizer creates the normalizer.
func NewEvolutionNormalizer() *EvolutionNormalizer {
	return &EvolutionNormalizer{provider: "evolution", now: time.Now}
}

// Normalize implements Normalizer.
func (n *EvolutionNormalizer) Normalize(body []byte) (Outcome, error) {
	p, err := Decode(body)
	if err != nil {
		return Outcome{}, err
	}
	return n.NormalizePayload(p)
}

// NormalizePayload maps a decoded envelope to an Outcome.
func (n *EvolutionNormalizer) NormalizePayload(env *Payload) (Outcome, error) {
	kind := normalizeEventName(env.Event)
	if kind != EventMessagesUpsert {
		return Outcome{Skip: SkipUnsupportedEvent, Kind: kind}, nil
	}

	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return Outcome{}, fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	var data evolutionData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return Outcome{}, fmt.Errorf("%w: data: %v", ErrInvalidPayload, err)
	}

	if data.Key.FromMe {
		return Outcome{Skip: SkipFromMe, Kind: kind}, nil
	}
	if strings.TrimSpace(data.Key.RemoteJid) == "" {
		return Outcome{}, fmt.Errorf("%w: missing data.key.remoteJid", ErrInvalidPayload)
	}
	if len(data.Message) == 0 || bytes.Equal(data.Message, []byte("null")) {
		return Outcome{}, fmt.Errorf("%w: missing data.message", ErrInvalidPayload)
	}

	content, err := decodeEvolutionContent(data.Message)
	if err != nil {
		return Outcome{}, err
	}

	timestamp := data.MessageTimestamp.Time
	if timestamp.IsZero() {
		timestamp = n.now().UTC()
	}

	ev := &InboundEvent{
		Provider:          n.provider,
		Instance:          env.Instance,
		RemoteIdentity:    data.Key.RemoteJid,
		Platform:          store.PlatformWhatsApp,
		DisplayName:       strings.TrimSpace(data.PushName),
		Phone:             phoneFromJID(data.Key.RemoteJid),
		Content:           content,
		Text:              Extract(content),
		Type:              Classify(content),
		ProviderMessageID: data.Key.ID,
		Timestamp:         timestamp,
		ContactMetadata:   map[string]any{},
		MessageMetadata:   contentMetadata(content),
		Raw:               json.RawMessage(env.body),
	}
	if env.Instance != "" {
		ev.ContactMetadata["instance"] = env.Instance
		ev.MessageMetadata["instance"] = env.Instance
	}
	ev.MessageMetadata["provider"] = n.provider
	ev.MessageMetadata["remote_jid"] = data.Key.RemoteJid

	return Outcome{Event: ev, Kind: kind}, nil
}

// decodeEvolutionContent picks the variant in extraction priority order.
func decodeEvolutionContent(raw json.RawMessage) (Content, error) {
	var msg evolutionMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: data.message: %v", ErrInvalidPayload, err)
	}

	switch {
	case msg.Conversation != "":
		return Text{Body: msg.Conversation}, nil
	case msg.ExtendedTextMessage != nil && msg.ExtendedTextMessage.Text != "":
		return ExtendedText{Body: msg.ExtendedTextMessage.Text}, nil
	case msg.ImageMessage != nil:
		return Image{Caption: msg.ImageMessage.Caption, MimeType: msg.ImageMessage.Mimetype}, nil
	case msg.VideoMessage != nil:
		return Video{Caption: msg.VideoMessage.Caption, MimeType: msg.VideoMessage.Mimetype}, nil
	case msg.AudioMessage != nil:
		return Audio{MimeType: msg.AudioMessage.Mimetype, Seconds: msg.AudioMessage.Seconds, Voice: msg.AudioMessage.PTT}, nil
	case msg.DocumentMessage != nil:
		name := msg.DocumentMessage.FileName
		if name == "" {
			name = msg.DocumentMessage.Title
		}
		return Document{FileName: name, MimeType: msg.DocumentMessage.Mimetype}, nil
	case msg.LocationMessage != nil:
		return Location{
			Latitude:  msg.LocationMessage.DegreesLatitude,
			Longitude: msg.LocationMessage.DegreesLongitude,
			Name:      msg.LocationMessage.Name,
		}, nil
	}

	var keys map[string]json.RawMessage
	_ = json.Unmarshal(raw, &keys)
	kinds := make([]string, 0, len(keys))
	for k := range keys {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return Unknown{Kinds: kinds}, nil
}

func contentMetadata(c Content) map[string]any {
	md := map[string]any{}
	switch v := c.(type) {
	case Image:
		setIf(md, "mime_type", v.MimeType)
	case Video:
		setIf(md, "mime_type", v.MimeType)
	case Audio:
		setIf(md, "mime_type", v.MimeType)
		if v.Seconds > 0 {
			md["seconds"] = v.Seconds
		}
		if v.Voice {
			md["voice_note"] = true
		}
	case Document:
		setIf(md, "mime_type", v.MimeType)
		setIf(md, "file_name", v.FileName)
	case Location:
		md["latitude"] = v.Latitude
		md["longitude"] = v.Longitude
		setIf(md, "location_name", v.Name)
	case Unknown:
		if len(v.Kinds) > 0 {
			md["unsupported_kinds"] = v.Kinds
		}
	}
	return md
}

func setIf(md map[string]any, key, value string) {
	if value != "" {
		md[key] = value
	}
}

// normalizeEventName maps "MESSAGES_UPSERT" and "messages.upsert" to the
// same dotted lowercase form.
func normalizeEventName(event string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(event)), "_", ".")
}

// phoneFromJID returns the number of a personal WhatsApp address, or ""
// for groups and other address kinds.
func phoneFromJID(jid string) string {
	if !strings.HasSuffix(jid, whatsappUserSuffix) {
		return ""
	}
	user := strings.TrimSuffix(jid, whatsappUserSuffix)
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return user
}
