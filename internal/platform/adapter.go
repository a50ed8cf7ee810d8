package platform

import (
	"context"
	"errors"
)

// Kind identifies a publishing channel.
type Kind string

const (
	Facebook  Kind = "facebook"
	Instagram Kind = "instagram"
	Twitter   Kind = "twitter"
	WhatsApp  Kind = "whatsapp"
)

var ErrUnknown = errors.New("unknown platform")

// Credentials is an opaque credential bag passed through to the adapter.
type Credentials map[string]string

// Metrics is the engagement snapshot returned by a platform.
type Metrics struct {
	Reach      int64
	Engagement int64
	Clicks     int64
}

// Message is the payload shaped for one specific platform (see Shape).
type Message struct {
	Kind    Kind
	Body    string   // short text / message body platforms
	Caption string   // media platforms
	Media   []string // media references (URLs or storage keys)
}

// Adapter is the capability surface postflow requires from a channel
// integration. Transport, auth flow and response shapes are the adapter's
// business; the core never sees them.
type Adapter interface {
	Kind() Kind
	Authenticate(ctx context.Context, creds Credentials) error
	Publish(ctx context.Context, msg Message) (externalID string, err error)
	FetchAnalytics(ctx context.Context, externalID string) (Metrics, error)
}

// twitterMaxBody mirrors the platform's post length ceiling.
const twitterMaxBody = 280

// Shape converts raw post content into the payload form a platform expects:
// media+caption for the visual platforms, a truncated short text for twitter,
// and a plain message body for whatsapp.
func Shape(kind Kind, text string, media []string) Message {
	switch kind {
	case Facebook, Instagram:
		return Message{Kind: kind, Caption: text, Media: media}
	case Twitter:
		body := text
		if len([]rune(body)) > twitterMaxBody {
			r := []rune(body)
			body = string(r[:twitterMaxBody-1]) + "…"
		}
		return Message{Kind: kind, Body: body}
	default:
		return Message{Kind: kind, Body: text, Media: media}
	}
}
