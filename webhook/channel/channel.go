// Package channel adapts messaging providers to the relay: it checks that a
// delivery really came from the provider, pulls out sender and text, and
// renders replies in the provider's response envelope.
package channel

import "sort"

// Inbound is the part of a provider delivery the relay cares about
type Inbound struct {
	From      string
	Body      string
	MessageID string
}

// Channel is one messaging provider surface (WhatsApp, SMS, ...)
type Channel interface {
	// Name is the discriminator stored on users, e.g. "whatsapp"
	Name() string
	// SignatureHeader names the request header carrying the provider signature
	SignatureHeader() string
	// Verify reports whether signature matches fullURL and rawBody under secret
	Verify(secret, signature, fullURL string, rawBody []byte) bool
	// Parse extracts sender and text; a missing sender is not an error
	Parse(contentType string, rawBody []byte) (Inbound, error)
	// Reply wraps text in the provider's response envelope
	Reply(text string) (contentType string, body []byte)
	// Ack is the neutral acknowledgment that sends nothing back to the user
	Ack() (contentType string, body []byte)
}

// Registry looks channels up by name
type Registry struct {
	channels map[string]Channel
}

func NewRegistry(channels ...Channel) *Registry {
	r := &Registry{channels: make(map[string]Channel, len(channels))}
	for _, ch := range channels {
		r.channels[ch.Name()] = ch
	}
	return r
}

func (r *Registry) Lookup(name string) (Channel, bool) {
	ch, ok := r.channels[name]
	return ch, ok
}

// Names returns registered channel names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
