package channel

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"mime"
	"net/url"
	"sort"
	"strings"

	apperrors "smile-ai/backend/pkg/errors"
)

const (
	// TwilioSignatureHeader carries the base64 HMAC-SHA1 request signature
	TwilioSignatureHeader = "X-Twilio-Signature"

	twimlContentType = "text/xml; charset=utf-8"
	bodyHashParam    = "bodySHA256"
)

// Twilio serves both the WhatsApp and SMS surfaces of Twilio Messaging; they
// share the signature scheme and TwiML envelope and differ only by name.
type Twilio struct {
	name string
}

func NewTwilio(name string) *Twilio {
	return &Twilio{name: name}
}

func (t *Twilio) Name() string { return t.name }

func (t *Twilio) SignatureHeader() string { return TwilioSignatureHeader }

// Verify implements Twilio's request validation. Form deliveries sign the URL
// followed by every POST parameter sorted by name; JSON deliveries sign the URL
// alone and carry the body's SHA-256 in the bodySHA256 query parameter.
func (t *Twilio) Verify(secret, signature, fullURL string, rawBody []byte) bool {
	if secret == "" || signature == "" {
		return false
	}

	u, err := url.Parse(fullURL)
	if err != nil {
		return false
	}

	if wantHash := u.Query().Get(bodyHashParam); wantHash != "" {
		sum := sha256.Sum256(rawBody)
		if !hmac.Equal([]byte(strings.ToLower(wantHash)), []byte(hex.EncodeToString(sum[:]))) {
			return false
		}
		return t.matchesAnyURL(secret, signature, u, "")
	}

	form, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return false
	}
	return t.matchesAnyURL(secret, signature, u, sortedParams(form))
}

// matchesAnyURL also accepts the URL with the default port added or removed,
// since proxies disagree on whether it is part of the signed URL.
func (t *Twilio) matchesAnyURL(secret, signature string, u *url.URL, params string) bool {
	for _, candidate := range urlVariants(u) {
		if hmac.Equal([]byte(signature), []byte(sign(secret, candidate+params))) {
			return true
		}
	}
	return false
}

func (t *Twilio) Parse(contentType string, rawBody []byte) (Inbound, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)

	if mediaType == "application/json" {
		var payload map[string]any
		if err := json.Unmarshal(rawBody, &payload); err != nil {
			return Inbound{}, apperrors.NewMalformedInputError("delivery body is not valid JSON")
		}
		return Inbound{
			From:      stringField(payload, "From"),
			Body:      stringField(payload, "Body"),
			MessageID: stringField(payload, "MessageSid"),
		}, nil
	}

	form, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return Inbound{}, apperrors.NewMalformedInputError("delivery body is not form encoded")
	}
	return Inbound{
		From:      form.Get("From"),
		Body:      form.Get("Body"),
		MessageID: form.Get("MessageSid"),
	}, nil
}

type twimlResponse struct {
	XMLName  xml.Name `xml:"Response"`
	Messages []string `xml:"Message"`
}

func (t *Twilio) Reply(text string) (string, []byte) {
	return twimlContentType, renderTwiML(twimlResponse{Messages: []string{text}})
}

func (t *Twilio) Ack() (string, []byte) {
	return twimlContentType, renderTwiML(twimlResponse{})
}

func renderTwiML(resp twimlResponse) []byte {
	out, err := xml.Marshal(resp)
	if err != nil {
		// Only strings are marshalled; this cannot fail.
		return []byte(xml.Header + "<Response></Response>")
	}
	return append([]byte(xml.Header), out...)
}

func sign(secret, data string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func sortedParams(form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	return b.String()
}

func urlVariants(u *url.URL) []string {
	variants := []string{u.String()}

	defaultPort := map[string]string{"https": "443", "http": "80"}[u.Scheme]
	if defaultPort == "" {
		return variants
	}

	alt := *u
	if u.Port() == "" {
		alt.Host = u.Host + ":" + defaultPort
	} else if u.Port() == defaultPort {
		alt.Host = u.Hostname()
	} else {
		return variants
	}
	return append(variants, alt.String())
}

func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}
