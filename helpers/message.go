package helpers

import (
	"io"
	"mime"
	"net/mail"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/k3a/html2text"
)

var headerDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// DecodeHeaderText decodes an RFC 2047 encoded header value to plain text.
// On any decoding failure the raw value is returned as-is.
func DecodeHeaderText(raw string) string {
	decoded, err := headerDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// BodyContent is the result of walking a message's MIME structure once.
type BodyContent struct {
	// Text is the best-effort plain-text rendering of the body: the
	// concatenation of text/plain parts when any are non-empty, otherwise
	// the concatenation of text/html parts converted to plain text.
	Text string
	// HasAttach is true iff any part, including the top level, declares
	// a filename.
	HasAttach bool
}

// ExtractContent traverses the MIME structure of a message and extracts the
// plain-text body and the attachment flag in a single pass. Part bodies are
// consumed; callers needing the raw message must re-parse it.
func ExtractContent(entity *message.Entity) BodyContent {
	var bc BodyContent
	var plainSegments, htmlSegments []string
	multipart := isMultipart(entity)

	walkEntities(entity, func(p *message.Entity) {
		if partFilename(p) != "" {
			bc.HasAttach = true
		}

		mediaType, _, _ := p.Header.ContentType()
		if strings.HasPrefix(mediaType, "multipart/") {
			return
		}

		content, err := io.ReadAll(p.Body)
		if err != nil && len(content) == 0 {
			return
		}
		text := SanitizeUTF8(string(content))

		switch {
		case mediaType == "text/html":
			if t := strings.TrimSpace(html2text.HTML2Text(text)); t != "" {
				htmlSegments = append(htmlSegments, t)
			}
		case mediaType == "text/plain" || !multipart:
			// A single-part message contributes its body regardless of
			// declared type; inside a multipart only text/plain counts.
			if t := strings.TrimSpace(text); t != "" {
				plainSegments = append(plainSegments, t)
			}
		}
	})

	if len(plainSegments) > 0 {
		bc.Text = strings.Join(plainSegments, "\n")
	} else {
		bc.Text = strings.Join(htmlSegments, "\n")
	}
	return bc
}

func isMultipart(entity *message.Entity) bool {
	mediaType, _, _ := entity.Header.ContentType()
	return strings.HasPrefix(mediaType, "multipart/")
}

// walkEntities calls fn on the entity and every nested part, containers
// included. Parts with an unknown declared charset are still visited; their
// bodies read back raw and are sanitized downstream.
func walkEntities(entity *message.Entity, fn func(*message.Entity)) {
	fn(entity)

	mr := entity.MultipartReader()
	if mr == nil {
		return
	}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return
		}
		if p == nil {
			return
		}
		walkEntities(p, fn)
	}
}

func partFilename(p *message.Entity) string {
	if _, params, err := p.Header.ContentDisposition(); err == nil {
		if f := params["filename"]; f != "" {
			return f
		}
	}
	if _, params, err := p.Header.ContentType(); err == nil {
		if n := params["name"]; n != "" {
			return n
		}
	}
	return ""
}

// FirstAddress returns the display name and address of the first parseable
// mailbox across all occurrences of the given header field. When nothing
// parses, the raw trimmed header text is returned as the address.
func FirstAddress(h message.Header, key string) (name, addr string) {
	var raws []string
	fields := h.FieldsByKey(key)
	for fields.Next() {
		raw := DecodeHeaderText(fields.Value())
		raws = append(raws, raw)

		list, err := mail.ParseAddressList(raw)
		if err != nil {
			continue
		}
		for _, a := range list {
			if clean := strings.TrimSpace(a.Address); clean != "" {
				return strings.TrimSpace(a.Name), clean
			}
		}
	}

	if len(raws) > 0 {
		return "", strings.TrimSpace(raws[0])
	}
	return "", ""
}

// AddressList collects all parseable addresses across all occurrences of the
// given header field, de-duplicated in first-seen order. When nothing parses,
// the raw trimmed first header line is returned as a single-element list.
func AddressList(h message.Header, key string) []string {
	var out []string
	seen := make(map[string]struct{})
	var raws []string

	fields := h.FieldsByKey(key)
	for fields.Next() {
		raw := DecodeHeaderText(fields.Value())
		raws = append(raws, raw)

		list, err := mail.ParseAddressList(raw)
		if err != nil {
			continue
		}
		for _, a := range list {
			clean := strings.TrimSpace(a.Address)
			if clean == "" {
				continue
			}
			if _, dup := seen[clean]; dup {
				continue
			}
			seen[clean] = struct{}{}
			out = append(out, clean)
		}
	}

	if len(out) == 0 && len(raws) > 0 {
		if fb := strings.TrimSpace(raws[0]); fb != "" {
			out = append(out, fb)
		}
	}
	return out
}
