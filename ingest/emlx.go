package ingest

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"lukechampine.com/blake3"

	"github.com/maillens/maillens/consts"
	"github.com/maillens/maillens/db"
	"github.com/maillens/maillens/helpers"
	"github.com/maillens/maillens/logger"
)

// stripLengthPrefix removes the leading byte-count line an .emlx file
// prepends to the RFC 5322 payload. A first line that is not purely
// decimal digits means the buffer is already a bare message.
func stripLengthPrefix(raw []byte) []byte {
	idx := bytes.IndexByte(raw, '\n')
	if idx < 0 {
		return raw
	}
	first := bytes.TrimRight(raw[:idx], "\r")
	if len(first) == 0 {
		return raw
	}
	for _, c := range first {
		if c < '0' || c > '9' {
			return raw
		}
	}
	return raw[idx+1:]
}

// parseLenient reads raw as a MIME entity, downgrading go-message's
// recoverable errors (unknown charsets, malformed header fields) to a
// debug log so a corrupt file still yields a best-effort entity. A nil
// entity is only returned when not even the header could be read; the
// caller substitutes an empty entity in that case.
func parseLenient(uid string, raw []byte) *message.Entity {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		logger.Debug("lenient message parse", "uid", uid, "error", err)
	}
	if entity == nil {
		entity, _ = message.Read(strings.NewReader("\r\n"))
	}
	return entity
}

// ParseEmlx decodes one .emlx file into a normalized message row. It never
// fails on malformed content: every decode step has a raw or empty
// fallback, so the only contract is that the returned row is best-effort.
func ParseEmlx(uid string, raw []byte) *db.Message {
	payload := stripLengthPrefix(raw)
	entity := parseLenient(uid, payload)

	content := helpers.ExtractContent(entity)
	body := strings.TrimSpace(content.Text)

	mh := mail.Header{Header: entity.Header}

	subject, err := mh.Subject()
	if err != nil || subject == "" {
		subject = helpers.DecodeHeaderText(entity.Header.Get("Subject"))
	}
	subject = helpers.SanitizeUTF8(strings.TrimSpace(subject))

	var dateTS int64
	if t, err := mh.Date(); err == nil && !t.IsZero() {
		dateTS = t.UnixMilli()
	} else {
		dateTS = helpers.ParseDateMillis(entity.Header.Get("Date"))
	}

	fromName, fromEmail := helpers.FirstAddress(entity.Header, "From")

	sum := blake3.Sum256([]byte(body))

	return &db.Message{
		Source:    consts.SourceEmlx,
		SourceUID: uid,
		MessageID: strings.Trim(strings.TrimSpace(entity.Header.Get("Message-Id")), "<>"),
		DateTS:    dateTS,
		FromName:  helpers.SanitizeUTF8(fromName),
		FromEmail: helpers.SanitizeUTF8(fromEmail),
		ToList:    helpers.AddressList(entity.Header, "To"),
		CcList:    helpers.AddressList(entity.Header, "Cc"),
		Subject:   subject,
		Snippet:   helpers.TruncateRunes(body, consts.SnippetLength),
		BodyText:  body,
		BodyHash:  hex.EncodeToString(sum[:]),
		SizeBytes: int64(len(raw)),
		HasAttach: content.HasAttach,
	}
}
