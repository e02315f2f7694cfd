package helpers

import (
	"strings"
	"testing"

	"github.com/emersion/go-message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseTestMessage(t *testing.T, raw string) *message.Entity {
	t.Helper()
	entity, err := message.Read(strings.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		t.Fatalf("failed to parse test message: %v", err)
	}
	require.NotNil(t, entity)
	return entity
}

func TestExtractContent_PlainSinglePart(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Hello world.\r\n"

	bc := ExtractContent(parseTestMessage(t, raw))
	assert.Equal(t, "Hello world.", bc.Text)
	assert.False(t, bc.HasAttach)
}

func TestExtractContent_HTMLOnlyFallsBackToConverted(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><body><p>Hello <b>world</b></p></body></html>\r\n"

	bc := ExtractContent(parseTestMessage(t, raw))
	assert.Contains(t, bc.Text, "Hello")
	assert.Contains(t, bc.Text, "world")
	assert.NotContains(t, bc.Text, "<b>")
}

func TestExtractContent_MultipartPrefersPlain(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"plain body\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>html body</p>\r\n" +
		"--XYZ--\r\n"

	bc := ExtractContent(parseTestMessage(t, raw))
	assert.Equal(t, "plain body", bc.Text)
}

func TestExtractContent_AttachmentDetected(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Content-Type: multipart/mixed; boundary=XYZ\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"see attached\r\n" +
		"--XYZ\r\n" +
		"Content-Type: application/pdf; name=\"report.pdf\"\r\n" +
		"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
		"\r\n" +
		"%PDF-fake\r\n" +
		"--XYZ--\r\n"

	bc := ExtractContent(parseTestMessage(t, raw))
	assert.True(t, bc.HasAttach)
	assert.Equal(t, "see attached", bc.Text)
}

func TestExtractContent_UnknownCharsetStillYieldsText(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Content-Type: text/plain; charset=x-no-such-charset\r\n" +
		"\r\n" +
		"fallback body\r\n"

	bc := ExtractContent(parseTestMessage(t, raw))
	assert.NotEmpty(t, bc.Text)
	assert.Contains(t, bc.Text, "fallback body")
}

func TestDecodeHeaderText(t *testing.T) {
	assert.Equal(t, "Hello Göran", DecodeHeaderText("=?utf-8?q?Hello_G=C3=B6ran?="))
	assert.Equal(t, "plain subject", DecodeHeaderText("plain subject"))
	// Broken encoded-word falls back to the raw value
	raw := "=?nonsense?x?garbage?="
	assert.Equal(t, raw, DecodeHeaderText(raw))
}

func TestFirstAddress(t *testing.T) {
	raw := "From: =?utf-8?q?G=C3=B6ran?= <goran@example.com>\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"x\r\n"

	entity := parseTestMessage(t, raw)
	name, addr := FirstAddress(entity.Header, "From")
	assert.Equal(t, "Göran", name)
	assert.Equal(t, "goran@example.com", addr)
}

func TestFirstAddress_FallbackToRaw(t *testing.T) {
	raw := "From: not a valid address at all\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"x\r\n"

	entity := parseTestMessage(t, raw)
	name, addr := FirstAddress(entity.Header, "From")
	assert.Empty(t, name)
	assert.Equal(t, "not a valid address at all", addr)
}

func TestAddressList_DeduplicatesPreservingOrder(t *testing.T) {
	raw := "To: a@example.com, b@example.com, a@example.com\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"x\r\n"

	entity := parseTestMessage(t, raw)
	got := AddressList(entity.Header, "To")
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, got)
}

func TestAddressList_CollectsAcrossOccurrences(t *testing.T) {
	raw := "To: a@example.com\r\n" +
		"To: b@example.com, a@example.com\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"x\r\n"

	entity := parseTestMessage(t, raw)
	got := AddressList(entity.Header, "To")
	assert.ElementsMatch(t, []string{"a@example.com", "b@example.com"}, got)
}

func TestAddressList_EmptyHeader(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"x\r\n"

	entity := parseTestMessage(t, raw)
	assert.Empty(t, AddressList(entity.Header, "Cc"))
}
