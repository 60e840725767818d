package auth

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// Byte/text codec helpers shared by the token verifier and the key
// material cache. Compact tokens and published key material move between
// wire format (base64url without padding) and structured form through
// these functions; keeping them in one place means the rest of the
// package never touches an encoding alphabet directly.

// EncodeBase64URL encodes raw bytes using the URL-safe base64 alphabet
// without padding, the segment encoding used by compact signed tokens.
func EncodeBase64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeBase64URL decodes a URL-safe base64 string. Padded input is
// accepted and normalized, since some issuers emit padded segments.
// Returns the decoding error from the underlying primitive for
// malformed input.
func DecodeBase64URL(encoded string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
}

// EncodeBase64 encodes raw bytes using the standard base64 alphabet
// with padding.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes a standard base64 string. Returns the decoding
// error from the underlying primitive for malformed input.
func DecodeBase64(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}

// TextToBytes converts UTF-8 text to its raw byte representation.
func TextToBytes(text string) []byte {
	return []byte(text)
}

// BytesToText converts raw bytes to UTF-8 text. Invalid byte sequences
// are replaced with the Unicode replacement character rather than
// surfacing an error; decoded token segments are always validated
// structurally afterwards, so replacement is safe here.
func BytesToText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError))
}
