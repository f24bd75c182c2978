package icalendar

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DecodeError reports an unrecoverable byte-to-text decoding failure.
type DecodeError struct {
	Charset string
	Offset  int64 // byte offset of the offending sequence in the decoded text, -1 if unknown
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("failed to decode stream as %s at byte %d: %v", e.Charset, e.Offset, e.Err)
	}
	return fmt.Sprintf("failed to decode stream as %s: %v", e.Charset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// lookupCharset resolves an IANA charset name to an encoding.
func lookupCharset(name string) (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, &DecodeError{Charset: name, Offset: -1, Err: fmt.Errorf("unsupported charset")}
	}
	return enc, nil
}

// DecodeStream reads the whole byte stream and returns it as unfolded text.
//
// UTF-8 input (the default, or an explicit UTF-8 charset) may carry a
// byte-order mark; a UTF-16BE/LE mark switches the decoder accordingly.
// Any other charset selects its decoder directly. Decoding is strict
// either way: UTF-8 fails on the first invalid sequence, and legacy
// charsets fail on bytes with no mapping. After decoding, RFC 5545 line
// unfolding is applied.
func DecodeStream(r io.Reader, charset string) (string, error) {
	if charset == "" || strings.EqualFold(charset, "UTF-8") {
		decoder := &encoding.Decoder{Transformer: unicode.BOMOverride(encoding.UTF8Validator)}
		data, err := io.ReadAll(transform.NewReader(r, decoder))
		if err != nil {
			// The validator stops at the first invalid sequence, so the
			// bytes decoded so far locate it.
			return "", &DecodeError{Charset: "UTF-8", Offset: int64(len(data)), Err: err}
		}
		return Unfold(string(data)), nil
	}

	enc, err := lookupCharset(charset)
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(transform.NewReader(r, enc.NewDecoder()))
	if err != nil {
		return "", &DecodeError{Charset: charset, Offset: -1, Err: err}
	}

	// Legacy decoders substitute U+FFFD for bytes outside the charset,
	// so a replacement rune in the output marks undecodable input.
	if off := replacementOffset(data); off >= 0 {
		return "", &DecodeError{Charset: charset, Offset: off, Err: fmt.Errorf("malformed byte sequence")}
	}

	return Unfold(string(data)), nil
}

// replacementOffset returns the byte offset of the first replacement
// rune in the decoded text, or -1 if the text is clean.
func replacementOffset(data []byte) int64 {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError {
			return int64(i)
		}
		i += size
	}
	return -1
}

var unfolder = strings.NewReplacer(
	"\r\n ", "", "\r\n\t", "",
	"\n ", "", "\n\t", "",
)

// Unfold reverses RFC 5545 line folding: a physical line starting with a
// single space or horizontal tab continues the previous logical line,
// with the leading whitespace character removed. Both CRLF and bare LF
// terminators are handled. The transform is pure and must run before any
// property is interpreted.
func Unfold(s string) string {
	return unfolder.Replace(s)
}
