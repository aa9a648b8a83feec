package printer

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// lookupEncoding resolves a WHATWG encoding label such as "gbk", "gb18030",
// "big5" or "shift_jis". An empty label means the payload is sent as UTF-8.
func lookupEncoding(label string) (encoding.Encoding, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported printer encoding %q: %w", label, err)
	}
	return enc, nil
}

// ValidateEncoding reports whether label names a supported encoding.
func ValidateEncoding(label string) error {
	_, err := lookupEncoding(label)
	return err
}

// encodePayload converts payload to the printer's charset. Characters the
// charset cannot represent are replaced rather than failing the job.
func encodePayload(enc encoding.Encoding, payload string) ([]byte, error) {
	if enc == nil {
		return []byte(payload), nil
	}
	out, err := encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return out, nil
}
