package capture

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"unicode/utf8"

	"github.com/dgnsrekt/captcha_resolver/internal/extract"
)

// clipBody keeps at most maxBytes of data (0 means no limit). Text is cut on a
// rune boundary; payloads that are not UTF-8 come back base64.
func clipBody(data []byte, maxBytes int) extract.Body {
	var out extract.Body
	kept := data
	text := utf8.Valid(data)
	if maxBytes > 0 && len(data) > maxBytes {
		kept = data[:maxBytes]
		if text {
			for len(kept) > 0 && !utf8.Valid(kept) {
				kept = kept[:len(kept)-1]
			}
		}
		sum := sha256.Sum256(data)
		out.Truncated = true
		out.OriginalSize = len(data)
		out.SHA256 = hex.EncodeToString(sum[:])
	}
	if text {
		out.Text = string(kept)
	} else {
		out.Base64 = base64.StdEncoding.EncodeToString(kept)
	}
	return out
}
