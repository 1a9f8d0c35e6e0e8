package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMaxSkew is the replay window applied to signed timestamps.
	DefaultMaxSkew = 300 * time.Second

	// millisecondThreshold separates second and millisecond timestamps.
	millisecondThreshold = 10_000_000_000
)

// Construction names one way of building the signed message.
type Construction string

const (
	BodyOnly         Construction = "body"
	DotSeparated     Construction = "ts.body"
	Concatenated     Construction = "tsbody"
	ColonSeparated   Construction = "ts:body"
	NewlineSeparated Construction = "ts-lf-body"
	CRLFSeparated    Construction = "ts-crlf-body"
)

var separators = map[Construction]string{
	DotSeparated:     ".",
	Concatenated:     "",
	ColonSeparated:   ":",
	NewlineSeparated: "\n",
	CRLFSeparated:    "\r\n",
}

// AllConstructions returns the full compatibility matrix in evaluation order.
func AllConstructions() []Construction {
	return []Construction{BodyOnly, DotSeparated, Concatenated, ColonSeparated, NewlineSeparated, CRLFSeparated}
}

// ParseConstructions converts configured names into Constructions.
// An empty list selects the full matrix.
func ParseConstructions(names []string) ([]Construction, error) {
	var out []Construction
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		c := Construction(name)
		if _, ok := separators[c]; !ok && c != BodyOnly {
			return nil, fmt.Errorf("unknown signature construction %q", name)
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return AllConstructions(), nil
	}
	return out, nil
}

func (c Construction) needsTimestamp() bool {
	return c != BodyOnly
}

func (c Construction) message(timestamp string, body []byte) []byte {
	if !c.needsTimestamp() {
		return body
	}
	prefix := timestamp + separators[c]
	msg := make([]byte, 0, len(prefix)+len(body))
	msg = append(msg, prefix...)
	return append(msg, body...)
}

// Match describes which variant verified a signature.
type Match struct {
	Key          string
	Construction Construction
	// Timestamp is "original", "normalized" or empty for BodyOnly.
	Timestamp string
}

// Verifier checks webhook signatures. The zero value uses time.Now,
// DefaultMaxSkew and the full construction matrix.
type Verifier struct {
	Now           func() time.Time
	MaxSkew       time.Duration
	Constructions []Construction
}

// NewVerifier returns a Verifier with the given replay window and constructions.
func NewVerifier(maxSkew time.Duration, constructions []Construction) *Verifier {
	return &Verifier{
		Now:           time.Now,
		MaxSkew:       maxSkew,
		Constructions: constructions,
	}
}

// Verify reports whether signature authenticates body under secret.
// timestamp may be empty.
func (v *Verifier) Verify(signature string, body []byte, secret, timestamp string) bool {
	_, ok := v.Check(signature, body, secret, timestamp)
	return ok
}

type stamp struct {
	label string
	text  string
}

// Check is Verify that also reports the matching variant.
func (v *Verifier) Check(signature string, body []byte, secret, timestamp string) (Match, bool) {
	if signature == "" || secret == "" || len(body) == 0 {
		return Match{}, false
	}

	received, ok := extractDigest(signature)
	if !ok {
		return Match{}, false
	}

	var stamps []stamp
	if timestamp != "" {
		seconds, ok := normalizeTimestamp(timestamp)
		if !ok || !v.fresh(seconds) {
			return Match{}, false
		}
		stamps = append(stamps, stamp{label: "original", text: timestamp})
		if normalized := strconv.FormatInt(seconds, 10); normalized != timestamp {
			stamps = append(stamps, stamp{label: "normalized", text: normalized})
		}
	}

	for _, key := range keyCandidates(secret) {
		for _, c := range v.constructions() {
			if !c.needsTimestamp() {
				if equalDigest(received, digest(key.bytes, c.message("", body))) {
					return Match{Key: key.label, Construction: c}, true
				}
				continue
			}
			for _, st := range stamps {
				if equalDigest(received, digest(key.bytes, c.message(st.text, body))) {
					return Match{Key: key.label, Construction: c, Timestamp: st.label}, true
				}
			}
		}
	}
	return Match{}, false
}

// Sign computes the hex digest a sender would produce with the raw secret.
func Sign(secret string, body []byte, timestamp string, c Construction) string {
	return digest([]byte(secret), c.message(timestamp, body))
}

func (v *Verifier) constructions() []Construction {
	if len(v.Constructions) == 0 {
		return AllConstructions()
	}
	return v.Constructions
}

func (v *Verifier) fresh(seconds int64) bool {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	skew := v.MaxSkew
	if skew <= 0 {
		skew = DefaultMaxSkew
	}

	diff := now().Unix() - seconds
	if diff < 0 {
		diff = -diff
	}
	return diff <= int64(skew/time.Second)
}

// normalizeTimestamp parses a seconds or milliseconds timestamp into seconds.
func normalizeTimestamp(timestamp string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return 0, false
	}
	if n > millisecondThreshold {
		n /= 1000
	}
	return n, true
}

// extractDigest pulls the hex digest out of "<hex>", "sha256=<hex>" or
// "...,<hex>" and lowercases it.
func extractDigest(signature string) (string, bool) {
	if i := strings.LastIndex(signature, ","); i >= 0 {
		signature = signature[i+1:]
	}
	signature = strings.TrimSpace(signature)
	signature = strings.ToLower(signature)
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return "", false
	}
	if _, err := hex.DecodeString(signature); err != nil {
		return "", false
	}
	return signature, true
}

type keyCandidate struct {
	label string
	bytes []byte
}

func keyCandidates(secret string) []keyCandidate {
	var out []keyCandidate
	seen := make(map[string]struct{})
	add := func(label string, key []byte) {
		if len(key) == 0 {
			return
		}
		if _, dup := seen[string(key)]; dup {
			return
		}
		seen[string(key)] = struct{}{}
		out = append(out, keyCandidate{label: label, bytes: key})
	}

	add("raw", []byte(secret))
	trimmed := strings.TrimSpace(secret)
	add("trimmed", []byte(trimmed))
	add("trimmed-no-linebreaks", []byte(strings.NewReplacer("\r", "", "\n", "").Replace(trimmed)))

	if len(trimmed)%2 == 0 {
		if key, err := hex.DecodeString(trimmed); err == nil {
			add("hex", key)
		}
	}
	if key, ok := decodeBase64RoundTrip(trimmed); ok {
		add("base64", key)
	}
	return out
}

// decodeBase64RoundTrip decodes s only if re-encoding yields s again
// (padding ignored).
func decodeBase64RoundTrip(s string) ([]byte, bool) {
	unpadded := strings.TrimRight(s, "=")
	if unpadded == "" {
		return nil, false
	}
	key, err := base64.RawStdEncoding.DecodeString(unpadded)
	if err != nil {
		return nil, false
	}
	if base64.RawStdEncoding.EncodeToString(key) != unpadded {
		return nil, false
	}
	return key, true
}

func digest(key, msg []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

func equalDigest(received, expected string) bool {
	if len(received) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(received), []byte(expected)) == 1
}
