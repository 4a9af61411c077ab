package cache

import "strings"

// Keyer derives cache keys for pipeline artifacts.
type Keyer interface {
	// EncodedKey is the key of the encoded form of a source graph.
	EncodedKey(graphHash string) string

	// DecodedKey is the key of the JSON form decoded from an encoded graph.
	DecodedKey(encodedHash string, opts DecodeKeyOpts) string

	// RenderKey is the key of a rendered artifact.
	RenderKey(graphHash, format string) string
}

// DecodeKeyOpts holds the decode options that change the decoded graph.
type DecodeKeyOpts struct {
	Policy      string `json:"policy"`
	Fold        bool   `json:"fold"`
	DetectLoops bool   `json:"detect_loops"`
}

// DefaultKeyer hashes key components under fixed prefixes.
type DefaultKeyer struct{}

// NewDefaultKeyer returns the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

func (DefaultKeyer) EncodedKey(graphHash string) string {
	return hashKey("encoded", graphHash)
}

func (DefaultKeyer) DecodedKey(encodedHash string, opts DecodeKeyOpts) string {
	opts.Policy = strings.ToLower(opts.Policy)
	return hashKey("decoded", encodedHash, opts)
}

func (DefaultKeyer) RenderKey(graphHash, format string) string {
	return hashKey("render", graphHash, strings.ToLower(format))
}

// ScopedKeyer wraps a Keyer with a prefix so several deployments can share
// one Redis or Mongo backend.
//
//	keyer := cache.NewScopedKeyer(cache.NewDefaultKeyer(), "staging:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix. A nil inner keyer means
// [NewDefaultKeyer].
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{inner: inner, prefix: prefix}
}

func (k *ScopedKeyer) EncodedKey(graphHash string) string {
	return k.prefix + k.inner.EncodedKey(graphHash)
}

func (k *ScopedKeyer) DecodedKey(encodedHash string, opts DecodeKeyOpts) string {
	return k.prefix + k.inner.DecodedKey(encodedHash, opts)
}

func (k *ScopedKeyer) RenderKey(graphHash, format string) string {
	return k.prefix + k.inner.RenderKey(graphHash, format)
}
