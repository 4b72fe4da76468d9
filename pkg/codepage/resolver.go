// Package codepage resolves IBM code page identifiers to text codecs and
// decodes column bytes with a fallback chain that never fails.
package codepage

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

// Width selects the fallback family tried after detection fails.
type Width uint8

const (
	SingleByte Width = iota
	DoubleByte
)

func (w Width) String() string {
	if w == DoubleByte {
		return "double-byte"
	}
	return "single-byte"
}

// ErrInvalidBytes is returned by a strict Codec when the input is not
// valid in the codec's charset.
var ErrInvalidBytes = errors.New("codepage: invalid byte sequence")

var replacement = []byte(string(utf8.RuneError))

// Codec decodes and encodes text for one charset.
type Codec interface {
	Name() string
	// Decode is strict: invalid input yields ErrInvalidBytes.
	Decode(b []byte) (string, error)
	Encode(s string) ([]byte, error)
}

type textCodec struct {
	name string
	enc  encoding.Encoding
}

// NewCodec wraps an x/text encoding as a strict Codec.
func NewCodec(name string, enc encoding.Encoding) Codec {
	return textCodec{name: name, enc: enc}
}

func (c textCodec) Name() string { return c.name }

// Decode rejects output carrying U+FFFD that the input did not carry
// itself, since x/text decoders substitute instead of failing.
func (c textCodec) Decode(b []byte) (string, error) {
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.name, err)
	}
	if bytes.Contains(out, replacement) && !bytes.Contains(b, replacement) {
		return "", fmt.Errorf("%s: %w", c.name, ErrInvalidBytes)
	}
	return string(out), nil
}

func (c textCodec) Encode(s string) ([]byte, error) {
	out, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	return out, nil
}

// lossy decodes with substitution and never fails.
func (c textCodec) lossy(b []byte) string {
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}
	return string(out)
}

type utf8Codec struct{}

func (utf8Codec) Name() string { return "utf-8" }

func (utf8Codec) Decode(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", fmt.Errorf("utf-8: %w", ErrInvalidBytes)
	}
	return string(b), nil
}

func (utf8Codec) Encode(s string) ([]byte, error) { return []byte(s), nil }

// Resolver maps IBM code pages to codecs. It holds no global state, so
// several resolvers with different tables may be used at once.
type Resolver struct {
	pages    map[int]encoding.Encoding
	fallback Codec
	detector *chardet.Detector
	logger   log.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for fallback diagnostics.
func WithLogger(l log.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithPage maps (or remaps) a code page.
func WithPage(page int, enc encoding.Encoding) Option {
	return func(r *Resolver) {
		r.pages[page] = enc
	}
}

// WithFallback replaces the DOS Latin-1 fallback codec.
func WithFallback(c Codec) Option {
	return func(r *Resolver) {
		r.fallback = c
	}
}

// WithoutDetection disables statistical charset detection.
func WithoutDetection() Option {
	return func(r *Resolver) {
		r.detector = nil
	}
}

// NewResolver creates a resolver with the built-in IBM page table.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		pages:    defaultPages(),
		detector: chardet.NewTextDetector(),
		logger:   log.NewNopLogger(),
	}
	r.fallback = NewCodec("ibm437", r.pages[DOSLatin1])
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the codec for an IBM code page.
func (r *Resolver) Resolve(page int) (Codec, bool) {
	enc, ok := r.pages[page]
	if !ok {
		return nil, false
	}
	if enc == unicode.UTF8 {
		return utf8Codec{}, true
	}
	return NewCodec(fmt.Sprintf("ibm%d", page), enc), true
}

// Pages returns the number of mapped code pages.
func (r *Resolver) Pages() int {
	return len(r.pages)
}

// Decode turns b into text and never fails. Order: the page's own codec,
// DOS Latin-1, detected charset, UTF-8 (single-byte) or UTF-16/UTF-32
// (double-byte), then a lossy decode with the page's codec.
func (r *Resolver) Decode(b []byte, page int, width Width) string {
	codec, ok := r.Resolve(page)
	if ok {
		s, err := codec.Decode(b)
		if err == nil {
			return s
		}
		level.Debug(r.logger).Log("msg", "code page decode failed", "page", page, "err", err)
	} else {
		level.Debug(r.logger).Log("msg", "unmapped code page", "page", page)
	}

	if r.fallback != nil {
		level.Debug(r.logger).Log("msg", "trying fallback codec", "codec", r.fallback.Name())
		if s, err := r.fallback.Decode(b); err == nil {
			return s
		}
	}

	if s, ok := r.detect(b); ok {
		return s
	}

	for _, c := range familyFor(width) {
		level.Debug(r.logger).Log("msg", "trying codec", "codec", c.Name())
		if s, err := c.Decode(b); err == nil {
			return s
		}
	}

	level.Warn(r.logger).Log("msg", "lossy decode, data may be lost", "page", page, "width", width)
	if tc, ok := codec.(textCodec); ok {
		return tc.lossy(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}

func (r *Resolver) detect(b []byte) (string, bool) {
	if r.detector == nil || len(b) == 0 {
		return "", false
	}
	res, err := r.detector.DetectBest(b)
	if err != nil {
		level.Debug(r.logger).Log("msg", "charset detection failed", "err", err)
		return "", false
	}
	enc, err := lookup(res.Charset)
	if err != nil {
		level.Debug(r.logger).Log("msg", "detected charset has no codec", "charset", res.Charset, "err", err)
		return "", false
	}
	s, err := NewCodec(res.Charset, enc).Decode(b)
	if err != nil {
		level.Debug(r.logger).Log("msg", "detected charset failed", "charset", res.Charset, "err", err)
		return "", false
	}
	return s, true
}

func lookup(name string) (encoding.Encoding, error) {
	if enc, err := htmlindex.Get(name); err == nil {
		return enc, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("codepage: charset %q unsupported", name)
	}
	return enc, nil
}

func familyFor(w Width) []Codec {
	if w == DoubleByte {
		return []Codec{
			NewCodec("utf-16", unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)),
			NewCodec("utf-32", utf32.UTF32(utf32.LittleEndian, utf32.UseBOM)),
		}
	}
	return []Codec{utf8Codec{}}
}
