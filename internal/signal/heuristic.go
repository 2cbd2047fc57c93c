package signal

import (
	"bytes"
	"context"
	"errors"
	"math"
)

// Entropy returns the Shannon entropy of b in bits per byte (0..8).
func Entropy(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}

	var counts [256]int
	for _, c := range b {
		counts[c]++
	}

	var entropy float64
	total := float64(len(b))
	for _, n := range counts {
		if n > 0 {
			p := float64(n) / total
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// compressedMagic lists signatures of formats that are legitimately high-entropy.
var compressedMagic = [][]byte{
	{0x50, 0x4b, 0x03, 0x04},       // zip, docx, xlsx, jar
	{0x1f, 0x8b},                   // gzip
	{0x28, 0xb5, 0x2f, 0xfd},       // zstd
	{0x37, 0x7a, 0xbc, 0xaf},       // 7z
	{0x42, 0x5a, 0x68},             // bzip2
	{0xfd, 0x37, 0x7a, 0x58, 0x5a}, // xz
	{0x89, 0x50, 0x4e, 0x47},       // png
	{0xff, 0xd8, 0xff},             // jpeg
	{0x25, 0x50, 0x44, 0x46},       // pdf
	{0x52, 0x61, 0x72, 0x21},       // rar
}

// KnownCompressed reports whether b starts with a compressed-format signature.
func KnownCompressed(b []byte) bool {
	for _, m := range compressedMagic {
		if bytes.HasPrefix(b, m) {
			return true
		}
	}
	return false
}

// Heuristic is the entropy-derived heuristic extractor. Its score is the larger
// of the keyword density (hits / saturate) and the entropy ramp, so plain text
// documents are judged by their vocabulary and opaque blobs by their randomness.
type Heuristic struct {
	keywords [][]byte
	saturate int
	low      float64
	high     float64
}

// NewHeuristic creates a heuristic extractor from cfg.
func NewHeuristic(cfg Config) *Heuristic {
	kws := make([][]byte, 0, len(cfg.Keywords))
	for _, k := range cfg.Keywords {
		if k != "" {
			kws = append(kws, bytes.ToLower([]byte(k)))
		}
	}
	sat := cfg.KeywordSaturate
	if sat <= 0 {
		sat = 6
	}
	return &Heuristic{keywords: kws, saturate: sat, low: cfg.EntropyLow, high: cfg.EntropyHigh}
}

// Name implements Extractor.
func (h *Heuristic) Name() string { return "heuristic" }

// Score implements Extractor.
func (h *Heuristic) Score(ctx context.Context, in Input) (float64, error) {
	if in.Data == nil {
		return 0, &ExtractionError{Extractor: h.Name(), Path: in.Path, Err: errors.New("no content")}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	kw := float64(h.KeywordHits(in.Data)) / float64(h.saturate)

	ent := 0.0
	if !KnownCompressed(in.Data) {
		ent = ramp(Entropy(in.Data), h.low, h.high)
	}

	return clamp01(math.Max(kw, ent)), nil
}

// KeywordHits counts distinct keywords present in data (case-insensitive).
func (h *Heuristic) KeywordHits(data []byte) int {
	lower := bytes.ToLower(data)
	hits := 0
	for _, k := range h.keywords {
		if bytes.Contains(lower, k) {
			hits++
		}
	}
	return hits
}
