// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package normalize produces the canonical form of catalog strings.
// Torrent names, artists, and albums are stored and matched in this form,
// so search input and stored metadata always compare equal byte-for-byte.
package normalize

import (
	"strings"
	"time"
	"unicode"
	"unique"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const defaultTTL = 5 * time.Minute

// TransformFunc is a function that transforms K to V.
type TransformFunc[K, V any] func(K) V

// Normalizer caches transformed results so we do not repeatedly transform
// the same inputs. Upload bursts and feed polling hit the same names over
// and over, so the cache pays for itself quickly.
type Normalizer[K comparable, V any] struct {
	cache     *ttlcache.Cache[K, V]
	transform TransformFunc[K, V]
}

// NewNormalizer returns a normalizer with the provided TTL and transform function.
// The transform function is only called once per unique key until the TTL expires.
func NewNormalizer[K comparable, V any](ttl time.Duration, transform TransformFunc[K, V]) *Normalizer[K, V] {
	cache := ttlcache.New(ttlcache.Options[K, V]{}.
		SetDefaultTTL(ttl))
	return &Normalizer[K, V]{
		cache:     cache,
		transform: transform,
	}
}

// Normalize returns the transformed value, using the cache to avoid repeated transforms.
func (n *Normalizer[K, V]) Normalize(key K) V {
	if cached, ok := n.cache.Get(key); ok {
		return cached
	}

	transformed := n.transform(key)
	n.cache.Set(key, transformed, ttlcache.DefaultTTL)
	return transformed
}

// Clear removes a cached entry.
func (n *Normalizer[K, V]) Clear(key K) {
	n.cache.Delete(key)
}

var (
	foldNormalizer = NewNormalizer(defaultTTL, foldInner)
	nameNormalizer = NewNormalizer(defaultTTL, nameInner)
)

// foldInner removes diacritics and decomposes ligatures.
func foldInner(s string) string {
	// Handle letters that NFKD doesn't decompose to ASCII equivalents
	// (distinct letters in Nordic/Germanic languages, not composed characters)
	s = strings.ReplaceAll(s, "æ", "ae")
	s = strings.ReplaceAll(s, "Æ", "AE")
	s = strings.ReplaceAll(s, "œ", "oe")
	s = strings.ReplaceAll(s, "Œ", "OE")
	s = strings.ReplaceAll(s, "ø", "o")
	s = strings.ReplaceAll(s, "Ø", "O")
	s = strings.ReplaceAll(s, "ß", "ss")
	s = strings.ReplaceAll(s, "ð", "d")
	s = strings.ReplaceAll(s, "Ð", "D")
	s = strings.ReplaceAll(s, "þ", "th")
	s = strings.ReplaceAll(s, "Þ", "TH")

	// transform.Chain is not safe for concurrent use, so build it per call.
	// The foldNormalizer cache keeps repeated inputs cheap.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

// nameInner is the inner transformation used by nameNormalizer.
func nameInner(s string) string {
	s = foldNormalizer.Normalize(s)
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			b.WriteRune(ch)
		}
	}

	return intern(b.String())
}

// Fold removes diacritics and decomposes ligatures with caching.
// Examples:
//   - "Shōgun" → "Shogun"
//   - "Amélie" → "Amelie"
//   - "Björk" → "Bjork"
func Fold(s string) string {
	return foldNormalizer.Normalize(s)
}

// Name returns the canonical catalog form of a string: diacritics folded,
// lowercased, and stripped to [a-z0-9]. The same function is applied to
// stored names and to incoming search text, so containment matching never
// depends on punctuation or spacing.
//
// Examples:
//   - "Shōgun S01 1080p" → "shoguns011080p"
//   - "AC/DC - Back in Black" → "acdcbackinblack"
//   - "Amélie (2001)" → "amelie2001"
func Name(s string) string {
	return nameNormalizer.Normalize(s)
}

// intern returns a canonical representation of the string using Go's unique
// package. Normalized names repeat heavily across rows and requests;
// interning lets them share memory.
func intern(s string) string {
	if s == "" {
		return ""
	}
	return unique.Make(s).Value()
}
