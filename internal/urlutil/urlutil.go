// Package urlutil provides the small set of query-string transforms the
// attack pipeline applies to captured authorization response URLs.
// Every function is total over arbitrary string input: malformed URLs
// yield zero values, never an error or a panic.
package urlutil

import (
	"errors"
	"math/rand"
	"net/url"
)

// ErrNoDistinctPermutation is returned by RandomPermutation when the input
// has fewer than two distinct characters, in which case every permutation
// equals the original and resampling would never terminate.
var ErrNoDistinctPermutation = errors.New("urlutil: no distinct permutation exists")

// GetParameter returns the first value of the named query parameter, or the
// empty string when the parameter is missing, empty, or the URL is malformed.
func GetParameter(rawURL, name string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get(name)
}

// ReplaceParameter sets the named query parameter to value, but only when
// the parameter is already present. A URL without the parameter is returned
// unchanged, so a "force empty state" mutation cannot accidentally introduce
// a state key into a state-less flow.
func ReplaceParameter(rawURL, name, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if _, ok := q[name]; !ok {
		return rawURL
	}
	q.Set(name, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// AddParameter sets the named query parameter to value, inserting it when
// absent.
func AddParameter(rawURL, name, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(name, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// RemoveParameter deletes the named query parameter from the URL.
func RemoveParameter(rawURL, name string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Del(name)
	u.RawQuery = q.Encode()
	return u.String()
}

// RandomPermutation returns a random shuffle of s that is guaranteed to
// differ from s. It rejects and resamples until the shuffle differs, which
// terminates quickly for any input with at least two distinct characters.
// Inputs where that precondition fails (e.g. "aaaa", "", "x") return
// ErrNoDistinctPermutation instead of looping forever.
func RandomPermutation(s string) (string, error) {
	if !hasDistinctChars(s) {
		return "", ErrNoDistinctPermutation
	}
	runes := []rune(s)
	for {
		shuffled := make([]rune, len(runes))
		copy(shuffled, runes)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		if p := string(shuffled); p != s {
			return p, nil
		}
	}
}

func hasDistinctChars(s string) bool {
	var first rune
	for i, r := range s {
		if i == 0 {
			first = r
			continue
		}
		if r != first {
			return true
		}
	}
	return false
}
