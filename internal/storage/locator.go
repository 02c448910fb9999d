// Package storage parses object locators and routes object-store calls to the
// backend that owns a locator's scheme.
package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
)

// Locator is a parsed scheme://bucket/key object reference.
type Locator struct {
	Scheme string
	Bucket string
	Key    string
}

func (l Locator) String() string {
	return fmt.Sprintf("%s://%s/%s", l.Scheme, l.Bucket, l.Key)
}

// ParseLocator splits a locator such as gs://bucket/dir/file.pdf.
func ParseLocator(locator string) (Locator, error) {
	scheme, rest, ok := strings.Cut(locator, "://")
	if !ok || scheme == "" {
		return Locator{}, apperr.New(apperr.CategoryInvalidInput, "parse locator", fmt.Errorf("locator %q has no scheme", locator))
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return Locator{}, apperr.New(apperr.CategoryInvalidInput, "parse locator", fmt.Errorf("locator %q must name a bucket and an object key", locator))
	}
	return Locator{Scheme: strings.ToLower(scheme), Bucket: bucket, Key: key}, nil
}

// KeyOf strips the scheme and bucket prefix, returning the object key.
func KeyOf(locator string) (string, error) {
	l, err := ParseLocator(locator)
	if err != nil {
		return "", err
	}
	return l.Key, nil
}

// Join appends path elements to a scheme://bucket[/prefix] base.
func Join(base string, elem ...string) string {
	base = strings.TrimSuffix(base, "/")
	return base + "/" + strings.TrimPrefix(path.Join(elem...), "/")
}
