package shmregion

import (
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tensorpool/tensorpool/tperr"
)

// URI is a parsed "shm:file?path=<absolute path>|require_hugepages=<bool>"
// region reference, per spec.md §4.2.
type URI struct {
	Path              string
	RequireHugepages  bool
}

// ParseURI parses and validates a region URI, but does not touch the
// filesystem — path allow-listing happens in ValidatePath.
func ParseURI(raw string) (URI, error) {
	const op = "shmregion.ParseURI"

	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, tperr.Wrap(tperr.Invalid, op, err, "malformed uri %q", raw)
	}
	if u.Scheme != "shm" || u.Opaque != "file" {
		return URI{}, tperr.New(tperr.Invalid, op, "unsupported uri %q, want scheme shm:file", raw)
	}

	// The wire format pipe-separates params instead of using "&", so we
	// split by hand rather than reach for url.ParseQuery.
	path := ""
	requireHugepages := false
	havePath := false

	for _, pair := range strings.Split(u.RawQuery, "|") {
		if pair == "" {
			continue
		}
		key, val, ok := strings.Cut(pair, "=")
		if !ok {
			return URI{}, tperr.New(tperr.Invalid, op, "malformed uri param %q", pair)
		}
		unescapedVal, err := url.QueryUnescape(val)
		if err != nil {
			return URI{}, tperr.Wrap(tperr.Invalid, op, err, "malformed uri param value %q", val)
		}
		switch key {
		case "path":
			path = unescapedVal
			havePath = true
		case "require_hugepages":
			b, err := strconv.ParseBool(unescapedVal)
			if err != nil {
				return URI{}, tperr.Wrap(tperr.Invalid, op, err, "uri %q has invalid require_hugepages", raw)
			}
			requireHugepages = b
		default:
			return URI{}, tperr.New(tperr.Invalid, op, "unknown uri param %q", key)
		}
	}

	if !havePath || path == "" || !filepath.IsAbs(path) {
		return URI{}, tperr.New(tperr.Invalid, op, "uri %q missing absolute path", raw)
	}

	return URI{Path: path, RequireHugepages: requireHugepages}, nil
}

// String renders the URI back to wire form.
func (u URI) String() string {
	var b strings.Builder
	b.WriteString("shm:file?path=")
	b.WriteString(url.QueryEscape(u.Path))
	if u.RequireHugepages {
		b.WriteString("|require_hugepages=true")
	}
	return b.String()
}

// ValidatePath canonicalizes path and checks it falls under one of
// allowedRoots. Called before any file is opened, per spec.md property
// 10 ("path safety").
func ValidatePath(path string, allowedRoots []string) (string, error) {
	const op = "shmregion.ValidatePath"

	clean, err := filepath.Abs(path)
	if err != nil {
		return "", tperr.Wrap(tperr.Invalid, op, err, "cannot resolve path %q", path)
	}
	clean = filepath.Clean(clean)

	if len(allowedRoots) == 0 {
		return "", tperr.New(tperr.Invalid, op, "no allowed roots configured, rejecting %q", path)
	}

	for _, root := range allowedRoots {
		rootClean := filepath.Clean(root)
		if clean == rootClean || strings.HasPrefix(clean, rootClean+string(filepath.Separator)) {
			return clean, nil
		}
	}

	return "", tperr.New(tperr.Invalid, op, "path %q is outside allowed roots %v", path, allowedRoots)
}
