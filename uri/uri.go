// Package uri parses the URI grammar used for master and subarray file
// locations: "scheme://host/bucket/key-path" for remote storage, or any
// path without a scheme for local storage. See spec.md §6.
package uri

import (
	"path"
	"strings"
)

// URI is a parsed storage location.
type URI struct {
	// Remote is true when a scheme was present.
	Remote bool
	Scheme string
	Host   string
	// Bucket is the first path segment of a remote URI.
	Bucket string
	// Key is the remainder of the path after Bucket, for remote URIs.
	Key string
	// Path is the filesystem path for local URIs; for remote URIs it is
	// the original Bucket/Key joined for display purposes only.
	Path string
	raw  string
}

// String returns the original URI text, unchanged.
func (u URI) String() string { return u.raw }

// HasWildcard reports whether Key (or Path, for local URIs) contains a
// '*' or '?' glob character, per spec.md §6's read-only enumeration rule.
func (u URI) HasWildcard() bool {
	target := u.Key
	if !u.Remote {
		target = u.Path
	}
	return strings.ContainsAny(target, "*?")
}

// Parse splits raw into its scheme/bucket/key (remote) or bare path
// (local) components. A URI is remote iff it contains "://".
func Parse(raw string) URI {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return URI{Remote: false, Path: raw, raw: raw}
	}
	scheme := raw[:idx]
	rest := raw[idx+3:]
	hostAndPath := rest
	host := ""
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		host = rest[:slash]
		hostAndPath = rest[slash+1:]
	} else {
		host = rest
		hostAndPath = ""
	}
	bucket := hostAndPath
	key := ""
	if slash := strings.IndexByte(hostAndPath, '/'); slash >= 0 {
		bucket = hostAndPath[:slash]
		key = hostAndPath[slash+1:]
	}
	return URI{
		Remote: true,
		Scheme: scheme,
		Host:   host,
		Bucket: bucket,
		Key:    key,
		Path:   path.Join(bucket, key),
		raw:    raw,
	}
}

// Join appends a child path segment to a URI's directory/prefix,
// returning the resulting URI text. Used to colocate subarray files
// under the master's directory/prefix (spec.md §4.2).
func Join(base URI, child string) string {
	if base.Remote {
		prefix := base.Key
		if idx := strings.LastIndexByte(prefix, '/'); idx >= 0 {
			prefix = prefix[:idx]
		} else {
			prefix = ""
		}
		key := child
		if prefix != "" {
			key = prefix + "/" + child
		}
		return base.Scheme + "://" + base.Host + "/" + base.Bucket + "/" + key
	}
	dir := path.Dir(base.Path)
	return path.Join(dir, child)
}

// MatchesGlob reports whether name matches the '*'/'?' glob pattern,
// per spec.md §6's wildcard support for listing. '*' matches any run of
// characters (including none) without crossing a '/' boundary; '?'
// matches exactly one non-'/' character.
func MatchesGlob(pattern, name string) bool {
	return matchGlob(pattern, name)
}

func matchGlob(pattern, name string) bool {
	// Classic greedy-backtracking glob matcher over bytes, '/'-aware.
	var pi, ni int
	var starPi, starNi = -1, -1
	for ni < len(name) {
		if pi < len(pattern) && (pattern[pi] == '?' && name[ni] != '/' || pattern[pi] == name[ni]) {
			pi++
			ni++
			continue
		}
		if pi < len(pattern) && pattern[pi] == '*' {
			starPi = pi
			starNi = ni
			pi++
			continue
		}
		if starPi >= 0 && name[starNi] != '/' {
			pi = starPi + 1
			starNi++
			ni = starNi
			continue
		}
		return false
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
