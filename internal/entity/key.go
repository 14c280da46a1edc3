package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Scheme tags which identity scheme produced a Key.
type Scheme uint8

const (
	// SchemeLocated keys embed a source location and exist for every
	// entity the parser has seen.
	SchemeLocated Scheme = iota + 1
	// SchemeContentHash keys identify entities that do not exist in the
	// source tree yet.
	SchemeContentHash
)

func (s Scheme) String() string {
	switch s {
	case SchemeLocated:
		return "located"
	case SchemeContentHash:
		return "content-hash"
	default:
		return "invalid"
	}
}

const (
	keySep        = ":"
	newKeyMarker  = "new"
	hashHexLength = 16
)

// escaper protects the field separator inside names and paths.
var (
	keyEscaper   = strings.NewReplacer("%", "%25", ":", "%3A")
	keyUnescaper = strings.NewReplacer("%3A", ":", "%3a", ":", "%25", "%")
)

// LineRange is an inclusive, 1-based span of source lines.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// NewLineRange validates and returns a LineRange.
func NewLineRange(start, end int) (LineRange, error) {
	r := LineRange{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return LineRange{}, err
	}
	return r, nil
}

// Validate checks 1 <= Start <= End.
func (r LineRange) Validate() error {
	if r.Start < 1 || r.End < r.Start {
		return &KeyError{Field: "line range", Value: r.String(), Reason: "must satisfy 1 <= start <= end"}
	}
	return nil
}

func (r LineRange) String() string {
	return strconv.Itoa(r.Start) + "-" + strconv.Itoa(r.End)
}

// Key is the stable identity of a code entity. It is a comparable value and
// can be used as a map key. The zero Key is invalid; constructors never
// return it without an error.
type Key struct {
	scheme   Scheme
	language Language
	kind     Kind
	name     string
	path     string
	lines    LineRange
	hash     string

	// enc is the String form, computed once by the constructors. It is a
	// function of the other fields, so equality is unaffected.
	enc string
}

// GenerateKey derives the key of an entity that exists in the source tree.
// The same inputs always yield the same key.
func GenerateKey(language Language, kind Kind, name, filePath string, lines LineRange) (Key, error) {
	if err := checkToken("language", string(language)); err != nil {
		return Key{}, err
	}
	if language == newKeyMarker {
		return Key{}, &KeyError{Field: "language", Value: string(language), Reason: "is reserved"}
	}
	if err := checkToken("kind", string(kind)); err != nil {
		return Key{}, err
	}
	if strings.TrimSpace(name) == "" {
		return Key{}, &KeyError{Field: "name", Reason: "must not be empty"}
	}
	p, err := NormalizePath(filePath)
	if err != nil {
		return Key{}, err
	}
	if err := lines.Validate(); err != nil {
		return Key{}, err
	}
	k := Key{
		scheme:   SchemeLocated,
		language: language,
		kind:     kind,
		name:     name,
		path:     p,
		lines:    lines,
	}
	k.enc = k.encode()
	return k, nil
}

// GenerateKeyForNew derives the key of an entity with no source location
// yet. Repeated proposals for the same path, name and kind share one key.
func GenerateKeyForNew(filePath, name string, kind Kind) (Key, error) {
	if err := checkToken("kind", string(kind)); err != nil {
		return Key{}, err
	}
	if strings.TrimSpace(name) == "" {
		return Key{}, &KeyError{Field: "name", Reason: "must not be empty"}
	}
	p, err := NormalizePath(filePath)
	if err != nil {
		return Key{}, err
	}
	k := Key{
		scheme: SchemeContentHash,
		kind:   kind,
		name:   name,
		path:   p,
		hash:   contentHash(p, name, kind),
	}
	k.enc = k.encode()
	return k, nil
}

// MustGenerateKey is GenerateKey for fixtures; it panics on error.
func MustGenerateKey(language Language, kind Kind, name, filePath string, start, end int) Key {
	k, err := GenerateKey(language, kind, name, filePath, LineRange{Start: start, End: end})
	if err != nil {
		panic(err)
	}
	return k
}

func contentHash(p, name string, kind Kind) string {
	sum := sha256.Sum256([]byte(p + "\x00" + name + "\x00" + string(kind)))
	return hex.EncodeToString(sum[:hashHexLength/2])
}

// NormalizePath converts a file path to forward-slash segments with no
// redundant elements. An empty path is an InvalidKey error.
func NormalizePath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", &KeyError{Field: "path", Reason: "must not be empty"}
	}
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	if p == "." || p == "" {
		return "", &KeyError{Field: "path", Value: p, Reason: "does not name a file"}
	}
	return p, nil
}

func checkToken(field, v string) error {
	switch {
	case v == "":
		return &KeyError{Field: field, Reason: "must not be empty"}
	case strings.ContainsAny(v, ": \t\n"):
		return &KeyError{Field: field, Value: v, Reason: "must not contain separators or whitespace"}
	}
	return nil
}

// ParseKey decodes the string form produced by Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, keySep)
	if len(parts) != 5 {
		return Key{}, &KeyError{Field: "key", Value: s, Reason: "must have 5 fields"}
	}
	name := keyUnescaper.Replace(parts[2])
	filePath := keyUnescaper.Replace(parts[3])

	if parts[0] == newKeyMarker {
		k, err := GenerateKeyForNew(filePath, name, Kind(parts[1]))
		if err != nil {
			return Key{}, err
		}
		if k.hash != parts[4] {
			return Key{}, &KeyError{Field: "hash", Value: parts[4], Reason: "does not match path, name and kind"}
		}
		return k, nil
	}

	start, end, ok := strings.Cut(parts[4], "-")
	if !ok {
		return Key{}, &KeyError{Field: "line range", Value: parts[4], Reason: "must be start-end"}
	}
	s1, err1 := strconv.Atoi(start)
	s2, err2 := strconv.Atoi(end)
	if err1 != nil || err2 != nil {
		return Key{}, &KeyError{Field: "line range", Value: parts[4], Reason: "must be numeric"}
	}
	return GenerateKey(Language(parts[0]), Kind(parts[1]), name, filePath, LineRange{Start: s1, End: s2})
}

// MustParseKey is ParseKey for fixtures; it panics on error.
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// String encodes the key. Located keys read lang:kind:name:path:start-end,
// content-hash keys read new:kind:name:path:hash.
func (k Key) String() string { return k.enc }

func (k Key) encode() string {
	switch k.scheme {
	case SchemeLocated:
		return strings.Join([]string{
			string(k.language),
			string(k.kind),
			keyEscaper.Replace(k.name),
			keyEscaper.Replace(k.path),
			k.lines.String(),
		}, keySep)
	case SchemeContentHash:
		return strings.Join([]string{
			newKeyMarker,
			string(k.kind),
			keyEscaper.Replace(k.name),
			keyEscaper.Replace(k.path),
			k.hash,
		}, keySep)
	default:
		return ""
	}
}

// GoString keeps %#v output readable in test failures.
func (k Key) GoString() string {
	return fmt.Sprintf("entity.Key(%q)", k.String())
}

// IsZero reports whether k is the invalid zero key.
func (k Key) IsZero() bool { return k.scheme == 0 }

// Scheme returns which identity scheme produced k.
func (k Key) Scheme() Scheme { return k.scheme }

// IsNew reports whether k is a content-hash key for a not-yet-existing entity.
func (k Key) IsNew() bool { return k.scheme == SchemeContentHash }

// Language is empty for content-hash keys.
func (k Key) Language() Language { return k.language }

func (k Key) Kind() Kind   { return k.kind }
func (k Key) Name() string { return k.name }
func (k Key) Path() string { return k.path }

// Hash is empty for located keys.
func (k Key) Hash() string { return k.hash }

// Lines returns the source span; ok is false for content-hash keys.
func (k Key) Lines() (LineRange, bool) {
	return k.lines, k.scheme == SchemeLocated
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	if k.IsZero() {
		return nil, &KeyError{Field: "key", Reason: "is zero"}
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(b []byte) error {
	parsed, err := ParseKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Less orders keys by their string form.
func (k Key) Less(other Key) bool { return k.enc < other.enc }
