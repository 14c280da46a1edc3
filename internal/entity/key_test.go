package entity

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lr(start, end int) LineRange { return LineRange{Start: start, End: end} }

func TestGenerateKey_Stable(t *testing.T) {
	a, err := GenerateKey(LangRust, KindFunction, "parse", "src/lib.rs", lr(10, 20))
	require.NoError(t, err)
	b, err := GenerateKey(LangRust, KindFunction, "parse", "src/lib.rs", lr(10, 20))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, "rust:function:parse:src/lib.rs:10-20", a.String())
	assert.Equal(t, SchemeLocated, a.Scheme())
	assert.False(t, a.IsNew())
}

func TestGenerateKey_DistinctInputs(t *testing.T) {
	base, err := GenerateKey(LangGo, KindFunction, "Run", "cmd/main.go", lr(1, 5))
	require.NoError(t, err)

	variants := map[string]struct {
		lang  Language
		kind  Kind
		name  string
		path  string
		lines LineRange
	}{
		"language": {LangRust, KindFunction, "Run", "cmd/main.go", lr(1, 5)},
		"kind":     {LangGo, KindMethod, "Run", "cmd/main.go", lr(1, 5)},
		"name":     {LangGo, KindFunction, "run", "cmd/main.go", lr(1, 5)},
		"path":     {LangGo, KindFunction, "Run", "cmd/other.go", lr(1, 5)},
		"start":    {LangGo, KindFunction, "Run", "cmd/main.go", lr(2, 5)},
		"end":      {LangGo, KindFunction, "Run", "cmd/main.go", lr(1, 6)},
	}
	for field, v := range variants {
		t.Run(field, func(t *testing.T) {
			k, err := GenerateKey(v.lang, v.kind, v.name, v.path, v.lines)
			require.NoError(t, err)
			assert.NotEqual(t, base, k)
			assert.NotEqual(t, base.String(), k.String())
		})
	}
}

func TestGenerateKey_NormalizesPath(t *testing.T) {
	a, err := GenerateKey(LangGo, KindFunction, "F", `.\pkg\a.go`, lr(1, 1))
	require.NoError(t, err)
	b, err := GenerateKey(LangGo, KindFunction, "F", "pkg//x/../a.go", lr(1, 1))
	require.NoError(t, err)

	assert.Equal(t, "pkg/a.go", a.Path())
	assert.Equal(t, a, b)
}

func TestGenerateKey_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		lang  Language
		kind  Kind
		ident string
		path  string
		lines LineRange
	}{
		{"empty name", LangGo, KindFunction, "", "a.go", lr(1, 2)},
		{"blank name", LangGo, KindFunction, "   ", "a.go", lr(1, 2)},
		{"empty path", LangGo, KindFunction, "F", "", lr(1, 2)},
		{"dot path", LangGo, KindFunction, "F", "./", lr(1, 2)},
		{"empty language", "", KindFunction, "F", "a.go", lr(1, 2)},
		{"reserved language", "new", KindFunction, "F", "a.go", lr(1, 2)},
		{"colon in kind", LangGo, "fn:x", "F", "a.go", lr(1, 2)},
		{"zero start", LangGo, KindFunction, "F", "a.go", lr(0, 2)},
		{"end before start", LangGo, KindFunction, "F", "a.go", lr(5, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := GenerateKey(tt.lang, tt.kind, tt.ident, tt.path, tt.lines)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidKey))
			assert.True(t, k.IsZero())

			var ke *KeyError
			assert.True(t, errors.As(err, &ke))
		})
	}
}

func TestGenerateKeyForNew(t *testing.T) {
	a, err := GenerateKeyForNew("src/lib.rs", "helper", KindFunction)
	require.NoError(t, err)
	b, err := GenerateKeyForNew("src/lib.rs", "helper", KindFunction)
	require.NoError(t, err)
	c, err := GenerateKeyForNew("src/lib.rs", "helper", KindStruct)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, SchemeContentHash, a.Scheme())
	assert.True(t, a.IsNew())
	assert.Len(t, a.Hash(), 16)
	assert.Regexp(t, `^new:function:helper:src/lib\.rs:[0-9a-f]{16}$`, a.String())

	_, ok := a.Lines()
	assert.False(t, ok)

	_, err = GenerateKeyForNew("", "helper", KindFunction)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSchemesNeverCollide(t *testing.T) {
	located, err := GenerateKey(LangGo, KindFunction, "F", "a.go", lr(1, 1))
	require.NoError(t, err)
	hashed, err := GenerateKeyForNew("a.go", "F", KindFunction)
	require.NoError(t, err)

	assert.NotEqual(t, located, hashed)
	assert.NotEqual(t, located.String(), hashed.String())
}

func TestParseKey_RoundTrip(t *testing.T) {
	keys := []Key{
		MustGenerateKey(LangPython, KindClass, "Widget", "pkg/widget.py", 3, 40),
		MustGenerateKey(LangRust, KindMethod, "Vec::push", `C:\src\vec.rs`, 7, 7),
		MustGenerateKey(LangTypeScript, KindFunction, "100%", "a:b/c.ts", 1, 2),
	}
	hashed, err := GenerateKeyForNew("weird:path%.go", "N:ame", KindType)
	require.NoError(t, err)
	keys = append(keys, hashed)

	for _, k := range keys {
		t.Run(k.String(), func(t *testing.T) {
			parsed, err := ParseKey(k.String())
			require.NoError(t, err)
			assert.Equal(t, k, parsed)
			assert.Equal(t, k.Scheme(), parsed.Scheme())
		})
	}
}

func TestParseKey_Invalid(t *testing.T) {
	for _, s := range []string{
		"",
		"go:function:F:a.go",
		"go:function:F:a.go:1",
		"go:function:F:a.go:x-y",
		"go:function::a.go:1-2",
		"new:function:F:a.go:0000000000000000",
		"a:b:c:d:e:f",
	} {
		t.Run(s, func(t *testing.T) {
			_, err := ParseKey(s)
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestKey_TextMarshaling(t *testing.T) {
	k := MustGenerateKey(LangGo, KindStruct, "Store", "internal/graph/store.go", 12, 30)

	b, err := json.Marshal(map[string]Key{"k": k})
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"go:struct:Store:internal/graph/store.go:12-30"}`, string(b))

	var out map[string]Key
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, k, out["k"])

	_, err = Key{}.MarshalText()
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestKey_UsableAsMapKey(t *testing.T) {
	m := map[Key]int{}
	m[MustGenerateKey(LangGo, KindFunction, "A", "a.go", 1, 2)]++
	m[MustParseKey("go:function:A:a.go:1-2")]++
	assert.Len(t, m, 1)
}
