package cache

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/Skryldev/imgconv/core"
)

// SourceVersion identifies the content of src: a content hash for buffers,
// size and modification time for files.
func SourceVersion(src core.Source) string {
	if src.Data != nil || src.Path == "" {
		return "x" + strconv.FormatUint(xxhash.Sum64(src.Data), 16)
	}
	return fmt.Sprintf("f%d.%d", src.Size, src.ModTime.UnixNano())
}

// Fingerprint derives the cache key for src under the given salt and
// settings.  Any setting that changes the cached value must be passed in
// parts.
func Fingerprint(src core.Source, salt string, parts ...interface{}) Key {
	d := xxhash.New()
	d.WriteString(salt)
	d.WriteString("\x00")
	d.WriteString(src.Identity())
	d.WriteString("\x00")
	d.WriteString(SourceVersion(src))
	for _, p := range parts {
		d.WriteString("\x00")
		fmt.Fprintf(d, "%T%+v", p, p)
	}
	return Key{Source: src.Identity(), Fingerprint: d.Sum64()}
}
