package models

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Accepted file name patterns for custom model inputs.
var (
	RotationPatterns = []string{"*.rot", "*.grot"}
	LayerPatterns    = []string{"*.gpml", "*.gpmlz", "*.gpml.gz", "*.dat", "*.pla", "*.shp", "*.geojson", "*.json", "*.gpkg", "*.gmt", "*.vgp"}
)

// DisplayName turns a canonical catalog name into the name shown to users:
// underscores become spaces, the first letter is capitalized and a space is
// inserted before the first digit ("muller2019" -> "Muller 2019").
func DisplayName(canonical string) string {
	s := strings.ReplaceAll(canonical, "_", " ")
	if r, n := utf8.DecodeRuneInString(s); n > 0 {
		s = string(unicode.ToUpper(r)) + s[n:]
	}
	i := strings.IndexFunc(s, unicode.IsDigit)
	if i <= 0 || s[i-1] == ' ' {
		return s
	}
	return s[:i] + " " + s[i:]
}

func matchAny(patterns []string, file string) bool {
	base := filepath.Base(file)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}
