package vocconv

import (
	"fmt"
	"strings"

	"github.com/gosimple/unidecode"
	"golang.org/x/text/language"
)

// Replacements applied before the generic transliteration, for languages whose conventional
// romanisation differs from it.
var languageReplacements = map[string]*strings.Replacer{
	"de": strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "Ä", "Ae", "Ö", "Oe", "Ü", "Ue"),
	"da": strings.NewReplacer("æ", "ae", "ø", "oe", "å", "aa", "Æ", "Ae", "Ø", "Oe", "Å", "Aa"),
	"nb": strings.NewReplacer("æ", "ae", "ø", "oe", "å", "aa", "Æ", "Ae", "Ø", "Oe", "Å", "Aa"),
}

// Transliterate converts s to Latin characters. languageCode is a BCP 47 language tag, such as
// "ru" or "de-AT", naming the language of s.
func Transliterate(s, languageCode string) (string, error) {
	tag, err := language.Parse(languageCode)
	if err != nil {
		return "", fmt.Errorf("invalid language code %q: %v", languageCode, err)
	}

	base, _ := tag.Base()
	if r, ok := languageReplacements[base.String()]; ok {
		s = r.Replace(s)
	}
	return unidecode.Unidecode(s), nil
}
