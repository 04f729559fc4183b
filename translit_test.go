package vocconv

import "testing"

func TestTransliterate(t *testing.T) {
	tests := []struct {
		s, lang, want string
	}{
		{"Собака", "ru", "Sobaka"},
		{"Bär", "de", "Baer"},
		{"Bär", "de-AT", "Baer"},
		{"Bär", "en", "Bar"},
		{"Søren", "da", "Soeren"},
		{"Straße", "en", "Strasse"},
		{"dog", "en", "dog"},
	}
	for _, tt := range tests {
		got, err := Transliterate(tt.s, tt.lang)
		if err != nil {
			t.Errorf("Transliterate(%q, %q): %v", tt.s, tt.lang, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Transliterate(%q, %q) = %q, want %q", tt.s, tt.lang, got, tt.want)
		}
	}

	if _, err := Transliterate("dog", "not a language"); err == nil {
		t.Error("expected an error for an invalid language code")
	}
}
