package docstore_test

import (
	"testing"

	"github.com/jorgevx/escriba/internal/docstore"
)

func TestClosestName(t *testing.T) {
	t.Parallel()

	candidates := []string{"Beto Lima", "Ely Soto", "Carla Paz"}

	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{name: "typo", input: "Beto Lma", want: "Beto Lima", ok: true},
		{name: "case insensitive", input: "ely soto", want: "Ely Soto", ok: true},
		{name: "phonetic", input: "Karla Pas", want: "Carla Paz", ok: true},
		{name: "unrelated", input: "Zanahoria", ok: false},
		{name: "empty", input: "  ", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := docstore.ClosestName(tt.input, candidates)
			if ok != tt.ok || got != tt.want {
				t.Errorf("docstore.ClosestName(%q) = (%q, %t), want (%q, %t)", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}
