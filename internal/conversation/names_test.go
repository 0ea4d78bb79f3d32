package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatternDetector(t *testing.T) {
	t.Parallel()

	d := NewPatternDetector()
	tests := []struct {
		text string
		want string
	}{
		{"Sou a Maria, tenho frango e arroz", "Maria"},
		{"meu nome é João", "João"},
		{"Oi! Me chamo Ana.", "Ana"},
		{"sou o Pedro e quero um bolo", "Pedro"},
		{"pode me chamar de Bia!", "Bia"},
		{"Aqui é a Carla", "Carla"},
		{"me chamo Lu... na verdade me chamo Luíza", "Luíza"},
		{"tenho ovos e farinha", ""},
		{"qual é a receita mais fácil?", ""},
		{"Quem manda aqui é o Rafa", "Rafa"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, d.DetectName(tt.text))
		})
	}
}

func TestPatternDetectorNeedsWordBoundary(t *testing.T) {
	// "pesou" contains "sou" but is not an introduction.
	assert.Equal(t, "", NewPatternDetector().DetectName("a farinha pesou demais"))
}
