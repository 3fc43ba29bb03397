package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRejectionMessage(t *testing.T) {
	notes := "Vendor not on the approved list"
	empty := ""

	tests := []struct {
		name  string
		notes *string
		want  string
	}{
		{"заметки ревьюера становятся причиной отказа", &notes, "Vendor not on the approved list"},
		{"пустые заметки — дефолт", &empty, "Rejected by reviewer"},
		{"без заметок — дефолт", nil, "Rejected by reviewer"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, rejectionMessage(tc.notes))
		})
	}
}
