package brmoney

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatCents(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{7500, "R$ 75,00"},
		{3750, "R$ 37,50"},
		{100, "R$ 1,00"},
		{99, "R$ 0,99"},
		{0, "R$ 0,00"},
		{-250, "-R$ 2,50"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, FormatCents(tc.cents))
	}
}
