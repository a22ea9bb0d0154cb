package rating

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWilson95(t *testing.T) {
	require.Equal(t, WinRate{Low: 0, High: 1}, Wilson95(0, 0))

	w := Wilson95(5, 10)
	require.InDelta(t, 0.5, w.Rate, 1e-9)
	require.InDelta(t, 0.2366, w.Low, 1e-3)
	require.InDelta(t, 0.7634, w.High, 1e-3)

	fresh := Wilson95(3, 3)
	veteran := Wilson95(40, 50)
	require.Equal(t, 1.0, fresh.Rate)
	require.Less(t, fresh.Low, veteran.Low)

	require.Equal(t, Wilson95(4, 4), Wilson95(9, 4))
}
