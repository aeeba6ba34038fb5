package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance_CityPairs(t *testing.T) {
	tests := []struct {
		name       string
		lat1, lon1 float64
		lat2, lon2 float64
		wantKm     float64
		toleranceK float64
	}{
		{"London to Paris", 51.5074, -0.1278, 48.8566, 2.3522, 343.5, 1.0},
		{"New York to Los Angeles", 40.7128, -74.0060, 34.0522, -118.2437, 3935.7, 5.0},
		{"Accra to Kumasi", 5.6037, -0.1870, 6.6885, -1.6244, 199.5, 2.0},
		{"Sydney to Melbourne", -33.8688, 151.2093, -37.8136, 144.9631, 713.4, 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2) / 1000
			assert.InDelta(t, tt.wantKm, got, tt.toleranceK)
		})
	}
}

func TestDistance_Symmetric(t *testing.T) {
	points := [][2]float64{
		{0, 0}, {51.5074, -0.1278}, {-33.8688, 151.2093}, {89.9, 179.9}, {-45, -120},
	}

	for _, a := range points {
		for _, b := range points {
			ab := Distance(a[0], a[1], b[0], b[1])
			ba := Distance(b[0], b[1], a[0], a[1])
			assert.InDelta(t, ab, ba, 1e-6, "distance(%v,%v) != distance(%v,%v)", a, b, b, a)
		}
	}
}

func TestDistance_SamePointIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Distance(5.6037, -0.1870, 5.6037, -0.1870))
	assert.Equal(t, 0.0, Distance(0, 0, 0, 0))
}

func TestDistance_EquatorDegree(t *testing.T) {
	// 0.008 degrees of longitude at the equator
	assert.InDelta(t, 889.6, Distance(0, 0, 0, 0.008), 1.0)
	assert.InDelta(t, 2223.9, Distance(0, 0, 0, 0.02), 1.0)
}

func TestWithin_BoundaryIsInside(t *testing.T) {
	d := Distance(0, 0, 0, 0.008)

	assert.True(t, Within(0, 0.008, 0, 0, d))
	assert.True(t, Within(0, 0.008, 0, 0, d+1))
	assert.False(t, Within(0, 0.008, 0, 0, d-1))
}
