package usecase

import (
	"testing"

	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaging_Normalize(t *testing.T) {
	tests := []struct {
		name       string
		paging     Paging
		wantLimit  uint64
		wantOffset uint64
		wantErr    bool
	}{
		{name: "defaults", paging: Paging{}, wantLimit: 10},
		{name: "explicit", paging: Paging{Count: 25, Skip: 50}, wantLimit: 25, wantOffset: 50},
		{name: "clamped", paging: Paging{Count: 1000}, wantLimit: 100},
		{name: "minimum", paging: Paging{Count: 1}, wantLimit: 1},
		{name: "negative skip", paging: Paging{Skip: -1}, wantErr: true},
		{name: "negative count", paging: Paging{Count: -5}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset, err := tt.paging.Normalize()
			if tt.wantErr {
				require.ErrorIs(t, err, e.ErrInvalidPaging)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

func TestParseSearchBasis(t *testing.T) {
	b, err := ParseSearchBasis("")
	require.NoError(t, err)
	assert.Equal(t, domain.ImageSpace, b.Space())

	b, err = ParseSearchBasis("OCR")
	require.NoError(t, err)
	assert.Equal(t, domain.TextSpace, b.Space())

	_, err = ParseSearchBasis("audio")
	require.ErrorIs(t, err, e.ErrInvalidSearchBasis)
}

func TestParseSearchMode(t *testing.T) {
	tests := map[string]domain.RecommendStrategy{
		"":        domain.StrategyDefault,
		"average": domain.StrategyAverage,
		"Best":    domain.StrategyBestScore,
	}
	for in, want := range tests {
		got, err := ParseSearchMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSearchMode("median")
	require.ErrorIs(t, err, e.ErrInvalidSearchMode)
}

func TestUpdateOptReq_Empty(t *testing.T) {
	starred := true

	assert.True(t, (&UpdateOptReq{}).Empty())
	assert.False(t, (&UpdateOptReq{Starred: &starred}).Empty())
	assert.False(t, (&UpdateOptReq{Categories: []string{}}).Empty())
}
