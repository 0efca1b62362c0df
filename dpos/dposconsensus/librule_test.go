package dposconsensus_test

import (
	"testing"

	"github.com/gordian-engine/gdpos/dpos/dposconsensus"
	"github.com/stretchr/testify/require"
)

func TestLibRule_Quorum(t *testing.T) {
	t.Parallel()

	r := dposconsensus.DefaultLibRule
	for _, tc := range []struct {
		n, want int
	}{
		{n: 1, want: 1},
		{n: 3, want: 3},
		{n: 4, want: 3},
		{n: 5, want: 4},
		{n: 17, want: 12},
	} {
		require.Equal(t, tc.want, r.Quorum(tc.n), "n=%d", tc.n)
	}
}

func TestLibRule_Rank(t *testing.T) {
	t.Parallel()

	r := dposconsensus.DefaultLibRule
	require.Equal(t, 0, r.Rank(1))
	require.Equal(t, 0, r.Rank(3))
	require.Equal(t, 1, r.Rank(4))
	require.Equal(t, 5, r.Rank(17))

	require.Panics(t, func() { _ = r.Rank(0) })
}

func TestLibRule_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, dposconsensus.DefaultLibRule.Validate())

	err := dposconsensus.LibRule{ConsentNumerator: 4, ConsentDenominator: 3}.Validate()
	require.ErrorContains(t, err, "Lib.ConsentNumerator")
	require.ErrorContains(t, err, "Lib.RankDivisor")

	err = dposconsensus.LibRule{}.Validate()
	require.ErrorContains(t, err, "Lib.ConsentDenominator")
}
