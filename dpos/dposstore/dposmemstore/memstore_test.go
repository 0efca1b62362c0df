package dposmemstore_test

import (
	"testing"

	"github.com/gordian-engine/gdpos/dpos/dposstore"
	"github.com/gordian-engine/gdpos/dpos/dposstore/dposmemstore"
	"github.com/gordian-engine/gdpos/dpos/dposstore/dposstoretest"
)

func TestMemRoundStore(t *testing.T) {
	t.Parallel()

	dposstoretest.TestRoundStoreCompliance(t, func(func(func())) (dposstore.RoundStore, error) {
		return dposmemstore.NewRoundStore(), nil
	})
}

func TestMemFinalizationStore(t *testing.T) {
	t.Parallel()

	dposstoretest.TestFinalizationStoreCompliance(t, func(func(func())) (dposstore.FinalizationStore, error) {
		return dposmemstore.NewFinalizationStore(), nil
	})
}
