package reql_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/rethinkdb-core/pkg/reql"
)

// Document defines an Equal method (Document.Equal), so cmp.Diff
// compares it by value-equality instead of panicking on its unexported
// fields; Term embeds *Document as a Literal, so the same comparison
// flows through term trees built from it.
func Test_Cmp_DocumentRoundTripsThroughJSON(t *testing.T) {
	t.Parallel()

	original := reql.Object().
		Set("name", reql.String("ada")).
		Set("tags", reql.Array(reql.String("admin"), reql.String("staff"))).
		Set("age", reql.Number(30)).
		Set("active", reql.Bool(true)).
		Set("nickname", reql.Null).
		Build()

	encoded, err := original.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	decoded, err := reql.FromJSON(encoded)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Fatalf("document changed across JSON round-trip (-want +got):\n%s", diff)
	}
}

func Test_Cmp_TermTreeEquality(t *testing.T) {
	t.Parallel()

	a := reql.New(reql.OpFilter,
		reql.New(reql.OpTable, reql.NewDatum(reql.String("users"))),
		reql.NewDatum(reql.Object().Set("age", reql.Number(25)).Build()),
	)

	b := reql.New(reql.OpFilter,
		reql.New(reql.OpTable, reql.NewDatum(reql.String("users"))),
		reql.NewDatum(reql.Object().Set("age", reql.Number(25)).Build()),
	)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("structurally identical term trees differ (-a +b):\n%s", diff)
	}

	c := reql.New(reql.OpFilter,
		reql.New(reql.OpTable, reql.NewDatum(reql.String("users"))),
		reql.NewDatum(reql.Object().Set("age", reql.Number(26)).Build()),
	)

	if diff := cmp.Diff(a, c); diff == "" {
		t.Fatal("expected term trees with different literal ages to differ")
	}
}
