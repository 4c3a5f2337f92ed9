package reql_test

import (
	"testing"

	"github.com/calvinalkan/rethinkdb-core/pkg/reql"
)

func Test_Equal_ObjectsIgnoreKeyOrder(t *testing.T) {
	t.Parallel()

	a := reql.Object().Set("name", reql.String("ada")).Set("age", reql.Number(30)).Build()
	b := reql.Object().Set("age", reql.Number(30)).Set("name", reql.String("ada")).Build()

	if !reql.Equal(a, b) {
		t.Fatalf("expected objects with different key order to be equal")
	}
}

func Test_Equal_ArraysAreOrderDependent(t *testing.T) {
	t.Parallel()

	a := reql.Array(reql.Number(1), reql.Number(2))
	b := reql.Array(reql.Number(2), reql.Number(1))

	if reql.Equal(a, b) {
		t.Fatal("expected arrays with different order to be unequal")
	}
}

func Test_Equal_DifferentKindsAreUnequal(t *testing.T) {
	t.Parallel()

	if reql.Equal(reql.Null, reql.Bool(false)) {
		t.Fatal("expected Null != Bool(false)")
	}
}

func Test_ObjectBuilder_PreservesInsertionOrder(t *testing.T) {
	t.Parallel()

	doc := reql.Object().Set("z", reql.Number(1)).Set("a", reql.Number(2)).Build()

	got := doc.ObjectKeys()
	want := []string{"z", "a"}

	if len(got) != len(want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keys = %v, want %v", got, want)
		}
	}
}

func Test_ObjectBuilder_OverwriteKeepsOriginalPosition(t *testing.T) {
	t.Parallel()

	doc := reql.Object().Set("a", reql.Number(1)).Set("b", reql.Number(2)).Set("a", reql.Number(3)).Build()

	got := doc.ObjectKeys()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("keys = %v, want [a b]", got)
	}

	v, ok := doc.Field("a")
	if !ok {
		t.Fatal("expected field a")
	}

	n, _ := v.AsNumber()
	if n != 3 {
		t.Fatalf("a = %v, want 3", n)
	}
}

func Test_JSONRoundTrip_PreservesObjectKeyOrderOnTheWire(t *testing.T) {
	t.Parallel()

	doc := reql.Object().Set("z", reql.Number(1)).Set("a", reql.String("x")).Build()

	b, err := doc.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}

	want := `{"z":1,"a":"x"}`
	if string(b) != want {
		t.Fatalf("json = %s, want %s", b, want)
	}

	var back reql.Document
	if err := back.UnmarshalJSON(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !reql.Equal(doc, back) {
		t.Fatal("round-tripped document is not equal to original")
	}
}

func Test_FromJSON_ParsesAllSixKinds(t *testing.T) {
	t.Parallel()

	input := `{"n":null,"b":true,"num":1.5,"s":"hi","arr":[1,2],"obj":{"k":"v"}}`

	doc, err := reql.FromJSON([]byte(input))
	if err != nil {
		t.Fatalf("from json: %v", err)
	}

	if doc.Kind() != reql.KindObject {
		t.Fatalf("kind = %v, want object", doc.Kind())
	}

	n, _ := doc.Field("n")
	if !n.IsNull() {
		t.Fatal("expected n to be null")
	}

	b, _ := doc.Field("b")
	bv, _ := b.AsBool()
	if !bv {
		t.Fatal("expected b true")
	}

	arr, _ := doc.Field("arr")
	av, _ := arr.AsArray()
	if len(av) != 2 {
		t.Fatalf("arr len = %d, want 2", len(av))
	}
}
