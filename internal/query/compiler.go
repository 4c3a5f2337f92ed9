// Package query compiles the wire's JSON query format into a
// pkg/reql.Term tree and evaluates it against a namespace layer.
package query

import (
	"encoding/json"
	"fmt"

	"github.com/calvinalkan/rethinkdb-core/pkg/reql"
)

// termCode maps the wire protocol's numeric term-type IDs (the ordinals
// RethinkDB drivers send) to this interpreter's OperatorKind.
var termCode = map[int64]reql.OperatorKind{
	0:   reql.OpDatum,
	1:   reql.OpMakeArray,
	2:   reql.OpMakeObj,
	3:   reql.OpVar,
	9:   reql.OpDb,
	10:  reql.OpTable,
	11:  reql.OpGet,
	12:  reql.OpGetAll,
	13:  reql.OpEq,
	14:  reql.OpNe,
	15:  reql.OpLt,
	16:  reql.OpLe,
	17:  reql.OpGt,
	18:  reql.OpGe,
	19:  reql.OpNot,
	20:  reql.OpAdd,
	21:  reql.OpSub,
	22:  reql.OpMul,
	23:  reql.OpDiv,
	24:  reql.OpMod,
	28:  reql.OpAppend,
	29:  reql.OpPrepend,
	30:  reql.OpDifference,
	31:  reql.OpSetInsert,
	32:  reql.OpSetIntersection,
	33:  reql.OpSetUnion,
	34:  reql.OpSetDifference,
	35:  reql.OpSlice,
	36:  reql.OpSkip,
	37:  reql.OpLimit,
	39:  reql.OpContains,
	40:  reql.OpGetField,
	41:  reql.OpKeys,
	42:  reql.OpValues,
	44:  reql.OpHasFields,
	46:  reql.OpPluck,
	47:  reql.OpWithout,
	48:  reql.OpMerge,
	49:  reql.OpBetween,
	50:  reql.OpReduce,
	51:  reql.OpMap,
	53:  reql.OpFilter,
	54:  reql.OpConcatMap,
	55:  reql.OpOrderBy,
	56:  reql.OpDistinct,
	57:  reql.OpCount,
	60:  reql.OpNth,
	67:  reql.OpInsertAt,
	68:  reql.OpDeleteAt,
	69:  reql.OpChangeAt,
	70:  reql.OpSpliceAt,
	71:  reql.OpCoerceTo,
	72:  reql.OpTypeOf,
	73:  reql.OpUpdate,
	74:  reql.OpDelete,
	75:  reql.OpReplace,
	76:  reql.OpInsert,
	77:  reql.OpDbCreate,
	78:  reql.OpDbDrop,
	79:  reql.OpDbList,
	80:  reql.OpTableCreate,
	81:  reql.OpTableDrop,
	82:  reql.OpTableList,
	99:  reql.OpBranch,
	100: reql.OpOr,
	101: reql.OpAnd,
	102: reql.OpForEach,
	103: reql.OpFunc,
	152: reql.OpGroup,
	153: reql.OpSum,
	154: reql.OpAvg,
	155: reql.OpMin,
	156: reql.OpMax,
}

// Compile parses raw wire JSON (either a bare datum or a
// [term_type, [args...], {optargs...}] array) into a Term.
func Compile(raw []byte) (reql.Term, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return reql.Term{}, fmt.Errorf("compile query: %w", err)
	}

	return compileValue(v)
}

func compileValue(v interface{}) (reql.Term, error) {
	arr, ok := v.([]interface{})
	if !ok {
		return reql.NewDatum(jsonToDocument(v)), nil
	}

	if len(arr) == 0 {
		return reql.Term{}, fmt.Errorf("compile term: empty term array")
	}

	typeNum, ok := arr[0].(float64)
	if !ok {
		return reql.Term{}, fmt.Errorf("compile term: expected numeric term type, got %T", arr[0])
	}

	op, ok := termCode[int64(typeNum)]
	if !ok {
		return reql.Term{}, fmt.Errorf("compile term: unknown term type %v", typeNum)
	}

	if op == reql.OpDatum {
		if len(arr) < 2 {
			return reql.Term{}, fmt.Errorf("compile term: DATUM requires a value argument")
		}

		return reql.NewDatum(jsonToDocument(arr[1])), nil
	}

	var args []reql.Term

	if len(arr) > 1 {
		argList, ok := arr[1].([]interface{})
		if !ok {
			return reql.Term{}, fmt.Errorf("compile term: expected args array at index 1")
		}

		args = make([]reql.Term, len(argList))

		for i, a := range argList {
			t, err := compileValue(a)
			if err != nil {
				return reql.Term{}, err
			}

			args[i] = t
		}
	}

	term := reql.Term{Op: op, Args: args}

	if len(arr) > 2 {
		optargsObj, ok := arr[2].(map[string]interface{})
		if !ok {
			return reql.Term{}, fmt.Errorf("compile term: expected optargs object at index 2")
		}

		for k, v := range optargsObj {
			t, err := compileValue(v)
			if err != nil {
				return reql.Term{}, err
			}

			term = term.WithOpt(k, t)
		}
	}

	return term, nil
}

func jsonToDocument(v interface{}) reql.Document {
	switch val := v.(type) {
	case nil:
		return reql.Null
	case bool:
		return reql.Bool(val)
	case float64:
		return reql.Number(val)
	case string:
		return reql.String(val)
	case []interface{}:
		items := make([]reql.Document, len(val))
		for i, item := range val {
			items[i] = jsonToDocument(item)
		}

		return reql.Array(items...)
	case map[string]interface{}:
		b := reql.Object()
		for k, item := range val {
			b.Set(k, jsonToDocument(item))
		}

		return b.Build()
	default:
		return reql.Null
	}
}
