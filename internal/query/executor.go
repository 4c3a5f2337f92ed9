package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/calvinalkan/rethinkdb-core/internal/dberr"
	"github.com/calvinalkan/rethinkdb-core/internal/namespace"
	"github.com/calvinalkan/rethinkdb-core/pkg/reql"
	"github.com/google/uuid"
)

// EvalContext carries the per-query mutable state threaded through
// recursive term evaluation: the current database (defaulting to "test")
// and the variable bindings introduced by FUNC/VAR term pairs.
type EvalContext struct {
	DB   string
	vars map[int64]reql.Document
}

// NewEvalContext returns a fresh context with the default database.
func NewEvalContext() *EvalContext {
	return &EvalContext{DB: "test", vars: map[int64]reql.Document{}}
}

func (c *EvalContext) withVar(id int64, v reql.Document) *EvalContext {
	next := make(map[int64]reql.Document, len(c.vars)+1)
	for k, v := range c.vars {
		next[k] = v
	}

	next[id] = v

	return &EvalContext{DB: c.DB, vars: next}
}

// Executor evaluates a compiled Term tree against a namespace.
type Executor struct {
	ns *namespace.Namespace
}

// NewExecutor builds an Executor backed by ns.
func NewExecutor(ns *namespace.Namespace) *Executor {
	return &Executor{ns: ns}
}

// Eval evaluates term, switching on its operator tag per the fixed
// dispatch table described by the operator set. Every recursive call
// checks ctx for cancellation first, so a STOP observed mid-evaluation
// drops the current evaluation instead of running it to completion.
func (e *Executor) Eval(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	if err := ctx.Err(); err != nil {
		return reql.Document{}, dberr.New(dberr.KindCanceled, "eval", err)
	}

	if term.IsDatum() {
		doc, _ := term.AsDatum()
		return doc, nil
	}

	switch term.Op {
	case reql.OpMakeArray:
		return e.evalMakeArray(ctx, ec, term)
	case reql.OpMakeObj:
		return e.evalMakeObj(ctx, ec, term)
	case reql.OpVar:
		return e.evalVar(ec, term)
	case reql.OpFunc:
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("FUNC cannot be evaluated outside of an applying operator"))

	case reql.OpDbList:
		return e.evalDbList()
	case reql.OpDbCreate:
		return e.evalDbCreate(ctx, ec, term)
	case reql.OpDbDrop:
		return e.evalDbDrop(ctx, ec, term)
	case reql.OpDb:
		return e.evalDb(ctx, ec, term)

	case reql.OpTableList:
		return e.evalTableList(ctx, ec, term)
	case reql.OpTableCreate:
		return e.evalTableCreate(ctx, ec, term)
	case reql.OpTableDrop:
		return e.evalTableDrop(ctx, ec, term)
	case reql.OpTable:
		return e.evalTable(ctx, ec, term)

	case reql.OpGet:
		return e.evalGet(ctx, ec, term)
	case reql.OpGetAll:
		return e.evalGetAll(ctx, ec, term)
	case reql.OpBetween:
		return e.evalBetween(ctx, ec, term)

	case reql.OpFilter:
		return e.evalFilter(ctx, ec, term)
	case reql.OpNth:
		return e.evalNth(ctx, ec, term)
	case reql.OpLimit:
		return e.evalLimit(ctx, ec, term)
	case reql.OpSkip:
		return e.evalSkip(ctx, ec, term)
	case reql.OpSlice:
		return e.evalSlice(ctx, ec, term)
	case reql.OpPluck:
		return e.evalPluck(ctx, ec, term)
	case reql.OpWithout:
		return e.evalWithout(ctx, ec, term)
	case reql.OpMerge:
		return e.evalMerge(ctx, ec, term)
	case reql.OpDistinct:
		return e.evalDistinct(ctx, ec, term)
	case reql.OpOrderBy:
		return e.evalOrderBy(ctx, ec, term)

	case reql.OpMap:
		return e.evalMap(ctx, ec, term)
	case reql.OpConcatMap:
		return e.evalConcatMap(ctx, ec, term)

	case reql.OpCount:
		return e.evalCount(ctx, ec, term)
	case reql.OpSum:
		return e.evalAggregate(ctx, ec, term, aggSum)
	case reql.OpAvg:
		return e.evalAggregate(ctx, ec, term, aggAvg)
	case reql.OpMin:
		return e.evalAggregate(ctx, ec, term, aggMin)
	case reql.OpMax:
		return e.evalAggregate(ctx, ec, term, aggMax)
	case reql.OpGroup:
		return e.evalGroup(ctx, ec, term)
	case reql.OpReduce:
		return e.evalReduce(ctx, ec, term)

	case reql.OpInsert:
		return e.evalInsert(ctx, ec, term)
	case reql.OpUpdate:
		return e.evalUpdate(ctx, ec, term)
	case reql.OpReplace:
		return e.evalReplace(ctx, ec, term)
	case reql.OpDelete:
		return e.evalDelete(ctx, ec, term)

	case reql.OpAdd, reql.OpSub, reql.OpMul, reql.OpDiv, reql.OpMod:
		return e.evalArithmetic(ctx, ec, term)

	case reql.OpEq, reql.OpNe, reql.OpLt, reql.OpLe, reql.OpGt, reql.OpGe:
		return e.evalComparison(ctx, ec, term)

	case reql.OpAnd:
		return e.evalAnd(ctx, ec, term)
	case reql.OpOr:
		return e.evalOr(ctx, ec, term)
	case reql.OpNot:
		return e.evalNot(ctx, ec, term)

	case reql.OpGetField:
		return e.evalGetField(ctx, ec, term)
	case reql.OpHasFields:
		return e.evalHasFields(ctx, ec, term)
	case reql.OpKeys:
		return e.evalKeys(ctx, ec, term)
	case reql.OpValues:
		return e.evalValues(ctx, ec, term)

	case reql.OpAppend:
		return e.evalAppend(ctx, ec, term)
	case reql.OpPrepend:
		return e.evalPrepend(ctx, ec, term)
	case reql.OpDifference:
		return e.evalSetOp(ctx, ec, term, setDifference)
	case reql.OpSetInsert:
		return e.evalSetInsert(ctx, ec, term)
	case reql.OpSetUnion:
		return e.evalSetOp(ctx, ec, term, setUnion)
	case reql.OpSetIntersection:
		return e.evalSetOp(ctx, ec, term, setIntersection)
	case reql.OpSetDifference:
		return e.evalSetOp(ctx, ec, term, setDifference)
	case reql.OpInsertAt:
		return e.evalInsertAt(ctx, ec, term)
	case reql.OpDeleteAt:
		return e.evalDeleteAt(ctx, ec, term)
	case reql.OpChangeAt:
		return e.evalChangeAt(ctx, ec, term)
	case reql.OpSpliceAt:
		return e.evalSpliceAt(ctx, ec, term)
	case reql.OpContains:
		return e.evalContains(ctx, ec, term)

	case reql.OpBranch:
		return e.evalBranch(ctx, ec, term)
	case reql.OpForEach:
		return e.evalForEach(ctx, ec, term)

	case reql.OpTypeOf:
		return e.evalTypeOf(ctx, ec, term)
	case reql.OpCoerceTo:
		return e.evalCoerceTo(ctx, ec, term)

	default:
		return reql.Document{}, dberr.New(dberr.KindUnimplemented, "eval", fmt.Errorf("operator %s is not implemented", term.Op))
	}
}

func (e *Executor) arg(ctx context.Context, ec *EvalContext, term reql.Term, i int) (reql.Document, error) {
	t, ok := term.Arg(i)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("%s requires argument %d", term.Op, i))
	}

	return e.Eval(ctx, ec, t)
}

func argString(doc reql.Document, op reql.OperatorKind) (string, error) {
	s, ok := doc.AsString()
	if !ok {
		return "", dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("%s requires a string argument, got %s", op, doc.Kind()))
	}

	return s, nil
}

func argNumber(doc reql.Document, op reql.OperatorKind) (float64, error) {
	n, ok := doc.AsNumber()
	if !ok {
		return 0, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("%s requires a number argument, got %s", op, doc.Kind()))
	}

	return n, nil
}

func argArray(doc reql.Document, op reql.OperatorKind) ([]reql.Document, error) {
	arr, ok := doc.AsArray()
	if !ok {
		return nil, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("%s requires an array argument, got %s", op, doc.Kind()))
	}

	return arr, nil
}

// --- literal construction ---

func (e *Executor) evalMakeArray(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	items := make([]reql.Document, len(term.Args))

	for i, a := range term.Args {
		v, err := e.Eval(ctx, ec, a)
		if err != nil {
			return reql.Document{}, err
		}

		items[i] = v
	}

	return reql.Array(items...), nil
}

func (e *Executor) evalMakeObj(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	b := reql.Object()

	keys := sortedOptKeys(term)
	for _, k := range keys {
		v, err := e.Eval(ctx, ec, term.Opts[k])
		if err != nil {
			return reql.Document{}, err
		}

		b.Set(k, v)
	}

	return b.Build(), nil
}

func sortedOptKeys(term reql.Term) []string {
	keys := make([]string, 0, len(term.Opts))
	for k := range term.Opts {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func (e *Executor) evalVar(ec *EvalContext, term reql.Term) (reql.Document, error) {
	idDoc, ok := term.Arg(0)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("VAR requires an id argument"))
	}

	idDatum, ok := idDoc.AsDatum()
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("VAR id must be a literal"))
	}

	n, ok := idDatum.AsNumber()
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("VAR id must be a number"))
	}

	v, ok := ec.vars[int64(n)]
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("unbound variable %d", int64(n)))
	}

	return v, nil
}

// applyFunc calls a FUNC term (Args[0] = MAKE_ARRAY of param ids, Args[1]
// = body) with the given arguments, binding each param id to its
// matching argument in a child context.
func (e *Executor) applyFunc(ctx context.Context, ec *EvalContext, fn reql.Term, args []reql.Document) (reql.Document, error) {
	if fn.Op != reql.OpFunc {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("expected FUNC, got %s", fn.Op))
	}

	paramsTerm, ok := fn.Arg(0)
	if !ok || paramsTerm.Op != reql.OpMakeArray {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("FUNC requires a param list"))
	}

	body, ok := fn.Arg(1)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("FUNC requires a body"))
	}

	child := ec

	for i, paramTerm := range paramsTerm.Args {
		datum, ok := paramTerm.AsDatum()
		if !ok {
			return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("FUNC param %d must be a literal id", i))
		}

		n, ok := datum.AsNumber()
		if !ok {
			return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("FUNC param %d must be numeric", i))
		}

		if i >= len(args) {
			return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("FUNC called with too few arguments"))
		}

		child = child.withVar(int64(n), args[i])
	}

	return e.Eval(ctx, child, body)
}

// --- database operations ---

func (e *Executor) evalDbList() (reql.Document, error) {
	names, err := e.ns.ListDatabases()
	if err != nil {
		return reql.Document{}, err
	}

	items := make([]reql.Document, len(names))
	for i, n := range names {
		items[i] = reql.String(n)
	}

	return reql.Array(items...), nil
}

func (e *Executor) evalDbCreate(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	nameDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	name, err := argString(nameDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	if _, err := e.ns.CreateDatabase(name); err != nil {
		return reql.Document{}, err
	}

	return reql.Object().Set("dbs_created", reql.Number(1)).Build(), nil
}

func (e *Executor) evalDbDrop(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	nameDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	name, err := argString(nameDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	if err := e.ns.DropDatabase(name); err != nil {
		return reql.Document{}, err
	}

	return reql.Object().Set("dbs_dropped", reql.Number(1)).Build(), nil
}

func (e *Executor) evalDb(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	nameDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	name, err := argString(nameDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	ec.DB = name

	return reql.Object().Set("$reql_type$", reql.String("DB")).Set("db", reql.String(name)).Build(), nil
}

// --- table admin ---

// tableAdminName evaluates every positional argument in order (so a
// leading DB term's ec.DB side effect runs first, mirroring
// r.db(...).tableCreate(...) chaining) and returns the last argument's
// string value as the table name. A bare tableCreate("users") with no
// leading db term works the same way against a single argument.
func (e *Executor) tableAdminName(ctx context.Context, ec *EvalContext, term reql.Term) (string, error) {
	if len(term.Args) == 0 {
		return "", dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("%s requires a table name", term.Op))
	}

	var last reql.Document

	for i := range term.Args {
		v, err := e.arg(ctx, ec, term, i)
		if err != nil {
			return "", err
		}

		last = v
	}

	return argString(last, term.Op)
}

func (e *Executor) evalTableList(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	if len(term.Args) > 0 {
		if _, err := e.arg(ctx, ec, term, 0); err != nil {
			return reql.Document{}, err
		}
	}

	tables, err := e.ns.ListTables(ec.DB)
	if err != nil {
		return reql.Document{}, err
	}

	items := make([]reql.Document, len(tables))
	for i, t := range tables {
		items[i] = reql.String(t.Name)
	}

	return reql.Array(items...), nil
}

func (e *Executor) evalTableCreate(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	name, err := e.tableAdminName(ctx, ec, term)
	if err != nil {
		return reql.Document{}, err
	}

	primaryKey := "id"

	if pkTerm, ok := term.Opt("primary_key"); ok {
		pkDoc, err := e.Eval(ctx, ec, pkTerm)
		if err != nil {
			return reql.Document{}, err
		}

		if s, ok := pkDoc.AsString(); ok {
			primaryKey = s
		}
	}

	if _, err := e.ns.CreateTable(ec.DB, name, primaryKey); err != nil {
		return reql.Document{}, err
	}

	return reql.Object().Set("tables_created", reql.Number(1)).Build(), nil
}

func (e *Executor) evalTableDrop(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	name, err := e.tableAdminName(ctx, ec, term)
	if err != nil {
		return reql.Document{}, err
	}

	if err := e.ns.DropTable(ec.DB, name); err != nil {
		return reql.Document{}, err
	}

	return reql.Object().Set("tables_dropped", reql.Number(1)).Build(), nil
}

func (e *Executor) evalTable(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	name, err := e.tableNameOf(ctx, ec, term)
	if err != nil {
		return reql.Document{}, err
	}

	docs, err := e.ns.ScanTable(ec.DB, name)
	if err != nil {
		return reql.Document{}, err
	}

	return reql.Array(docs...), nil
}

// tableNameOf extracts the literal table name from a TABLE term without
// materializing its contents, the way Get/GetAll/Between/Insert/Update/
// Replace/Delete need to reach the underlying table identity rather than
// an already-scanned array of documents.
func (e *Executor) tableNameOf(ctx context.Context, ec *EvalContext, tableTerm reql.Term) (string, error) {
	if tableTerm.Op != reql.OpTable {
		return "", dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("expected a TABLE term, got %s", tableTerm.Op))
	}

	return e.tableAdminName(ctx, ec, tableTerm)
}

// --- data access ---

func keyToString(doc reql.Document) (string, error) {
	if s, ok := doc.AsString(); ok {
		return s, nil
	}

	if n, ok := doc.AsNumber(); ok {
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	}

	return "", dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("primary key must be a string or number, got %s", doc.Kind()))
}

func (e *Executor) evalGet(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	tableArg, ok := term.Arg(0)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("GET requires a table"))
	}

	table, err := e.tableNameOf(ctx, ec, tableArg)
	if err != nil {
		return reql.Document{}, err
	}

	keyDoc, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	pk, err := keyToString(keyDoc)
	if err != nil {
		return reql.Document{}, err
	}

	doc, ok, err := e.ns.GetDoc(ec.DB, table, pk)
	if err != nil {
		return reql.Document{}, err
	}

	if !ok {
		return reql.Null, nil
	}

	return doc, nil
}

func (e *Executor) evalGetAll(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	tableArg, ok := term.Arg(0)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("GET_ALL requires a table"))
	}

	table, err := e.tableNameOf(ctx, ec, tableArg)
	if err != nil {
		return reql.Document{}, err
	}

	var results []reql.Document

	for i := 1; i < len(term.Args); i++ {
		keyDoc, err := e.arg(ctx, ec, term, i)
		if err != nil {
			return reql.Document{}, err
		}

		pk, err := keyToString(keyDoc)
		if err != nil {
			return reql.Document{}, err
		}

		doc, ok, err := e.ns.GetDoc(ec.DB, table, pk)
		if err != nil {
			return reql.Document{}, err
		}

		if ok {
			results = append(results, doc)
		}
	}

	return reql.Array(results...), nil
}

func (e *Executor) evalBetween(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	tableArg, ok := term.Arg(0)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("BETWEEN requires a table"))
	}

	table, err := e.tableNameOf(ctx, ec, tableArg)
	if err != nil {
		return reql.Document{}, err
	}

	info, ok, err := e.ns.GetTableInfo(ec.DB, table)
	if err != nil {
		return reql.Document{}, err
	}

	if !ok {
		return reql.Document{}, dberr.New(dberr.KindNotFound, "eval", fmt.Errorf("table %q does not exist", table))
	}

	lower, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	upper, err := e.arg(ctx, ec, term, 2)
	if err != nil {
		return reql.Document{}, err
	}

	docs, err := e.ns.ScanTable(ec.DB, table)
	if err != nil {
		return reql.Document{}, err
	}

	var results []reql.Document

	for _, doc := range docs {
		pk, ok := doc.Field(info.PrimaryKey)
		if !ok {
			continue
		}

		if !lower.IsNull() && compareDocuments(pk, lower) < 0 {
			continue
		}

		if !upper.IsNull() && compareDocuments(pk, upper) >= 0 {
			continue
		}

		results = append(results, doc)
	}

	return reql.Array(results...), nil
}

// --- select / shape ---

func (e *Executor) evalFilter(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	predTerm, ok := term.Arg(1)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("FILTER requires a predicate"))
	}

	var results []reql.Document

	for _, elem := range seq {
		keep, err := e.matchesPredicate(ctx, ec, predTerm, elem)
		if err != nil {
			return reql.Document{}, err
		}

		if keep {
			results = append(results, elem)
		}
	}

	return reql.Array(results...), nil
}

// matchesPredicate supports both a FUNC predicate and a plain object
// literal used for partial-match filtering (every field of the literal
// must equal the matching field on elem).
func (e *Executor) matchesPredicate(ctx context.Context, ec *EvalContext, predTerm reql.Term, elem reql.Document) (bool, error) {
	if predTerm.Op == reql.OpFunc {
		result, err := e.applyFunc(ctx, ec, predTerm, []reql.Document{elem})
		if err != nil {
			return false, err
		}

		return truthy(result), nil
	}

	predDoc, err := e.Eval(ctx, ec, predTerm)
	if err != nil {
		return false, err
	}

	if _, ok := predDoc.AsObject(); !ok {
		return truthy(predDoc), nil
	}

	for _, k := range predDoc.ObjectKeys() {
		want, _ := predDoc.Field(k)

		got, ok := elem.Field(k)
		if !ok || !reql.Equal(got, want) {
			return false, nil
		}
	}

	return true, nil
}

func truthy(doc reql.Document) bool {
	if doc.IsNull() {
		return false
	}

	if b, ok := doc.AsBool(); ok {
		return b
	}

	return true
}

func (e *Executor) evalNth(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	idxDoc, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	idx, err := argNumber(idxDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	i := int(idx)
	if i < 0 || i >= len(seq) {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("NTH index %d out of bounds for length %d", i, len(seq)))
	}

	return seq[i], nil
}

func (e *Executor) evalLimit(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	nDoc, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	n, err := argNumber(nDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	limit := int(n)
	if limit > len(seq) {
		limit = len(seq)
	}

	if limit < 0 {
		limit = 0
	}

	return reql.Array(seq[:limit]...), nil
}

func (e *Executor) evalSkip(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	nDoc, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	n, err := argNumber(nDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	skip := int(n)
	if skip > len(seq) {
		skip = len(seq)
	}

	if skip < 0 {
		skip = 0
	}

	return reql.Array(seq[skip:]...), nil
}

func (e *Executor) evalSlice(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	startDoc, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	endDoc, err := e.arg(ctx, ec, term, 2)
	if err != nil {
		return reql.Document{}, err
	}

	startN, err := argNumber(startDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	endN, err := argNumber(endDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	start, end := clampRange(int(startN), int(endN), len(seq))

	return reql.Array(seq[start:end]...), nil
}

func clampRange(start, end, length int) (int, int) {
	if start < 0 {
		start = 0
	}

	if end > length {
		end = length
	}

	if start > length {
		start = length
	}

	if end < start {
		end = start
	}

	return start, end
}

func (e *Executor) evalPluck(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	targetDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	fields, err := e.stringArgs(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	pluckOne := func(doc reql.Document) reql.Document {
		b := reql.Object()

		for _, f := range fields {
			if v, ok := doc.Field(f); ok {
				b.Set(f, v)
			}
		}

		return b.Build()
	}

	if seq, ok := targetDoc.AsArray(); ok {
		results := make([]reql.Document, len(seq))
		for i, elem := range seq {
			results[i] = pluckOne(elem)
		}

		return reql.Array(results...), nil
	}

	return pluckOne(targetDoc), nil
}

func (e *Executor) evalWithout(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	targetDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	fields, err := e.stringArgs(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	excluded := map[string]bool{}
	for _, f := range fields {
		excluded[f] = true
	}

	withoutOne := func(doc reql.Document) reql.Document {
		b := reql.Object()

		for _, k := range doc.ObjectKeys() {
			if !excluded[k] {
				v, _ := doc.Field(k)
				b.Set(k, v)
			}
		}

		return b.Build()
	}

	if seq, ok := targetDoc.AsArray(); ok {
		results := make([]reql.Document, len(seq))
		for i, elem := range seq {
			results[i] = withoutOne(elem)
		}

		return reql.Array(results...), nil
	}

	return withoutOne(targetDoc), nil
}

// stringArgs evaluates every positional arg from idx onward, accepting
// either a single array-of-strings arg or variadic string args (PLUCK and
// WITHOUT both accept either form over the wire).
func (e *Executor) stringArgs(ctx context.Context, ec *EvalContext, term reql.Term, idx int) ([]string, error) {
	var fields []string

	for i := idx; i < len(term.Args); i++ {
		v, err := e.arg(ctx, ec, term, i)
		if err != nil {
			return nil, err
		}

		if arr, ok := v.AsArray(); ok {
			for _, item := range arr {
				s, err := argString(item, term.Op)
				if err != nil {
					return nil, err
				}

				fields = append(fields, s)
			}

			continue
		}

		s, err := argString(v, term.Op)
		if err != nil {
			return nil, err
		}

		fields = append(fields, s)
	}

	return fields, nil
}

func (e *Executor) evalMerge(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	base, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	merged := base

	for i := 1; i < len(term.Args); i++ {
		patch, err := e.arg(ctx, ec, term, i)
		if err != nil {
			return reql.Document{}, err
		}

		merged = mergeObjects(merged, patch)
	}

	return merged, nil
}

func mergeObjects(a, b reql.Document) reql.Document {
	builder := reql.Object()

	for _, k := range a.ObjectKeys() {
		v, _ := a.Field(k)
		builder.Set(k, v)
	}

	for _, k := range b.ObjectKeys() {
		v, _ := b.Field(k)
		builder.Set(k, v)
	}

	return builder.Build()
}

func (e *Executor) evalDistinct(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	var results []reql.Document

	for _, elem := range seq {
		dup := false

		for _, r := range results {
			if reql.Equal(r, elem) {
				dup = true
				break
			}
		}

		if !dup {
			results = append(results, elem)
		}
	}

	return reql.Array(results...), nil
}

func (e *Executor) evalOrderBy(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	fields, err := e.stringArgs(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	sorted := append([]reql.Document(nil), seq...)

	sort.SliceStable(sorted, func(i, j int) bool {
		for _, f := range fields {
			vi, _ := sorted[i].Field(f)
			vj, _ := sorted[j].Field(f)

			c := compareDocuments(vi, vj)
			if c != 0 {
				return c < 0
			}
		}

		return false
	})

	return reql.Array(sorted...), nil
}

// --- transform ---

func (e *Executor) evalMap(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	fn, ok := term.Arg(1)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("MAP requires a function"))
	}

	results := make([]reql.Document, len(seq))

	for i, elem := range seq {
		if err := ctx.Err(); err != nil {
			return reql.Document{}, dberr.New(dberr.KindCanceled, "eval", err)
		}

		v, err := e.applyFunc(ctx, ec, fn, []reql.Document{elem})
		if err != nil {
			return reql.Document{}, err
		}

		results[i] = v
	}

	return reql.Array(results...), nil
}

func (e *Executor) evalConcatMap(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	fn, ok := term.Arg(1)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("CONCAT_MAP requires a function"))
	}

	var results []reql.Document

	for _, elem := range seq {
		if err := ctx.Err(); err != nil {
			return reql.Document{}, dberr.New(dberr.KindCanceled, "eval", err)
		}

		v, err := e.applyFunc(ctx, ec, fn, []reql.Document{elem})
		if err != nil {
			return reql.Document{}, err
		}

		sub, err := argArray(v, term.Op)
		if err != nil {
			return reql.Document{}, err
		}

		results = append(results, sub...)
	}

	return reql.Array(results...), nil
}

// --- aggregate ---

func (e *Executor) evalCount(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	if predTerm, ok := term.Arg(1); ok {
		n := 0

		for _, elem := range seq {
			keep, err := e.matchesPredicate(ctx, ec, predTerm, elem)
			if err != nil {
				return reql.Document{}, err
			}

			if keep {
				n++
			}
		}

		return reql.Number(float64(n)), nil
	}

	return reql.Number(float64(len(seq))), nil
}

type aggKind int

const (
	aggSum aggKind = iota
	aggAvg
	aggMin
	aggMax
)

func (e *Executor) evalAggregate(ctx context.Context, ec *EvalContext, term reql.Term, kind aggKind) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	// getValue extracts the per-element document the number comes from;
	// non-numeric results are filtered out below rather than rejected
	// here.
	getValue := func(doc reql.Document) (reql.Document, error) {
		return doc, nil
	}

	if fieldTerm, ok := term.Arg(1); ok {
		fieldDoc, err := e.Eval(ctx, ec, fieldTerm)
		if err != nil {
			return reql.Document{}, err
		}

		if field, ok := fieldDoc.AsString(); ok {
			getValue = func(doc reql.Document) (reql.Document, error) {
				v, ok := doc.Field(field)
				if !ok {
					return reql.Null, nil
				}

				return v, nil
			}
		} else if fieldDoc.Kind() != reql.KindNull {
			getValue = func(doc reql.Document) (reql.Document, error) {
				return e.applyFunc(ctx, ec, fieldTerm, []reql.Document{doc})
			}
		}
	}

	var (
		sum   float64
		count int
		first = true
		best  float64
	)

	for _, elem := range seq {
		v, err := getValue(elem)
		if err != nil {
			return reql.Document{}, err
		}

		n, ok := v.AsNumber()
		if !ok {
			continue
		}

		sum += n
		count++

		if first {
			best = n
			first = false

			continue
		}

		switch kind {
		case aggMin:
			if n < best {
				best = n
			}
		case aggMax:
			if n > best {
				best = n
			}
		}
	}

	switch kind {
	case aggSum:
		return reql.Number(sum), nil
	case aggAvg:
		if count == 0 {
			return reql.Null, nil
		}

		return reql.Number(sum / float64(count)), nil
	case aggMin, aggMax:
		if count == 0 {
			return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("%s on empty sequence", term.Op))
		}

		return reql.Number(best), nil
	default:
		return reql.Document{}, dberr.New(dberr.KindUnimplemented, "eval", fmt.Errorf("unknown aggregate kind"))
	}
}

func (e *Executor) evalGroup(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	keyTerm, ok := term.Arg(1)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("GROUP requires a grouping selector"))
	}

	keyOf := func(doc reql.Document) (reql.Document, error) {
		if keyTerm.Op == reql.OpFunc {
			return e.applyFunc(ctx, ec, keyTerm, []reql.Document{doc})
		}

		kd, err := e.Eval(ctx, ec, keyTerm)
		if err != nil {
			return reql.Document{}, err
		}

		if field, ok := kd.AsString(); ok {
			v, _ := doc.Field(field)
			return v, nil
		}

		return kd, nil
	}

	var groupKeys []reql.Document

	groups := map[string][]reql.Document{}
	order := map[string]int{}

	for _, doc := range seq {
		k, err := keyOf(doc)
		if err != nil {
			return reql.Document{}, err
		}

		kJSON, _ := k.ToJSON()
		kStr := string(kJSON)

		if _, seen := order[kStr]; !seen {
			order[kStr] = len(groupKeys)
			groupKeys = append(groupKeys, k)
		}

		groups[kStr] = append(groups[kStr], doc)
	}

	results := make([]reql.Document, len(groupKeys))

	for i, k := range groupKeys {
		kJSON, _ := k.ToJSON()

		results[i] = reql.Object().
			Set("group", k).
			Set("reduction", reql.Array(groups[string(kJSON)]...)).
			Build()
	}

	return reql.Array(results...), nil
}

func (e *Executor) evalReduce(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	if len(seq) == 0 {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("REDUCE: empty sequence"))
	}

	fn, ok := term.Arg(1)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("REDUCE requires a function"))
	}

	acc := seq[0]

	for _, elem := range seq[1:] {
		v, err := e.applyFunc(ctx, ec, fn, []reql.Document{acc, elem})
		if err != nil {
			return reql.Document{}, err
		}

		acc = v
	}

	return acc, nil
}

// --- mutate ---

type mutationTarget struct {
	isTable bool
	table   string
	pk      string
}

func (e *Executor) resolveMutationTarget(ctx context.Context, ec *EvalContext, term reql.Term) (mutationTarget, error) {
	switch term.Op {
	case reql.OpTable:
		name, err := e.tableNameOf(ctx, ec, term)
		if err != nil {
			return mutationTarget{}, err
		}

		return mutationTarget{isTable: true, table: name}, nil
	case reql.OpGet:
		tableArg, ok := term.Arg(0)
		if !ok {
			return mutationTarget{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("GET requires a table"))
		}

		name, err := e.tableNameOf(ctx, ec, tableArg)
		if err != nil {
			return mutationTarget{}, err
		}

		keyDoc, err := e.arg(ctx, ec, term, 1)
		if err != nil {
			return mutationTarget{}, err
		}

		pk, err := keyToString(keyDoc)
		if err != nil {
			return mutationTarget{}, err
		}

		return mutationTarget{isTable: false, table: name, pk: pk}, nil
	default:
		return mutationTarget{}, dberr.New(dberr.KindUnimplemented, "eval", fmt.Errorf("mutation target must be TABLE(...) or GET(...), got %s", term.Op))
	}
}

func (e *Executor) evalInsert(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	tableArg, ok := term.Arg(0)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("INSERT requires a table"))
	}

	table, err := e.tableNameOf(ctx, ec, tableArg)
	if err != nil {
		return reql.Document{}, err
	}

	info, ok, err := e.ns.GetTableInfo(ec.DB, table)
	if err != nil {
		return reql.Document{}, err
	}

	if !ok {
		return reql.Document{}, dberr.New(dberr.KindNotFound, "eval", fmt.Errorf("table %q does not exist", table))
	}

	docsDoc, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	docs, ok := docsDoc.AsArray()
	if !ok {
		docs = []reql.Document{docsDoc}
	}

	inserted := 0

	for _, doc := range docs {
		pkVal, ok := doc.Field(info.PrimaryKey)

		var pk string

		if ok {
			pk, err = keyToString(pkVal)
			if err != nil {
				return reql.Document{}, err
			}
		} else {
			id, genErr := uuid.NewV7()
			if genErr != nil {
				return reql.Document{}, fmt.Errorf("generate primary key: %w", genErr)
			}

			pk = id.String()
			doc = mergeObjects(doc, reql.Object().Set(info.PrimaryKey, reql.String(pk)).Build())
		}

		if err := e.ns.PutDoc(ec.DB, table, pk, doc); err != nil {
			return reql.Document{}, err
		}

		inserted++
	}

	return reql.Object().Set("inserted", reql.Number(float64(inserted))).Build(), nil
}

func (e *Executor) mutateEach(ctx context.Context, ec *EvalContext, target mutationTarget, apply func(doc reql.Document) (reql.Document, bool, error)) (int, error) {
	if !target.isTable {
		doc, ok, err := e.ns.GetDoc(ec.DB, target.table, target.pk)
		if err != nil {
			return 0, err
		}

		if !ok {
			return 0, nil
		}

		next, changed, err := apply(doc)
		if err != nil {
			return 0, err
		}

		if !changed {
			return 0, nil
		}

		if next.IsNull() {
			if err := e.ns.DeleteDoc(ec.DB, target.table, target.pk); err != nil {
				return 0, err
			}

			return 1, nil
		}

		if err := e.ns.PutDoc(ec.DB, target.table, target.pk, next); err != nil {
			return 0, err
		}

		return 1, nil
	}

	info, ok, err := e.ns.GetTableInfo(ec.DB, target.table)
	if err != nil {
		return 0, err
	}

	if !ok {
		return 0, dberr.New(dberr.KindNotFound, "eval", fmt.Errorf("table %q does not exist", target.table))
	}

	docs, err := e.ns.ScanTable(ec.DB, target.table)
	if err != nil {
		return 0, err
	}

	n := 0

	for _, doc := range docs {
		pkVal, ok := doc.Field(info.PrimaryKey)
		if !ok {
			continue
		}

		pk, err := keyToString(pkVal)
		if err != nil {
			return 0, err
		}

		next, changed, err := apply(doc)
		if err != nil {
			return 0, err
		}

		if !changed {
			continue
		}

		if next.IsNull() {
			if err := e.ns.DeleteDoc(ec.DB, target.table, pk); err != nil {
				return 0, err
			}
		} else if err := e.ns.PutDoc(ec.DB, target.table, pk, next); err != nil {
			return 0, err
		}

		n++
	}

	return n, nil
}

func (e *Executor) evalUpdate(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	targetTerm, ok := term.Arg(0)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("UPDATE requires a target"))
	}

	target, err := e.resolveMutationTarget(ctx, ec, targetTerm)
	if err != nil {
		return reql.Document{}, err
	}

	fn, ok := term.Arg(1)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("UPDATE requires a patch function or object"))
	}

	n, err := e.mutateEach(ctx, ec, target, func(doc reql.Document) (reql.Document, bool, error) {
		var patch reql.Document

		if fn.Op == reql.OpFunc {
			p, err := e.applyFunc(ctx, ec, fn, []reql.Document{doc})
			if err != nil {
				return reql.Document{}, false, err
			}

			patch = p
		} else {
			p, err := e.Eval(ctx, ec, fn)
			if err != nil {
				return reql.Document{}, false, err
			}

			patch = p
		}

		return mergeObjects(doc, patch), true, nil
	})
	if err != nil {
		return reql.Document{}, err
	}

	return reql.Object().Set("replaced", reql.Number(float64(n))).Build(), nil
}

func (e *Executor) evalReplace(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	targetTerm, ok := term.Arg(0)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("REPLACE requires a target"))
	}

	target, err := e.resolveMutationTarget(ctx, ec, targetTerm)
	if err != nil {
		return reql.Document{}, err
	}

	fn, ok := term.Arg(1)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("REPLACE requires a replacement function or object"))
	}

	n, err := e.mutateEach(ctx, ec, target, func(doc reql.Document) (reql.Document, bool, error) {
		if fn.Op == reql.OpFunc {
			next, err := e.applyFunc(ctx, ec, fn, []reql.Document{doc})
			if err != nil {
				return reql.Document{}, false, err
			}

			return next, true, nil
		}

		next, err := e.Eval(ctx, ec, fn)
		if err != nil {
			return reql.Document{}, false, err
		}

		return next, true, nil
	})
	if err != nil {
		return reql.Document{}, err
	}

	return reql.Object().Set("replaced", reql.Number(float64(n))).Build(), nil
}

func (e *Executor) evalDelete(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	targetTerm, ok := term.Arg(0)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("DELETE requires a target"))
	}

	target, err := e.resolveMutationTarget(ctx, ec, targetTerm)
	if err != nil {
		return reql.Document{}, err
	}

	n, err := e.mutateEach(ctx, ec, target, func(reql.Document) (reql.Document, bool, error) {
		return reql.Null, true, nil
	})
	if err != nil {
		return reql.Document{}, err
	}

	return reql.Object().Set("deleted", reql.Number(float64(n))).Build(), nil
}

// --- arithmetic / comparison / logic ---

func (e *Executor) evalArithmetic(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	// ADD and MUL are variadic: ADD() is the additive identity 0, summing
	// every argument; MUL() is the multiplicative identity 1.
	if term.Op == reql.OpAdd || term.Op == reql.OpMul {
		return e.evalVariadicArithmetic(ctx, ec, term)
	}

	lDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	rDoc, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	l, err := argNumber(lDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	r, err := argNumber(rDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	switch term.Op {
	case reql.OpSub:
		return reql.Number(l - r), nil
	case reql.OpDiv:
		if r == 0 {
			return reql.Document{}, dberr.New(dberr.KindDivisionByZero, "eval", fmt.Errorf("division by zero"))
		}

		return reql.Number(l / r), nil
	case reql.OpMod:
		if r == 0 {
			return reql.Document{}, dberr.New(dberr.KindDivisionByZero, "eval", fmt.Errorf("modulo by zero"))
		}

		return reql.Number(math.Mod(l, r)), nil
	default:
		return reql.Document{}, dberr.New(dberr.KindUnimplemented, "eval", fmt.Errorf("unknown arithmetic operator %s", term.Op))
	}
}

// evalVariadicArithmetic folds ADD/MUL over every argument, seeded with
// the operator's identity (0 for ADD, 1 for MUL) so a zero-arg call
// returns the identity rather than erroring.
func (e *Executor) evalVariadicArithmetic(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	result := 0.0
	if term.Op == reql.OpMul {
		result = 1.0
	}

	for _, argTerm := range term.Args {
		v, err := e.Eval(ctx, ec, argTerm)
		if err != nil {
			return reql.Document{}, err
		}

		n, err := argNumber(v, term.Op)
		if err != nil {
			return reql.Document{}, err
		}

		if term.Op == reql.OpAdd {
			result += n
		} else {
			result *= n
		}
	}

	return reql.Number(result), nil
}

// compareDocuments orders documents by a total order across kinds: Null <
// Boolean < Number < String < Array < Object, matching Kind's iota order;
// within a kind, the natural comparison applies. Used internally by
// orderBy and between's range checks, which must order arbitrary
// documents; the LT/LE/GT/GE query operators use compareNumbers instead,
// since those require numeric operands (see below).
func compareDocuments(a, b reql.Document) int {
	if a.Kind() != b.Kind() {
		return int(a.Kind()) - int(b.Kind())
	}

	switch a.Kind() {
	case reql.KindNull:
		return 0
	case reql.KindBoolean:
		av, _ := a.AsBool()
		bv, _ := b.AsBool()

		if av == bv {
			return 0
		}

		if !av {
			return -1
		}

		return 1
	case reql.KindNumber:
		av, _ := a.AsNumber()
		bv, _ := b.AsNumber()

		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case reql.KindString:
		av, _ := a.AsString()
		bv, _ := b.AsString()

		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case reql.KindArray:
		aa, _ := a.AsArray()
		ba, _ := b.AsArray()

		n := len(aa)
		if len(ba) < n {
			n = len(ba)
		}

		for i := 0; i < n; i++ {
			if c := compareDocuments(aa[i], ba[i]); c != 0 {
				return c
			}
		}

		return len(aa) - len(ba)
	default:
		if reql.Equal(a, b) {
			return 0
		}

		return 1
	}
}

// compareNumbers orders two numbers for the LT/LE/GT/GE operators.
// Ordered comparison is defined over numbers only; non-numeric operands
// are a failure rather than falling back to a cross-kind total order.
func compareNumbers(lDoc, rDoc reql.Document, op reql.OperatorKind) (int, error) {
	l, err := argNumber(lDoc, op)
	if err != nil {
		return 0, err
	}

	r, err := argNumber(rDoc, op)
	if err != nil {
		return 0, err
	}

	switch {
	case l < r:
		return -1, nil
	case l > r:
		return 1, nil
	default:
		return 0, nil
	}
}

func (e *Executor) evalComparison(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	lDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	rDoc, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	if term.Op == reql.OpEq {
		return reql.Bool(reql.Equal(lDoc, rDoc)), nil
	}

	if term.Op == reql.OpNe {
		return reql.Bool(!reql.Equal(lDoc, rDoc)), nil
	}

	c, err := compareNumbers(lDoc, rDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	switch term.Op {
	case reql.OpLt:
		return reql.Bool(c < 0), nil
	case reql.OpLe:
		return reql.Bool(c <= 0), nil
	case reql.OpGt:
		return reql.Bool(c > 0), nil
	case reql.OpGe:
		return reql.Bool(c >= 0), nil
	default:
		return reql.Document{}, dberr.New(dberr.KindUnimplemented, "eval", fmt.Errorf("unknown comparison operator %s", term.Op))
	}
}

// argBool requires doc to be a Boolean, failing otherwise. AND/OR/NOT
// reject non-Boolean operands, unlike Filter/Branch predicates, which
// use RethinkDB truthiness (see truthy above).
func argBool(doc reql.Document, op reql.OperatorKind) (bool, error) {
	b, ok := doc.AsBool()
	if !ok {
		return false, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("%s requires boolean arguments, got %s", op, doc.Kind()))
	}

	return b, nil
}

func (e *Executor) evalAnd(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	for _, a := range term.Args {
		v, err := e.Eval(ctx, ec, a)
		if err != nil {
			return reql.Document{}, err
		}

		b, err := argBool(v, term.Op)
		if err != nil {
			return reql.Document{}, err
		}

		if !b {
			return reql.Bool(false), nil
		}
	}

	return reql.Bool(true), nil
}

func (e *Executor) evalOr(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	for _, a := range term.Args {
		v, err := e.Eval(ctx, ec, a)
		if err != nil {
			return reql.Document{}, err
		}

		b, err := argBool(v, term.Op)
		if err != nil {
			return reql.Document{}, err
		}

		if b {
			return reql.Bool(true), nil
		}
	}

	return reql.Bool(false), nil
}

func (e *Executor) evalNot(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	v, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	b, err := argBool(v, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	return reql.Bool(!b), nil
}

// --- document ---

func (e *Executor) evalGetField(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	doc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	fieldDoc, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	field, err := argString(fieldDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	v, ok := doc.Field(field)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("GET_FIELD: no field %q", field))
	}

	return v, nil
}

func (e *Executor) evalHasFields(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	doc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	fields, err := e.stringArgs(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	for _, f := range fields {
		if _, ok := doc.Field(f); !ok {
			return reql.Bool(false), nil
		}
	}

	return reql.Bool(true), nil
}

func (e *Executor) evalKeys(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	doc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	keys := doc.ObjectKeys()
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	items := make([]reql.Document, len(sorted))
	for i, k := range sorted {
		items[i] = reql.String(k)
	}

	return reql.Array(items...), nil
}

func (e *Executor) evalValues(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	doc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	keys := doc.ObjectKeys()
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	items := make([]reql.Document, len(sorted))

	for i, k := range sorted {
		v, _ := doc.Field(k)
		items[i] = v
	}

	return reql.Array(items...), nil
}

// --- array ---

func (e *Executor) evalAppend(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	v, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	return reql.Array(append(append([]reql.Document{}, seq...), v)...), nil
}

func (e *Executor) evalPrepend(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	v, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	return reql.Array(append([]reql.Document{v}, seq...)...), nil
}

type setOp int

const (
	setUnion setOp = iota
	setIntersection
	setDifference
)

func (e *Executor) evalSetOp(ctx context.Context, ec *EvalContext, term reql.Term, op setOp) (reql.Document, error) {
	aDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	bDoc, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	a, err := argArray(aDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	b, err := argArray(bDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	contains := func(set []reql.Document, v reql.Document) bool {
		for _, s := range set {
			if reql.Equal(s, v) {
				return true
			}
		}

		return false
	}

	var results []reql.Document

	switch op {
	case setUnion:
		results = append(results, dedupe(a)...)

		for _, v := range b {
			if !contains(results, v) {
				results = append(results, v)
			}
		}
	case setIntersection:
		for _, v := range dedupe(a) {
			if contains(b, v) {
				results = append(results, v)
			}
		}
	case setDifference:
		for _, v := range dedupe(a) {
			if !contains(b, v) {
				results = append(results, v)
			}
		}
	}

	return reql.Array(results...), nil
}

func dedupe(seq []reql.Document) []reql.Document {
	var out []reql.Document

	for _, v := range seq {
		dup := false

		for _, o := range out {
			if reql.Equal(o, v) {
				dup = true
				break
			}
		}

		if !dup {
			out = append(out, v)
		}
	}

	return out
}

func (e *Executor) evalSetInsert(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	v, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	for _, s := range seq {
		if reql.Equal(s, v) {
			return reql.Array(seq...), nil
		}
	}

	return reql.Array(append(append([]reql.Document{}, seq...), v)...), nil
}

func (e *Executor) evalInsertAt(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	idxDoc, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	idx, err := argNumber(idxDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	v, err := e.arg(ctx, ec, term, 2)
	if err != nil {
		return reql.Document{}, err
	}

	i := int(idx)
	if i < 0 || i > len(seq) {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("INSERT_AT index %d out of bounds", i))
	}

	out := make([]reql.Document, 0, len(seq)+1)
	out = append(out, seq[:i]...)
	out = append(out, v)
	out = append(out, seq[i:]...)

	return reql.Array(out...), nil
}

func (e *Executor) evalDeleteAt(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	idxDoc, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	idx, err := argNumber(idxDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	i := int(idx)
	if i < 0 || i >= len(seq) {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("DELETE_AT index %d out of bounds", i))
	}

	out := make([]reql.Document, 0, len(seq)-1)
	out = append(out, seq[:i]...)
	out = append(out, seq[i+1:]...)

	return reql.Array(out...), nil
}

func (e *Executor) evalChangeAt(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	idxDoc, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	idx, err := argNumber(idxDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	v, err := e.arg(ctx, ec, term, 2)
	if err != nil {
		return reql.Document{}, err
	}

	i := int(idx)
	if i < 0 || i >= len(seq) {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("CHANGE_AT index %d out of bounds", i))
	}

	out := append([]reql.Document{}, seq...)
	out[i] = v

	return reql.Array(out...), nil
}

func (e *Executor) evalSpliceAt(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	idxDoc, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	idx, err := argNumber(idxDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	otherDoc, err := e.arg(ctx, ec, term, 2)
	if err != nil {
		return reql.Document{}, err
	}

	other, err := argArray(otherDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	i := int(idx)
	if i < 0 || i > len(seq) {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("SPLICE_AT index %d out of bounds", i))
	}

	out := make([]reql.Document, 0, len(seq)+len(other))
	out = append(out, seq[:i]...)
	out = append(out, other...)
	out = append(out, seq[i:]...)

	return reql.Array(out...), nil
}

func (e *Executor) evalContains(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	for i := 1; i < len(term.Args); i++ {
		needleTerm, _ := term.Arg(i)

		found := false

		for _, elem := range seq {
			if needleTerm.Op == reql.OpFunc {
				v, err := e.applyFunc(ctx, ec, needleTerm, []reql.Document{elem})
				if err != nil {
					return reql.Document{}, err
				}

				if truthy(v) {
					found = true
					break
				}

				continue
			}

			needle, err := e.Eval(ctx, ec, needleTerm)
			if err != nil {
				return reql.Document{}, err
			}

			if reql.Equal(elem, needle) {
				found = true
				break
			}
		}

		if !found {
			return reql.Bool(false), nil
		}
	}

	return reql.Bool(true), nil
}

// --- control ---

func (e *Executor) evalBranch(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	condDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	idx := 2
	if truthy(condDoc) {
		idx = 1
	}

	branchTerm, ok := term.Arg(idx)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("BRANCH requires both then and else branches"))
	}

	return e.Eval(ctx, ec, branchTerm)
}

func (e *Executor) evalForEach(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	seqDoc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	seq, err := argArray(seqDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	fn, ok := term.Arg(1)
	if !ok {
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("FOR_EACH requires a function"))
	}

	totals := map[string]float64{}

	for _, elem := range seq {
		if err := ctx.Err(); err != nil {
			return reql.Document{}, dberr.New(dberr.KindCanceled, "eval", err)
		}

		result, err := e.applyFunc(ctx, ec, fn, []reql.Document{elem})
		if err != nil {
			return reql.Document{}, err
		}

		for _, k := range result.ObjectKeys() {
			v, _ := result.Field(k)

			if n, ok := v.AsNumber(); ok {
				totals[k] += n
			}
		}
	}

	b := reql.Object()

	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		b.Set(k, reql.Number(totals[k]))
	}

	return b.Build(), nil
}

// --- type ---

func (e *Executor) evalTypeOf(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	doc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	switch doc.Kind() {
	case reql.KindNull:
		return reql.String("NULL"), nil
	case reql.KindBoolean:
		return reql.String("BOOL"), nil
	case reql.KindNumber:
		return reql.String("NUMBER"), nil
	case reql.KindString:
		return reql.String("STRING"), nil
	case reql.KindArray:
		return reql.String("ARRAY"), nil
	case reql.KindObject:
		return reql.String("OBJECT"), nil
	default:
		return reql.String("UNKNOWN"), nil
	}
}

func (e *Executor) evalCoerceTo(ctx context.Context, ec *EvalContext, term reql.Term) (reql.Document, error) {
	doc, err := e.arg(ctx, ec, term, 0)
	if err != nil {
		return reql.Document{}, err
	}

	targetDoc, err := e.arg(ctx, ec, term, 1)
	if err != nil {
		return reql.Document{}, err
	}

	target, err := argString(targetDoc, term.Op)
	if err != nil {
		return reql.Document{}, err
	}

	switch target {
	case "STRING":
		if s, ok := doc.AsString(); ok {
			return reql.String(s), nil
		}

		j, err := doc.ToJSON()
		if err != nil {
			return reql.Document{}, err
		}

		return reql.String(string(j)), nil
	case "NUMBER":
		if n, ok := doc.AsNumber(); ok {
			return reql.Number(n), nil
		}

		if s, ok := doc.AsString(); ok {
			n, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("cannot coerce %q to NUMBER", s))
			}

			return reql.Number(n), nil
		}

		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("cannot coerce %s to NUMBER", doc.Kind()))
	case "ARRAY":
		if arr, ok := doc.AsArray(); ok {
			return reql.Array(arr...), nil
		}

		if _, ok := doc.AsObject(); ok {
			pairs := make([]reql.Document, 0, len(doc.ObjectKeys()))

			for _, k := range doc.ObjectKeys() {
				v, _ := doc.Field(k)
				pairs = append(pairs, reql.Array(reql.String(k), v))
			}

			return reql.Array(pairs...), nil
		}

		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("cannot coerce %s to ARRAY", doc.Kind()))
	case "OBJECT":
		arr, ok := doc.AsArray()
		if !ok {
			return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("cannot coerce %s to OBJECT", doc.Kind()))
		}

		b := reql.Object()

		for _, pair := range arr {
			kv, ok := pair.AsArray()
			if !ok || len(kv) != 2 {
				return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("OBJECT coercion requires [key,value] pairs"))
			}

			k, err := argString(kv[0], term.Op)
			if err != nil {
				return reql.Document{}, err
			}

			b.Set(k, kv[1])
		}

		return b.Build(), nil
	case "BOOL":
		return reql.Bool(truthy(doc)), nil
	default:
		return reql.Document{}, dberr.New(dberr.KindInvalidArgument, "eval", fmt.Errorf("unknown coercion target %q", target))
	}
}
