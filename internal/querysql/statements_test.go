package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/huntflow/internal/ir"
	"github.com/roach88/huntflow/internal/pattern"
	"github.com/roach88/huntflow/internal/stix"
)

func intPtr(n int) *int { return &n }

func TestSelect(t *testing.T) {
	sql, params, cols, err := Select(procs, SelectSpec{
		Where:  compare("name", pattern.Like, ir.IRString("svc%")),
		Attrs:  []string{"name"},
		Sort:   []SortKey{{Attr: "pid", Desc: true}},
		Limit:  intPtr(10),
		Offset: intPtr(2),
	})
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT ROW_NUMBER() OVER (ORDER BY "pid" COLLATE BINARY DESC, "__seq" ASC) AS "__seq", "name" `+
			`FROM "rs_procs" WHERE "name" LIKE ? ORDER BY "pid" COLLATE BINARY DESC, "__seq" ASC LIMIT ? OFFSET ?`,
		sql)
	assert.Equal(t, []any{"svc%", 10, 2}, params)
	assert.Equal(t, []Column{{Name: "name", Kind: KindScalar}}, cols, "sort attribute need not be projected")
}

func TestSelect_Identity(t *testing.T) {
	sql, params, cols, err := Select(procs, SelectSpec{})
	require.NoError(t, err)
	assert.Contains(t, sql, `WHERE 1 ORDER BY "__seq" ASC`)
	assert.NotContains(t, sql, "LIMIT")
	assert.Empty(t, params)
	assert.Equal(t, procs.Columns, cols)
}

func TestSelect_OffsetWithoutLimit(t *testing.T) {
	_, params, _, err := Select(procs, SelectSpec{Offset: intPtr(5)})
	require.NoError(t, err)
	assert.Equal(t, []any{-1, 5}, params)
}

func TestSelect_UnknownAttributes(t *testing.T) {
	_, _, _, err := Select(procs, SelectSpec{Attrs: []string{"nope"}})
	assert.ErrorContains(t, err, `unknown attribute "nope"`)

	_, _, _, err = Select(procs, SelectSpec{Sort: []SortKey{{Attr: "nope"}}})
	assert.ErrorContains(t, err, `unknown sort attribute "nope"`)
}

func TestTimestamped(t *testing.T) {
	src := Table{Name: "rs_x", Columns: []Column{{Name: "id"}, {Name: "created"}, {Name: "first_observed"}}}
	ts, err := Timestamped(src, []string{"last_observed", "created"})
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "created", "first_observed"}, ts.ColumnNames())
	sql, _, _, err := Select(ts, SelectSpec{})
	require.NoError(t, err)
	assert.Contains(t, sql,
		`FROM (SELECT "__seq", "id", "created", COALESCE("first_observed", "created") AS "first_observed" `+
			`FROM "rs_x" WHERE COALESCE("first_observed", "created") IS NOT NULL)`)

	_, err = Timestamped(Table{Name: "rs_y", Columns: []Column{{Name: "id"}}}, stix.DefaultTimestampAttributes)
	assert.ErrorContains(t, err, "no timestamp attributes")
}

func TestAggregate(t *testing.T) {
	src := Table{Name: "rs_conns", Columns: []Column{{Name: "dst_port"}, {Name: "pid"}, {Name: "first_observed"}}}

	sql, params, cols, err := Aggregate(src,
		[]GroupKey{{Attr: "first_observed", Bin: &Bin{Size: 300, Time: true}, Alias: "first_observed_bin"}},
		[]Aggregation{{Func: "COUNT", Attr: "*", Alias: "count"}, {Func: "NUNIQUE", Attr: "pid", Alias: "nunique_pid"}},
	)
	require.NoError(t, err)

	bin := `strftime('%Y-%m-%dT%H:%M:%fZ', (unixepoch("first_observed") / ?) * ?, 'unixepoch')`
	assert.Equal(t,
		`SELECT ROW_NUMBER() OVER (ORDER BY `+bin+` COLLATE BINARY ASC) AS "__seq", `+
			bin+` AS "first_observed_bin", COUNT(*) AS "count", COUNT(DISTINCT "pid") AS "nunique_pid" `+
			`FROM "rs_conns" GROUP BY `+bin+` ORDER BY `+bin+` COLLATE BINARY ASC`,
		sql)
	assert.Equal(t, []any{int64(300), int64(300), int64(300), int64(300), int64(300), int64(300), int64(300), int64(300)}, params)
	assert.Equal(t, []string{"first_observed_bin", "count", "nunique_pid"}, Table{Columns: cols}.ColumnNames())
}

func TestAggregate_Errors(t *testing.T) {
	src := Table{Name: "rs", Columns: []Column{{Name: "a"}}}

	_, _, _, err := Aggregate(src, nil, nil)
	assert.Error(t, err)

	_, _, _, err = Aggregate(src, []GroupKey{{Attr: "b", Alias: "b"}}, nil)
	assert.ErrorContains(t, err, `unknown group attribute "b"`)

	_, _, _, err = Aggregate(src, []GroupKey{{Attr: "a", Alias: "a_bin", Bin: &Bin{Size: 0}}}, nil)
	assert.ErrorContains(t, err, "bin size must be positive")

	_, _, _, err = Aggregate(src, []GroupKey{{Attr: "a", Alias: "a"}}, []Aggregation{{Func: "SUM", Attr: "*", Alias: "x"}})
	assert.ErrorContains(t, err, "SUM(*)")

	_, _, _, err = Aggregate(src, []GroupKey{{Attr: "a", Alias: "a"}}, []Aggregation{{Func: "MEDIAN", Attr: "a", Alias: "x"}})
	assert.ErrorContains(t, err, "unknown aggregate function")
}

func TestJoin(t *testing.T) {
	left := Table{Name: "rs_a", Columns: []Column{{Name: "id"}, {Name: "pid"}}}
	right := Table{Name: "rs_b", Columns: []Column{{Name: "id"}, {Name: "ppid"}, {Name: "name"}}}

	sql, _, cols, err := Join(left, right, []KeyPair{{Left: "pid", Right: "ppid"}})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT ROW_NUMBER() OVER (ORDER BY "l"."__seq", "r"."__seq") AS "__seq", "l"."id" AS "id", "l"."pid" AS "pid", `+
			`"r"."ppid" AS "ppid", "r"."name" AS "name" FROM "rs_a" AS "l" JOIN "rs_b" AS "r" ON "l"."pid" = "r"."ppid" `+
			`ORDER BY "l"."__seq", "r"."__seq"`,
		sql)
	assert.Equal(t, []string{"id", "pid", "ppid", "name"}, Table{Columns: cols}.ColumnNames())

	_, _, _, err = Join(left, right, nil)
	assert.Error(t, err)
	_, _, _, err = Join(left, right, []KeyPair{{Left: "pid", Right: "pid"}})
	assert.ErrorContains(t, err, `unknown join attribute "pid" on rs_b`)
}

func TestUnion(t *testing.T) {
	a := Table{Name: "rs_a", Columns: []Column{{Name: "id"}, {Name: "tags", Kind: KindJSON}}}
	b := Table{Name: "rs_b", Columns: []Column{{Name: "name"}, {Name: "id"}, {Name: "tags", Kind: KindScalar}}}

	sql, _, cols, err := Union([]Table{a, b})
	require.NoError(t, err)
	assert.Equal(t, []Column{{Name: "id"}, {Name: "tags", Kind: KindJSON}, {Name: "name"}}, cols)
	assert.Contains(t, sql, `SELECT (0 * 4294967296 + "__seq") AS "__ord", "id" AS "id", "tags" AS "tags", NULL AS "name" FROM "rs_a"`)
	assert.Contains(t, sql, `CASE WHEN "tags" IS NULL THEN NULL ELSE json_quote("tags") END AS "tags"`)
	assert.Contains(t, sql, `GROUP BY "id", "tags", "name" ORDER BY MIN("__ord")`)

	_, _, _, err = Union(nil)
	assert.Error(t, err)
}

func TestUnionBy(t *testing.T) {
	a := Table{Name: "rs_a", Columns: []Column{{Name: "id"}, {Name: "pid"}}}
	b := Table{Name: "rs_b", Columns: []Column{{Name: "id"}, {Name: "pid"}, {Name: "first_observed"}}}

	sql, _, cols, err := UnionBy([]Table{a, b}, "id")
	require.NoError(t, err)
	assert.Equal(t, []Column{{Name: "id"}, {Name: "pid"}, {Name: "first_observed"}}, cols)
	assert.Contains(t, sql, `PARTITION BY CASE WHEN "id" IS NULL THEN "__ord" END, "id" ORDER BY "__ord"`)
	assert.Contains(t, sql, `WHERE "__rank" = 1 ORDER BY "__ord"`)
	assert.NotContains(t, sql, "GROUP BY")

	_, _, _, err = UnionBy([]Table{a, b}, "name")
	assert.ErrorContains(t, err, `union key "name"`)
	_, _, _, err = UnionBy(nil, "id")
	assert.Error(t, err)
}

func TestMergeKinds(t *testing.T) {
	assert.Equal(t, KindBool, mergeKinds(KindBool, KindBool))
	assert.Equal(t, KindScalar, mergeKinds(KindBool, KindScalar))
	assert.Equal(t, KindJSON, mergeKinds(KindScalar, KindJSON))
}

func TestRelated(t *testing.T) {
	result := Table{Name: "rs_cand", Columns: []Column{{Name: "id"}, {Name: "pid"}, {Name: "parent_ref"}}}
	input := Table{Name: "rs_in", Columns: []Column{{Name: "id"}, {Name: "opened_connection_refs", Kind: KindJSON}}}

	links := []stix.Link{
		{Attr: "parent_ref", OnResult: true},
		{Attr: "opened_connection_refs", OnResult: false},
		{Attr: "missing_ref", OnResult: true},
	}
	sql, params, cols, err := Related(result, input, links, compare("pid", pattern.Gt, ir.IRInt(4)), intPtr(3))
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT ROW_NUMBER() OVER (ORDER BY "r"."__seq") AS "__seq", "r"."id" AS "id", "r"."pid" AS "pid", "r"."parent_ref" AS "parent_ref" `+
			`FROM "rs_cand" AS "r" WHERE EXISTS (SELECT 1 FROM "rs_in" AS "i" WHERE "r"."parent_ref" = "i"."id" OR `+
			`EXISTS (SELECT 1 FROM json_each("i"."opened_connection_refs") AS "__e" WHERE "__e".value = "r"."id")) `+
			`AND "r"."pid" > ? ORDER BY "r"."__seq" LIMIT ?`,
		sql)
	assert.Equal(t, []any{int64(4), 3}, params)
	assert.Equal(t, result.Columns, cols)

	sql, _, _, err = Related(result, input, []stix.Link{{Attr: "missing_ref", OnResult: true}}, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE 0 AND 1")
}

func TestValues(t *testing.T) {
	sql, _, err := Values(procs, "pid")
	require.NoError(t, err)
	assert.Equal(t, `SELECT "pid" FROM "rs_procs" WHERE "pid" IS NOT NULL GROUP BY "pid" ORDER BY MIN("__seq")`, sql)

	sql, _, err = Values(procs, "args")
	require.NoError(t, err)
	assert.Contains(t, sql, `json_each("t"."args")`)

	_, _, err = Values(procs, "nope")
	assert.Error(t, err)
}

func TestTableDDL(t *testing.T) {
	cols := []Column{{Name: "id"}, {Name: "binary_ref.name"}}
	assert.Equal(t, `CREATE TABLE "rs_1" ("__seq" INTEGER NOT NULL, "id", "binary_ref.name")`, CreateTable("rs_1", cols))
	assert.Equal(t, `INSERT INTO "rs_1" ("__seq", "id", "binary_ref.name") VALUES (?, ?, ?)`, Insert("rs_1", cols))
	assert.Equal(t, `DROP TABLE IF EXISTS "rs_1"`, DropTable("rs_1"))

	sql, _ := Counts(Table{Name: "rs_1", Columns: cols})
	assert.Equal(t, `SELECT COUNT(*), COUNT("id"), COUNT("binary_ref.name") FROM "rs_1"`, sql)

	sql, _ = Rows(Table{Name: "rs_1", Columns: cols})
	assert.Equal(t, `SELECT "__seq", "id", "binary_ref.name" FROM "rs_1" ORDER BY "__seq" ASC`, sql)
}
