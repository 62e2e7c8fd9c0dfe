package migrate

import (
	"reflect"
	"testing"
	"testing/fstest"
)

func TestGlobOrdersAndFilters(t *testing.T) {
	src := fstest.MapFS{
		"0002_second.up.sql":   {Data: []byte("select 2;")},
		"0001_first.up.sql":    {Data: []byte("select 1;")},
		"0001_first.down.sql":  {Data: []byte("select 0;")},
		"seeds/0001_roles.sql": {Data: []byte("select 3;")},
		"README.md":            {Data: []byte("not sql")},
	}
	m := NewManager(nil, src)

	ups, err := m.glob(".", upSuffix)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"0001_first.up.sql", "0002_second.up.sql"}
	if !reflect.DeepEqual(ups, want) {
		t.Fatalf("unexpected up files: %v", ups)
	}

	seeds, err := m.glob(seedsDir, ".sql")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(seeds, []string{"seeds/0001_roles.sql"}) {
		t.Fatalf("unexpected seeds: %v", seeds)
	}

	missing, err := m.glob("nope", ".sql")
	if err != nil || missing != nil {
		t.Fatalf("missing dir should be empty, got %v, %v", missing, err)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(`create table t (s text default 'a;b');
insert into t values ('x');`)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[0] != `create table t (s text default 'a;b');` {
		t.Fatalf("semicolon inside string split incorrectly: %q", stmts[0])
	}
}
