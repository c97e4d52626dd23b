package main

import (
	"context"
	"errors"
	"testing"
)

func TestStageCommandsDispatch(t *testing.T) {
	var gotStage, gotArg string
	root := newRootCommand(func(_ context.Context, stage, arg string) error {
		gotStage, gotArg = stage, arg
		return nil
	})
	cases := []struct {
		args       []string
		stage, arg string
	}{
		{[]string{"papers", "DataLake/bim.txt"}, "papers", "DataLake/bim.txt"},
		{[]string{"index"}, "index", ""},
		{[]string{"query", "out"}, "query", "out"},
		{[]string{"slr"}, "slr", ""},
		{[]string{"tables"}, "tables", ""},
		{[]string{"triage", "out/slr_tables"}, "triage", "out/slr_tables"},
		{[]string{"label"}, "label", ""},
	}
	for _, c := range cases {
		gotStage, gotArg = "", ""
		root.SetArgs(c.args)
		if err := root.ExecuteContext(context.Background()); err != nil {
			t.Fatalf("%v: %v", c.args, err)
		}
		if gotStage != c.stage || gotArg != c.arg {
			t.Fatalf("%v dispatched (%q, %q)", c.args, gotStage, gotArg)
		}
	}
}

func TestStageCommandRejectsExtraArgs(t *testing.T) {
	root := newRootCommand(func(context.Context, string, string) error { return nil })
	root.SetArgs([]string{"index", "a", "b"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected error for two positional args")
	}
}

func TestStageErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	root := newRootCommand(func(context.Context, string, string) error { return boom })
	root.SetArgs([]string{"label"})
	if err := root.ExecuteContext(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want boom", err)
	}
}
