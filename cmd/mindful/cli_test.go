package main

import (
	"bytes"
	"strings"
	"testing"
)

func runRootCommandForTest(args ...string) (string, error) {
	root := buildRootCommand()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootHelpListsCommands(t *testing.T) {
	t.Parallel()

	output, err := runRootCommandForTest("--help")
	if err != nil {
		t.Fatalf("execute --help: %v\nOutput:\n%s", err, output)
	}

	for _, want := range []string{"onboard", "serve", "chat", "status", "version"} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing command %q:\n%s", want, output)
		}
	}
}

func TestRootWithoutSubcommandFails(t *testing.T) {
	t.Parallel()

	_, err := runRootCommandForTest()
	if err == nil {
		t.Fatal("expected error when no subcommand is given")
	}
}

func TestChatCommandFlags(t *testing.T) {
	t.Parallel()

	cmd := newChatCommand()
	if flag := cmd.Flags().Lookup("message"); flag == nil {
		t.Fatal("chat command missing --message flag")
	}
	flag := cmd.Flags().Lookup("identity")
	if flag == nil {
		t.Fatal("chat command missing --identity flag")
	}
	if flag.DefValue != "cli:default" {
		t.Fatalf("unexpected default identity: %q", flag.DefValue)
	}
}
