package main

import "testing"

func TestRootCommandFlags(t *testing.T) {
	cmd := buildRootCmd()

	for _, name := range []string{"config", "addr", "log-level", "db", "read-header-timeout", "shutdown-timeout"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Fatalf("missing flag --%s", name)
		}
	}
	if cmd.Use != "dmchat" {
		t.Fatalf("unexpected command name %q", cmd.Use)
	}
}
