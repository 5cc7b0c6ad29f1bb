package main

import (
	"context"
	"testing"

	"github.com/miradorstack/mirador-netops/internal/config"
)

func TestRootCommandWiresSubcommands(t *testing.T) {
	root := newRootCommand()
	want := map[string]bool{"serve": false, "run": false, "alerts": false, "incidents": false, "health": false}
	for _, sub := range root.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing subcommand %q", name)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Fatalf("expected persistent --config flag")
	}

	groups, _, err := root.Find([]string{"health", "groups"})
	if err != nil || groups.Flags().Lookup("tag") == nil {
		t.Fatalf("expected health groups with --tag: %v", err)
	}

	alerts, _, err := root.Find([]string{"alerts", "escalate"})
	if err != nil {
		t.Fatalf("find alerts escalate: %v", err)
	}
	if f := alerts.Flags().Lookup("level"); f == nil || f.DefValue != "2" {
		t.Fatalf("expected --level defaulting to 2")
	}
}

func TestSetupTracing(t *testing.T) {
	shutdown, err := setupTracing(config.TracingConfig{})
	if err != nil {
		t.Fatalf("disabled tracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}

	if _, err := setupTracing(config.TracingConfig{Enabled: true, Exporter: "jaeger"}); err == nil {
		t.Fatalf("expected unknown exporter error")
	}

	shutdown, err = setupTracing(config.TracingConfig{Enabled: true, Exporter: "stderr"})
	if err != nil {
		t.Fatalf("stderr tracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
