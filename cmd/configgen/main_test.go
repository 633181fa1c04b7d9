package main

import (
	"path/filepath"
	"testing"

	"github.com/danmuck/rconsole/internal/config"
	"github.com/danmuck/rconsole/internal/testutil/testlog"
)

func TestRunWritesAndValidates(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{config.KindServer, config.KindAgent} {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := run(kind, path, "", false, false); err != nil {
			t.Fatalf("write %s: %v", kind, err)
		}
		if err := run(kind, "", path, true, false); err != nil {
			t.Fatalf("validate %s: %v", kind, err)
		}
		if err := run(kind, path, "", false, false); err == nil {
			t.Fatalf("expected %s overwrite refusal", kind)
		}
	}
	if err := run("mirror", "", "", false, false); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
