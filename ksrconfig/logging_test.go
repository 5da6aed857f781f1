/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package ksrconfig

import (
	"log"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupLoggingRotatesToConfiguredFile(t *testing.T) {
	defer log.SetOutput(os.Stderr)

	c := Defaults()
	c.Log.File = filepath.Join(t.TempDir(), "ceremony.log")
	c.SetupLogging()

	log.Printf("ceremony started")

	if _, err := os.Stat(c.Log.File); err != nil {
		t.Fatalf("expected log file to be created at %q: %v", c.Log.File, err)
	}
}
