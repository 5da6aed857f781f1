/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package ksrconfig

import (
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging configures the standard logger: short file + time prefix
// always on, output routed through lumberjack when a log file is
// configured so long-running ceremony hosts don't need an external log
// rotator. An empty logfile leaves output on stderr, the shape a
// one-shot ceremony CLI run wants.
func (c *Config) SetupLogging() {
	log.SetFlags(log.Lshortfile | log.Ltime)

	if c.Log.File == "" {
		return
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   c.Log.File,
		MaxSize:    20,
		MaxBackups: 3,
		MaxAge:     14,
	})
}
