// Command forge-worker is the Worker Runtime server entry point
// (spec §4.8): it listens for incoming distributed Jobs, admits them
// against its configured slot Pool, and serves each connection to
// completion. Modeled on cmd/distri's funcmain()-returns-error shape.
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"time"

	"github.com/forgebuild/forge/internal/env"
	"github.com/forgebuild/forge/internal/trace"
	"github.com/forgebuild/forge/internal/workerd"
)

var (
	listenAddr   = flag.String("listen", ":7420", "address to accept distribution client connections on")
	settingsPath = flag.String("settings", "", "path to the worker settings file (default: $FORGEROOT/forge-worker.settings)")
	toolDir      = flag.String("tooldir", "", "directory to cache synced tool files in (default: $FORGEROOT/tools)")
	cpuCount     = flag.Int("cpus", 0, "CPUs to configure on first run if no settings file exists yet (default: NumCPU)")
	traceFile    = flag.Bool("trace", false, "emit a Chrome trace-event file to $TMPDIR/forge.traces/forge-worker.<pid> (spec §4.9)")
)

func defaultSettingsPath() string {
	if *settingsPath != "" {
		return *settingsPath
	}
	return env.ForgeRoot + "/forge-worker.settings"
}

func loadOrInitSettings(path string) (workerd.Settings, error) {
	s, err := workerd.LoadSettings(path)
	if err == nil {
		return s, nil
	}
	n := *cpuCount
	if n <= 0 {
		n = env.NumCPU()
	}
	s = workerd.Settings{Mode: workerd.Dedicated, CPUCount: n}
	if saveErr := os.MkdirAll(env.ForgeRoot, 0755); saveErr != nil {
		return s, saveErr
	}
	if saveErr := workerd.SaveSettings(path, s); saveErr != nil {
		return s, saveErr
	}
	return s, nil
}

func funcmain() error {
	flag.Parse()

	if *traceFile {
		if err := trace.Enable("forge-worker"); err != nil {
			return err
		}
	}

	path := defaultSettingsPath()
	settings, err := loadOrInitSettings(path)
	if err != nil {
		return err
	}

	tools := *toolDir
	if tools == "" {
		tools = env.ForgeRoot + "/tools"
	}
	if err := os.MkdirAll(tools, 0755); err != nil {
		return err
	}

	srv := &workerd.Server{
		Pool:     workerd.NewPool(settings.CPUCount),
		Tools:    workerd.NewToolStore(tools),
		Settings: settings,
		TmpRoot:  os.TempDir(),
	}

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		return err
	}
	log.Printf("forge-worker: listening on %s with %d slots (%s)", *listenAddr, settings.CPUCount, settings.Mode)

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("accept: %v", err)
			continue
		}
		if srv.Pool.Free() == 0 {
			// Admission control (spec §4.8): no free slots, reject
			// immediately rather than queueing at the transport layer.
			conn.Close()
			continue
		}
		go func() {
			defer conn.Close()
			conn.SetDeadline(time.Time{})
			if err := srv.ServeConn(conn); err != nil {
				log.Printf("serving job: %v", err)
			}
		}()
	}
}

func main() {
	if err := funcmain(); err != nil {
		log.Fatal(err)
	}
}
