// Package env captures details about the forge environment that are read
// once at process startup and treated as immutable for the lifetime of the
// process (spec §6, "Environment variables read").
package env

import (
	"os"
	"runtime"
)

// ForgeRoot is the root directory under which the dependency DB, the tool
// directory and the worker settings file live by default. The artifact
// cache lives under CacheRoot instead.
var ForgeRoot = findForgeRoot()

// CacheRoot is the default artifact cache root ($FORGE_CACHE, else
// $HOME/.cache/forge); cmd/forge's -cache flag overrides it.
var CacheRoot = findCacheRoot()

// User is the local user name, read once at startup. No other package in
// this module reads it.
var User = findUser()

func findForgeRoot() string {
	if v := os.Getenv("FORGEROOT"); v != "" {
		return v
	}
	return os.ExpandEnv("$HOME/.forge")
}

func findCacheRoot() string {
	if v := os.Getenv("FORGE_CACHE"); v != "" {
		return v
	}
	return os.ExpandEnv("$HOME/.cache/forge")
}

func findUser() string {
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	if v := os.Getenv("USERNAME"); v != "" { // windows
		return v
	}
	return "unknown"
}

// NumCPU returns the number of logical CPUs as reported by the runtime.
// Low-power efficiency cores are counted like any other core: no code in
// this module detects or subtracts them.
func NumCPU() int {
	return runtime.NumCPU()
}
