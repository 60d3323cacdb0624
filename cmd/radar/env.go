package main

import (
	"os"
	"strings"
)

func envName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func envLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}
