package main

import (
	"strconv"
	"strings"

	"registrar/internal/daemonrun"
)

const (
	envConfig      = "REGISTRAR_CONFIG"
	envLogLevel    = "REGISTRAR_LOG_LEVEL"
	envDevelopment = "REGISTRAR_DEVELOPMENT"
)

func configPathFromEnv(getenv func(string) string) string {
	if getenv == nil {
		return ""
	}
	return strings.TrimSpace(getenv(envConfig))
}

func runOptions(getenv func(string) string) daemonrun.Options {
	if getenv == nil {
		return daemonrun.Options{}
	}
	opts := daemonrun.Options{LogLevel: strings.TrimSpace(getenv(envLogLevel))}
	if value := strings.TrimSpace(getenv(envDevelopment)); value != "" {
		opts.Development, _ = strconv.ParseBool(value)
	}
	return opts
}
