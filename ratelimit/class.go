// Package ratelimit implements the fixed-window admission check that fronts
// every API call: requests are counted per (client key, route class) and
// denied with a 429 once a class quota is exhausted for the current window.
package ratelimit

import (
	"strings"
	"time"

	"github.com/riskregister/gatekit/config"
)

// Class names a quota policy selected by path/method pattern.
type Class string

const (
	ClassLogin        Class = "login"
	ClassRegister     Class = "register"
	ClassMutatingRisk Class = "mutating_risk"
	ClassStrict       Class = "strict"
	ClassDefault      Class = "default"
)

// Limit is the quota carried by a route class.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Limits maps every route class to its quota.
type Limits map[Class]Limit

// LimitsFromConfig builds the class table from configuration.
func LimitsFromConfig(cfg config.Config) Limits {
	return Limits{
		ClassLogin:        {Requests: cfg.Login.Requests, Window: cfg.Login.Window},
		ClassRegister:     {Requests: cfg.Register.Requests, Window: cfg.Register.Window},
		ClassMutatingRisk: {Requests: cfg.MutatingRisk.Requests, Window: cfg.MutatingRisk.Window},
		ClassStrict:       {Requests: cfg.Strict.Requests, Window: cfg.Strict.Window},
		ClassDefault:      {Requests: cfg.Default.Requests, Window: cfg.Default.Window},
	}
}

// Exempt reports whether a path is a monitoring/health endpoint, which is
// never counted or limited.
func Exempt(path string) bool {
	switch path {
	case "/health", "/healthz", "/metrics", "/monitor":
		return true
	}
	return strings.HasPrefix(path, "/monitor/")
}

// Classify selects the route class for a request. Most specific match wins:
// login/register paths, then method-qualified risk mutations, then the strict
// class for auth-adjacent or mutating traffic, then default. Returns false
// for exempt paths.
func Classify(method, path string) (Class, bool) {
	if Exempt(path) {
		return "", false
	}

	switch path {
	case "/auth/login":
		return ClassLogin, true
	case "/auth/register":
		return ClassRegister, true
	}

	if mutating(method) && (path == "/risks" || strings.HasPrefix(path, "/risks/")) {
		return ClassMutatingRisk, true
	}

	if strings.HasPrefix(path, "/auth/") || mutating(method) {
		return ClassStrict, true
	}

	return ClassDefault, true
}

func mutating(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}
	return false
}
