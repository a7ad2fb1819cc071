package main

const (
	flagConcurrency = "concurrency"
	flagConfig      = "config"
	flagDev         = "dev"
	flagEmail       = "email"
	flagIP          = "ip"
	flagLimit       = "limit"
	flagOps         = "ops"
	flagPassword    = "password"
	flagRedisAddr   = "redis-addr"
	flagRole        = "role"
	flagSessions    = "sessions"
	flagSince       = "since"
	flagType        = "type"
	flagUser        = "user"
	flagUsername    = "username"
)
