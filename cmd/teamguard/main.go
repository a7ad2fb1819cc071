package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	app := cli.NewApp()
	app.Name = "teamguard"
	app.Usage = "Session, lockout and audit service for team messaging"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "Path to a YAML config file; TEAMGUARD_* variables override it",
			EnvVars: []string{"TEAMGUARD_CONFIG"},
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:  "serve",
			Usage: "Run the HTTP API",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  flagDev,
					Usage: "Use an in-process Redis and log reset links instead of publishing them",
				},
			},
			Action: serve,
		},
		{
			Name:  "migrate",
			Usage: "Apply or roll back the Postgres schema",
			Subcommands: []*cli.Command{
				{
					Name:   "up",
					Usage:  "Apply all pending migrations",
					Action: migrateUp,
				},
				{
					Name:   "down",
					Usage:  "Roll back every migration",
					Action: migrateDown,
				},
			},
		},
		{
			Name:  "audit",
			Usage: "Inspect the security event log",
			Subcommands: []*cli.Command{
				{
					Name:  "query",
					Usage: "Print matching events as JSON, newest first",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:  flagUser,
							Usage: "Match events whose user id or login identifier equals this value",
						},
						&cli.StringFlag{
							Name:  flagIP,
							Usage: "Match events from this client IP",
						},
						&cli.StringSliceFlag{
							Name:  flagType,
							Usage: "Match this event type; repeatable",
						},
						&cli.DurationFlag{
							Name:  flagSince,
							Usage: "Only events newer than this long ago, e.g. 24h",
						},
						&cli.IntFlag{
							Name:  flagLimit,
							Value: 100,
							Usage: "Maximum number of events",
						},
					},
					Action: auditQuery,
				},
				{
					Name:   "prune",
					Usage:  "Delete events older than the retention period",
					Action: auditPrune,
				},
				{
					Name:  "detect",
					Usage: "Report whether an identity or IP crosses the detection thresholds",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:  flagUser,
							Usage: "Identity to check for repeated login failures",
						},
						&cli.StringFlag{
							Name:  flagIP,
							Usage: "IP to check for repeated access denials",
						},
					},
					Action: auditDetect,
				},
			},
		},
		{
			Name:  "user",
			Usage: "Manage accounts",
			Subcommands: []*cli.Command{
				{
					Name:  "create",
					Usage: "Create an account",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:     flagEmail,
							Usage:    "Email address",
							Required: true,
						},
						&cli.StringFlag{
							Name:  flagUsername,
							Usage: "Optional username usable as a login identifier",
						},
						&cli.StringFlag{
							Name:  flagRole,
							Value: "member",
							Usage: "Role stored with the account",
						},
						&cli.StringFlag{
							Name:     flagPassword,
							Aliases:  []string{"p"},
							Usage:    "Initial password",
							EnvVars:  []string{"TEAMGUARD_INITIAL_PASSWORD"},
							Required: true,
						},
					},
					Action: userCreate,
				},
				{
					Name:      "lock",
					Usage:     "Lock an account and revoke its sessions",
					ArgsUsage: "USER_ID",
					Action:    userLock,
				},
				{
					Name:      "unlock",
					Usage:     "Unlock an account and clear its lockout counters",
					ArgsUsage: "USER_ID",
					Action:    userUnlock,
				},
				{
					Name:      "lockout",
					Usage:     "Show lockout counters for a login identifier",
					ArgsUsage: "IDENTIFIER",
					Action:    userLockout,
				},
			},
		},
		{
			Name:  "loadtest",
			Usage: "Measure session validation and rotation throughput",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: flagSessions, Value: 10000, Usage: "Number of sessions to seed"},
				&cli.IntFlag{Name: flagConcurrency, Value: 64, Usage: "Number of concurrent workers"},
				&cli.IntFlag{Name: flagOps, Value: 50000, Usage: "Operations per phase"},
				&cli.StringFlag{Name: flagRedisAddr, Usage: "Redis address; an in-process Redis when empty"},
			},
			Action: loadtest,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "\n%s\n\n", err)
		os.Exit(1)
	}
}
