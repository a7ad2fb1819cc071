package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func userCreate(c *cli.Context) error {
	rt, err := openRuntime(c, false)
	if err != nil {
		return err
	}
	defer rt.Close()
	engine, err := rt.engine()
	if err != nil {
		return err
	}

	hash, err := engine.HashPassword(c.String(flagPassword))
	if err != nil {
		return errors.Wrap(err, "error hashing password")
	}
	id, err := rt.users.CreateUser(c.Context, c.String(flagEmail), c.String(flagUsername), hash, c.String(flagRole))
	if err != nil {
		return errors.Wrap(err, "error creating user")
	}

	fmt.Printf("User %q created.\n", id)
	return nil
}

func userLock(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("USER_ID is required")
	}

	rt, err := openRuntime(c, false)
	if err != nil {
		return err
	}
	defer rt.Close()
	engine, err := rt.engine()
	if err != nil {
		return err
	}

	if err := engine.LockAccount(c.Context, id, requestInfo()); err != nil {
		return err
	}

	fmt.Printf("User %q locked.\n", id)
	return nil
}

func userUnlock(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("USER_ID is required")
	}

	rt, err := openRuntime(c, false)
	if err != nil {
		return err
	}
	defer rt.Close()
	engine, err := rt.engine()
	if err != nil {
		return err
	}

	if err := engine.UnlockAccount(c.Context, id, requestInfo()); err != nil {
		return err
	}

	fmt.Printf("User %q unlocked.\n", id)
	return nil
}

func userLockout(c *cli.Context) error {
	identifier := c.Args().First()
	if identifier == "" {
		return errors.New("IDENTIFIER is required")
	}

	rt, err := openRuntime(c, false)
	if err != nil {
		return err
	}
	defer rt.Close()
	engine, err := rt.engine()
	if err != nil {
		return err
	}

	status, err := engine.AccountLockoutStatus(c.Context, identifier)
	if err != nil {
		return err
	}
	fmt.Printf("failed_attempts=%d locked=%t lockouts=%d", status.FailedAttempts, status.Locked, status.Lockouts)
	if status.Locked {
		fmt.Printf(" locked_until=%s", status.LockedUntil.Format("2006-01-02T15:04:05Z07:00"))
	}
	fmt.Println()
	return nil
}
