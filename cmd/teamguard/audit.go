package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/MrEthical07/teamguard"
)

func auditQuery(c *cli.Context) error {
	rt, err := openRuntime(c, false)
	if err != nil {
		return err
	}
	defer rt.Close()
	engine, err := rt.engine()
	if err != nil {
		return err
	}

	filter := teamguard.AuditFilter{
		Subject: c.String(flagUser),
		IP:      c.String(flagIP),
		Types:   c.StringSlice(flagType),
		Limit:   c.Int(flagLimit),
	}
	if since := c.Duration(flagSince); since > 0 {
		filter.Since = time.Now().Add(-since)
	}

	events, err := engine.QueryEvents(c.Context, filter)
	if err != nil {
		return errors.Wrap(err, "error querying events")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(events)
}

func auditPrune(c *cli.Context) error {
	rt, err := openRuntime(c, false)
	if err != nil {
		return err
	}
	defer rt.Close()
	engine, err := rt.engine()
	if err != nil {
		return err
	}

	n, err := engine.PruneEvents(c.Context)
	if err != nil {
		return errors.Wrap(err, "error pruning events")
	}
	fmt.Printf("Pruned %d events older than %s.\n", n, rt.engineCfg.Audit.Retention)
	return nil
}

func auditDetect(c *cli.Context) error {
	user, ip := c.String(flagUser), c.String(flagIP)
	if user == "" && ip == "" {
		return errors.New("one of --user or --ip is required")
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
	acfg := rt.engineCfg.Audit

	if user != "" {
		d, err := engine.DetectSuspiciousAuth(c.Context, user, acfg.DetectionWindow, acfg.SuspiciousThreshold)
		if err != nil {
			return errors.Wrap(err, "error checking identity")
		}
		fmt.Printf("identity %q: %d login failures in %s, flagged=%t\n", user, d.Count, acfg.DetectionWindow, d.Flagged)
	}
	if ip != "" {
		d, err := engine.DetectReconnaissance(c.Context, ip, acfg.DetectionWindow, acfg.ReconnaissanceThreshold)
		if err != nil {
			return errors.Wrap(err, "error checking ip")
		}
		fmt.Printf("ip %s: %d denials in %s, flagged=%t\n", ip, d.Count, acfg.DetectionWindow, d.Flagged)
	}
	return nil
}
