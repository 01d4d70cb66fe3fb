package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tagvet/tagvet/audit"
	"github.com/tagvet/tagvet/config"
	"github.com/tagvet/tagvet/engine"
	"github.com/tagvet/tagvet/gateway"
	"github.com/tagvet/tagvet/gateway/awsgw"
	"github.com/tagvet/tagvet/storage"
)

// app bundles the wired collaborators behind every command
type app struct {
	cfg     *config.Config
	engine  *engine.Engine
	fetcher *gateway.Fetcher
	history storage.History
	audit   *audit.Log
}

// newApp loads config and wires the engine against live AWS gateways
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	gw, err := awsgw.New(ctx, cfg.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize aws gateway: %w", err)
	}

	fetcher := gateway.NewFetcher(gw, gw, gateway.FetcherConfig{
		BatchSize:    cfg.Fetch.BatchSize,
		MaxAttempts:  cfg.Fetch.MaxAttempts,
		InventoryTTL: cfg.Fetch.InventoryTTL,
		CostTTL:      cfg.Fetch.CostTTL,
		Concurrency:  cfg.Fetch.Concurrency,
	})

	if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	history, err := storage.Open(cfg.StorageDir)
	if err != nil {
		return nil, err
	}

	auditLog, err := audit.Open(cfg.AuditDir)
	if err != nil {
		_ = history.Close()
		return nil, err
	}

	eng, err := engine.New(engine.Config{
		PolicyPath:   cfg.PolicyPath,
		Regions:      cfg.Regions,
		LookbackDays: cfg.Drift.LookbackDays,
	}, fetcher, history, auditLog)
	if err != nil {
		_ = history.Close()
		_ = auditLog.Close()
		return nil, err
	}

	return &app{cfg: cfg, engine: eng, fetcher: fetcher, history: history, audit: auditLog}, nil
}

func (a *app) Close() {
	_ = a.audit.Close()
	_ = a.history.Close()
}

// resolveTypes picks the resource types to operate on: the --types flag
// wins, then the configured daemon set, then the policy's own closure
func (a *app) resolveTypes(flagTypes string) []string {
	if flagTypes != "" {
		return splitTypes(flagTypes)
	}
	if len(a.cfg.Daemon.ResourceTypes) > 0 {
		return a.cfg.Daemon.ResourceTypes
	}
	return a.engine.Policy().Closure()
}

func splitTypes(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
