// Package config loads dq runtime configuration. It exposes a Default()
// baseline, a JSON file loader and a DQ_* environment overlay, plus
// converters into the option types of the worker, queue and recovery
// packages.
//
// Example:
//
//	cfg, err := config.Load("/etc/dq.json")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	w := worker.NewWorker(q, cfg.Worker.Options()...)
package config
