// Command datacapture is a direct process-level caller of the engine's
// facade: defineField, saveRecord, getRecord, and getFieldAuditTrail as
// standalone subcommands, so the engine is runnable and demonstrable
// without an embedding HTTP or workflow layer.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/data-capture/internal/capture"
	"github.com/vitaliisemenov/data-capture/internal/config"
	"github.com/vitaliisemenov/data-capture/internal/facade"
	"github.com/vitaliisemenov/data-capture/internal/lock"
	"github.com/vitaliisemenov/data-capture/internal/reader"
	"github.com/vitaliisemenov/data-capture/internal/storage"
	"github.com/vitaliisemenov/data-capture/pkg/logger"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "datacapture",
		Short: "Direct CLI access to the data capture engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to an optional YAML config file")

	root.AddCommand(defineFieldCmd(), saveRecordCmd(), getRecordCmd(), auditTrailCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildEngine(ctx context.Context) (*facade.Engine, func() error, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	gw, closeGw, err := storage.NewGateway(ctx, cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("build storage gateway: %w", err)
	}

	readCache := buildReadCache(cfg, log)
	preLock := buildPreLock(cfg, log)

	engine := facade.New(gw, readCache, preLock, capture.SystemClock{}, log)
	return engine, closeGw, nil
}

func buildReadCache(cfg *config.Config, log *slog.Logger) reader.Cache {
	if cfg.Cache.MaxKeys <= 0 && !cfg.Cache.RedisEnabled {
		return nil
	}

	var l1 reader.Cache
	lru, err := reader.NewLRUCache(cfg.Cache.MaxKeys, cfg.Cache.DefaultTTL)
	if err != nil {
		log.Warn("failed to build in-process cache, reads go straight to storage", "error", err)
	} else {
		l1 = lru
	}

	if !cfg.Cache.RedisEnabled {
		return l1
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   cfg.Redis.MaxRetries,
	})
	l2 := reader.NewRedisCache(client, cfg.Cache.DefaultTTL)

	if l1 == nil {
		return l2
	}
	return &reader.TieredCache{L1: l1, L2: l2}
}

func buildPreLock(cfg *config.Config, log *slog.Logger) *lock.Manager {
	if !cfg.Lock.Enabled {
		return lock.NewManager(nil, nil, log)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return lock.NewManager(client, &lock.Config{
		Enabled:        cfg.Lock.Enabled,
		TTL:            cfg.Lock.TTL,
		MaxRetries:     cfg.Lock.MaxRetries,
		RetryInterval:  cfg.Lock.RetryInterval,
		AcquireTimeout: cfg.Lock.AcquireTimeout,
		ReleaseTimeout: cfg.Lock.ReleaseTimeout,
		ValuePrefix:    cfg.Lock.ValuePrefix,
	}, log)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseKV(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid key=value pair %q", p)
		}
		out[k] = v
	}
	return out, nil
}

func defineFieldCmd() *cobra.Command {
	var application, fieldName, dataType, label, actor string
	cmd := &cobra.Command{
		Use:   "define-field",
		Short: "Register or update a field definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, closeFn, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			def, err := engine.DefineField(cmd.Context(), application, capture.FieldDefinitionInput{
				FieldName: fieldName,
				DataType:  capture.DataType(dataType),
				Label:     label,
			}, actor)
			if err != nil {
				return err
			}
			return printJSON(def)
		},
	}
	cmd.Flags().StringVar(&application, "application", "", "application identifier")
	cmd.Flags().StringVar(&fieldName, "field", "", "field name")
	cmd.Flags().StringVar(&dataType, "type", "", "string|number|date|boolean")
	cmd.Flags().StringVar(&label, "label", "", "human-readable label")
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor recorded on the definition version")
	cmd.MarkFlagRequired("application")
	cmd.MarkFlagRequired("field")
	cmd.MarkFlagRequired("type")
	return cmd
}

func saveRecordCmd() *cobra.Command {
	var application, fieldName, value, actor, changeReason string
	var keys []string
	cmd := &cobra.Command{
		Use:   "save-record",
		Short: "Save one field's value for a business context",
		RunE: func(cmd *cobra.Command, args []string) error {
			businessKeys, err := parseKV(keys)
			if err != nil {
				return err
			}
			engine, closeFn, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := engine.SaveRecord(cmd.Context(), application, businessKeys, []capture.FieldSave{
				{FieldName: fieldName, Value: value, ChangeReason: changeReason},
			}, capture.SaveDefaults{}, actor)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&application, "application", "", "application identifier")
	cmd.Flags().StringArrayVar(&keys, "key", nil, "business key as key=value, repeatable")
	cmd.Flags().StringVar(&fieldName, "field", "", "field name")
	cmd.Flags().StringVar(&value, "value", "", "value to save")
	cmd.Flags().StringVar(&changeReason, "reason", "", "change reason recorded on the version")
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor recorded on the version")
	cmd.MarkFlagRequired("application")
	cmd.MarkFlagRequired("field")
	return cmd
}

func getRecordCmd() *cobra.Command {
	var application string
	var keys, fields []string
	cmd := &cobra.Command{
		Use:   "get-record",
		Short: "Read the current value of every requested field for a context",
		RunE: func(cmd *cobra.Command, args []string) error {
			businessKeys, err := parseKV(keys)
			if err != nil {
				return err
			}
			engine, closeFn, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			views, err := engine.GetRecord(cmd.Context(), application, businessKeys, fields)
			if err != nil {
				return err
			}
			return printJSON(views)
		},
	}
	cmd.Flags().StringVar(&application, "application", "", "application identifier")
	cmd.Flags().StringArrayVar(&keys, "key", nil, "business key as key=value, repeatable")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "field name to fetch, repeatable (omit for all)")
	cmd.MarkFlagRequired("application")
	return cmd
}

func auditTrailCmd() *cobra.Command {
	var application, fieldName string
	var keys []string
	cmd := &cobra.Command{
		Use:   "audit-trail",
		Short: "List every recorded version of one field within one context",
		RunE: func(cmd *cobra.Command, args []string) error {
			businessKeys, err := parseKV(keys)
			if err != nil {
				return err
			}
			engine, closeFn, err := buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			records, err := engine.GetFieldAuditTrail(cmd.Context(), application, businessKeys, fieldName)
			if err != nil {
				return err
			}
			return printJSON(records)
		},
	}
	cmd.Flags().StringVar(&application, "application", "", "application identifier")
	cmd.Flags().StringArrayVar(&keys, "key", nil, "business key as key=value, repeatable")
	cmd.Flags().StringVar(&fieldName, "field", "", "field name")
	cmd.MarkFlagRequired("application")
	cmd.MarkFlagRequired("field")
	return cmd
}
