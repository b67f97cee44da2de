package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"brinetank-iot/internal/alert"
	"brinetank-iot/internal/config"
	"brinetank-iot/internal/dispatch"
	"brinetank-iot/internal/export"
	"brinetank-iot/internal/models"
	"brinetank-iot/internal/repository"
	"brinetank-iot/internal/seed"
	"brinetank-iot/internal/service"
	"brinetank-iot/internal/store"
	"brinetank-iot/pkg/database"
	mqttcommon "brinetank-iot/pkg/mqtt"
	rediscommon "brinetank-iot/pkg/redis"

	"go.uber.org/zap"
)

var errUsage = errors.New("invalid arguments")

type cli struct {
	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer
	// backend 测试时预先注入，为 nil 时按配置打开
	backend *service.Backend
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "migrate":
		return c.migrate(ctx)
	case "seed":
		return c.seed(ctx, args)
	case "trigger":
		return c.trigger(ctx, args)
	case "latest":
		return c.latest(ctx, args)
	case "export":
		return c.export(ctx, args)
	case "publish":
		return c.publish(args)
	default:
		fmt.Fprint(c.out, usage)
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (c *cli) openBackend(ctx context.Context) (*service.Backend, error) {
	if c.backend != nil {
		return c.backend, nil
	}
	backend, err := service.OpenBackend(ctx, c.cfg, c.logger)
	if err != nil {
		return nil, err
	}
	c.backend = backend
	return backend, nil
}

func (c *cli) migrate(ctx context.Context) error {
	if c.cfg.Store.Backend != config.BackendPostgres {
		return fmt.Errorf("migrate only applies to the postgres backend (STORE_BACKEND=%s)", c.cfg.Store.Backend)
	}
	db, err := database.NewPostgresDB(&c.cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repository.Migrate(ctx, db); err != nil {
		return err
	}
	c.logger.Info("Schema migrated", zap.String("database", c.cfg.Database.Database))
	return nil
}

func (c *cli) seed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	file := fs.String("f", "sensors.yaml", "sensor config file (yaml or json)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	configs, err := seed.LoadFile(*file)
	if err != nil {
		return err
	}
	backend, err := c.openBackend(ctx)
	if err != nil {
		return err
	}
	applied, err := seed.Apply(ctx, backend.Stores.Sensors, configs, nil, c.logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "seeded %d sensors; running alert services pick up recipient changes within %s\n",
		applied, c.cfg.Alert.RecipientCacheTTL)
	return nil
}

type triggerArgs struct {
	trigger models.AlertTrigger
	via     string
}

func parseTriggerArgs(args []string, now time.Time) (triggerArgs, error) {
	fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	sensor := fs.String("sensor", "", "sensor id")
	level := fs.String("level", "", "level percent")
	to := fs.String("to", "", "comma-separated recipients, overrides the configured list")
	ts := fs.String("ts", "", "trigger timestamp (default: now)")
	via := fs.String("via", "local", "local: evaluate in this process; stream: publish to the alert stream")
	if err := fs.Parse(args); err != nil {
		return triggerArgs{}, errUsage
	}
	if *via != "local" && *via != "stream" {
		return triggerArgs{}, fmt.Errorf("%w: -via must be local or stream", errUsage)
	}

	req := models.AlertRequest{
		SensorID: *sensor,
		LevelPct: json.RawMessage(strconv.Quote(*level)),
		Ts:       *ts,
	}
	if *level == "" {
		req.LevelPct = nil
	}
	if *to != "" {
		raw, err := json.Marshal(strings.Split(*to, ","))
		if err != nil {
			return triggerArgs{}, err
		}
		req.To = raw
	}

	trigger, err := alert.ParseAlertRequest(req, now)
	if err != nil {
		return triggerArgs{}, err
	}
	return triggerArgs{trigger: trigger, via: *via}, nil
}

func (c *cli) trigger(ctx context.Context, args []string) error {
	parsed, err := parseTriggerArgs(args, time.Now())
	if err != nil {
		return err
	}

	if parsed.via == "stream" {
		client := rediscommon.NewRedisClient(&c.cfg.Redis)
		defer client.Close()
		if err := dispatch.NewStreamDispatcher(client, c.cfg.Alert.Stream).Dispatch(ctx, parsed.trigger); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "published trigger for %s to %s\n", parsed.trigger.SensorID, c.cfg.Alert.Stream)
		return nil
	}

	backend, err := c.openBackend(ctx)
	if err != nil {
		return err
	}
	mailer, err := service.NewMailer(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	result, err := service.NewEvaluator(c.cfg, backend.Stores.Sensors, mailer, c.logger).Evaluate(ctx, parsed.trigger)
	if err != nil {
		return err
	}
	return c.writeJSON(result)
}

func (c *cli) latest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("latest", flag.ContinueOnError)
	device := fs.String("device", "", "device id")
	if err := fs.Parse(args); err != nil || *device == "" {
		return errUsage
	}

	backend, err := c.openBackend(ctx)
	if err != nil {
		return err
	}
	snapshot, err := backend.Stores.Latest.GetLatest(ctx, *device)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no readings for device %s", *device)
	}
	if err != nil {
		return err
	}
	return c.writeJSON(snapshot)
}

func (c *cli) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	device := fs.String("device", "", "device id")
	output := fs.String("o", "", "output .xlsx file")
	from := fs.String("from", "", "first timestamp (inclusive)")
	to := fs.String("to", "", "last timestamp (inclusive)")
	limit := fs.Int("limit", 0, "max rows, 0 for all")
	if err := fs.Parse(args); err != nil || *device == "" || *output == "" {
		return errUsage
	}

	backend, err := c.openBackend(ctx)
	if err != nil {
		return err
	}
	data, n, err := export.ExportDevice(ctx, backend.Stores.Readings, *device, store.ReadingQuery{
		From:  *from,
		To:    *to,
		Limit: *limit,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(*output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", *output, err)
	}
	fmt.Fprintf(c.out, "exported %d readings to %s\n", n, *output)
	return nil
}

type publishArgs struct {
	topic   string
	payload []byte
}

// parsePublishArgs 生成一条设备遥测消息（与设备上报格式一致）
func parsePublishArgs(args []string, topicFilter string, now time.Time) (publishArgs, error) {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	device := fs.String("device", "", "device id")
	distance := fs.Float64("distance", -1, "distance_cm reading")
	temperature := fs.Float64("temp", -1000, "temperature_c reading (omitted when not set)")
	status := fs.Int("status", 0, "sensor status code")
	if err := fs.Parse(args); err != nil || *device == "" || *distance < 0 {
		return publishArgs{}, errUsage
	}

	msg := map[string]interface{}{
		"device":      *device,
		"ts":          now.UTC().Format(models.ReadingTimeLayout),
		"status":      *status,
		"distance_cm": *distance,
	}
	if *temperature > -1000 {
		msg["temperature_c"] = *temperature
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return publishArgs{}, err
	}
	return publishArgs{
		topic:   strings.Replace(topicFilter, "+", *device, 1),
		payload: payload,
	}, nil
}

func (c *cli) publish(args []string) error {
	parsed, err := parsePublishArgs(args, c.cfg.Ingest.Topic, time.Now())
	if err != nil {
		return err
	}

	mqttCfg := c.cfg.MQTT
	mqttCfg.ClientID = "brinetank-ctl"
	client, err := mqttcommon.NewClient(&mqttCfg, c.logger)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	if err := client.Publish(parsed.topic, mqttCfg.QoS, false, parsed.payload); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "published to %s: %s\n", parsed.topic, parsed.payload)
	return nil
}

func (c *cli) writeJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
