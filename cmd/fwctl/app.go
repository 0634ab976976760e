package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"forestwatch/internal/bootstrap"
	"forestwatch/internal/services/pipeline"
	"forestwatch/pkg/errors"
)

// Backend runs requests and enqueues scenes
type Backend interface {
	Execute(ctx context.Context, req pipeline.Request) (interface{}, error)
	PublishSceneExtracted(ctx context.Context, sceneID, region, tileID string, forceRetrain bool) error
}

type app struct {
	out     io.Writer
	format  string
	timeout time.Duration
	// connect builds the backend; close releases it
	connect func() (Backend, func(), error)
}

func newApp(out io.Writer) *app {
	return &app{out: out, format: "json", timeout: time.Hour, connect: connectContainer}
}

type containerBackend struct {
	c *bootstrap.Container
}

func (b containerBackend) Execute(ctx context.Context, req pipeline.Request) (interface{}, error) {
	return b.c.Services.Pipeline.Execute(ctx, req)
}

func (b containerBackend) PublishSceneExtracted(ctx context.Context, sceneID, region, tileID string, force bool) error {
	if !b.c.Services.Events.Enabled() {
		return errors.Wrap(errors.ErrUnavailable, "KAFKA_BROKERS not configured")
	}
	return b.c.Services.Events.PublishSceneExtracted(ctx, sceneID, region, tileID, force)
}

// connectContainer initializes the daemon's core in-process. Operators get
// warnings only unless LOG_LEVEL says otherwise.
func connectContainer() (Backend, func(), error) {
	if os.Getenv("LOG_LEVEL") == "" {
		_ = os.Setenv("LOG_LEVEL", "warn")
	}
	c := bootstrap.NewContainer()
	c.MustInitCore()
	return containerBackend{c: c}, c.Shutdown, nil
}

// run sends one request and prints the result
func (a *app) run(req pipeline.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	backend, closeFn, err := a.connect()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	out, err := backend.Execute(ctx, req)
	if err != nil {
		return errors.Wrapf(err, "%s", req.Operation())
	}
	return a.print(out)
}

// publish enqueues a scene on the scenes topic
func (a *app) publish(req pipeline.AnalyzeSceneRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	backend, closeFn, err := a.connect()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := backend.PublishSceneExtracted(ctx, req.SceneID, req.Region, req.TileID, req.ForceRetrain); err != nil {
		return err
	}
	return a.print(map[string]string{"scene_id": req.SceneID, "status": "queued"})
}

func (a *app) print(v interface{}) error {
	switch a.format {
	case "yaml":
		// round-trip through JSON so yaml keys follow the json tags
		raw, err := json.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "encode result")
		}
		var generic interface{}
		if err := json.Unmarshal(raw, &generic); err != nil {
			return errors.Wrap(err, "encode result")
		}
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	default:
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}
