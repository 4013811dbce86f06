package main

import (
	"context"
	"fmt"
	"os"

	"launchpad/internal/config"
	"launchpad/internal/controller"
	appErrors "launchpad/internal/errors"
	"launchpad/internal/launcher"
	"launchpad/internal/loader"
	"launchpad/internal/logging"
	"launchpad/internal/manifest"
	"launchpad/internal/policy"
	"launchpad/internal/source"
)

// session is the composition root shared by the commands.
type session struct {
	settings   config.Settings
	source     source.Source
	embedded   launcher.EmbeddedBundle
	controller *controller.Controller
	// started receives every DidStart notification.
	started chan bool
}

// loadEmbedded reads the shipped bundle from dir. An empty dir means the
// application ships without one.
func loadEmbedded(dir string) (launcher.EmbeddedBundle, error) {
	if dir == "" {
		return launcher.EmbeddedBundle{}, nil
	}
	bundle, err := launcher.LoadEmbedded(os.DirFS(dir), "")
	if err != nil {
		return launcher.EmbeddedBundle{}, fmt.Errorf("load embedded bundle from %s: %w", dir, err)
	}
	return bundle, nil
}

// constraints scopes selection to the configured runtime and origin. The
// runtime version defaults to the embedded bundle's.
func constraints(s config.Settings, embedded launcher.EmbeddedBundle) policy.Constraints {
	c := policy.Constraints{
		RuntimeVersion:   s.RuntimeVersion,
		ScopeKey:         s.ScopeKey,
		AllowDevelopment: s.AllowDevelopment,
	}
	if c.RuntimeVersion == "" {
		c.RuntimeVersion = embedded.Update.RuntimeVersion
	}
	if c.ScopeKey == "" {
		c.ScopeKey = manifest.ScopeKey(s.ManifestURL)
	}
	return c
}

func newSource(ctx context.Context, s config.Settings, runtimeVersion string) (source.Source, error) {
	if s.ManifestURL == "" {
		return nil, nil
	}
	return source.New(ctx, source.Config{
		ManifestURL:    s.ManifestURL,
		RuntimeVersion: runtimeVersion,
		Platform:       source.DefaultPlatform(),
		Timeout:        s.RequestTimeout,
		S3: source.S3Config{
			Region:          s.S3.Region,
			Endpoint:        s.S3.Endpoint,
			AccessKeyID:     s.S3.AccessKeyID,
			SecretAccessKey: s.S3.SecretAccessKey,
		},
		Logger: logging.New("source"),
	})
}

func newSession(ctx context.Context, s config.Settings, opts ...controller.Option) (*session, error) {
	embedded, err := loadEmbedded(s.EmbeddedPath)
	if err != nil {
		return nil, err
	}
	runtimeVersion := s.RuntimeVersion
	if runtimeVersion == "" {
		runtimeVersion = embedded.Update.RuntimeVersion
	}
	if runtimeVersion == "" {
		return nil, appErrors.New(appErrors.CodeConfigurationError, "no runtime version configured and no embedded bundle to take it from", nil)
	}
	src, err := newSource(ctx, s, runtimeVersion)
	if err != nil {
		return nil, err
	}

	sess := &session{
		settings: s,
		source:   src,
		embedded: embedded,
		started:  make(chan bool, 4),
	}
	cfg := controller.Config{
		Enabled:          s.Enabled,
		UpdatesDirectory: s.UpdatesDirectory,
		Constraints:      constraints(s, embedded),
		CheckOnLaunch:    s.CheckOnLaunch,
		VerifyOnLaunch:   s.VerifyOnLaunch,
		Retry: loader.Retry{
			MaxAttempts:    s.MaxAttempts,
			InitialBackoff: s.InitialBackoff,
			MaxBackoff:     s.MaxBackoff,
		},
		Concurrency: s.Concurrency,
	}
	base := []controller.Option{
		controller.WithSource(src),
		controller.WithEmbedded(embedded),
		controller.WithLogger(logging.New("controller")),
		controller.WithDelegate(controller.DelegateFunc(func(ok bool) {
			select {
			case sess.started <- ok:
			default:
			}
		})),
	}
	sess.controller = controller.New(cfg, append(base, opts...)...)
	return sess, nil
}

// awaitStart waits for the next launch cycle to complete.
func (s *session) awaitStart(ctx context.Context) (bool, error) {
	select {
	case ok := <-s.started:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *session) Close() error {
	return s.controller.Close()
}
