package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nugget/coachd/internal/docstore"
	"github.com/nugget/coachd/internal/pipeline"
	"github.com/nugget/coachd/internal/protocol"
)

// runTurn runs a single turn for uid and writes its SSE frames to
// stdout. Logs go to stderr so the frames stay parseable. A user
// record is created on first use.
func runTurn(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, uid, message string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	if _, err := a.docs.GetUser(ctx, uid); errors.Is(err, docstore.ErrNotFound) {
		if err := a.docs.PutUser(ctx, &docstore.User{ID: uid}); err != nil {
			return fmt.Errorf("create user %s: %w", uid, err)
		}
	} else if err != nil {
		return fmt.Errorf("load user %s: %w", uid, err)
	}

	events := a.pipeline.Stream(ctx, pipeline.Turn{
		UserID:  uid,
		CoachID: cfg.Pipeline.DefaultCoachID,
		Message: message,
	})
	var writeErr error
	for e := range events {
		if writeErr == nil {
			writeErr = protocol.WriteSSE(stdout, e)
		}
	}
	return writeErr
}
