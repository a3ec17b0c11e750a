// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Command ceremonyd is the coordinator server binary: it wires the Record
// Store, Artifact Store, cryptographic core, and every coordination
// component into a running process that serves the callable entry points
// of spec §6 over HTTP/JSON and consumes the task queue (verification,
// timeout sweep, ceremony start/stop) in the background, analogous to
// cmd/geth wiring go-ethereum's services into a node.Node. It registers no
// periodic schedule (taskqueue.RegisterPeriodicTasks is not called), and
// its ceremony start/stop handlers return without changing any state.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"

	"github.com/ethereum/zk-ceremony-coordinator/api"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/finalize"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/queue"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/state"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/timeout"
	redsynclock "github.com/ethereum/zk-ceremony-coordinator/ceremony/timeout/redsync"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/upload"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/verify"
	"github.com/ethereum/zk-ceremony-coordinator/internal/ceremonylog"
	"github.com/ethereum/zk-ceremony-coordinator/internal/config"
	"github.com/ethereum/zk-ceremony-coordinator/internal/identity"
	"github.com/ethereum/zk-ceremony-coordinator/internal/taskqueue"
	"github.com/ethereum/zk-ceremony-coordinator/internal/zkcrypto"
	objects3 "github.com/ethereum/zk-ceremony-coordinator/store/object/s3"
	recordmongo "github.com/ethereum/zk-ceremony-coordinator/store/record/mongo"
)

func main() {
	fs := pflag.NewFlagSet("ceremonyd", pflag.ContinueOnError)
	config.BindFlags(fs)

	app := &cli.App{
		Name:  "ceremonyd",
		Usage: "Groth16 phase-2 trusted-setup ceremony coordinator",
		Flags: flagsFromPflag(fs),
		Action: func(c *cli.Context) error {
			return run(c.Context, fs)
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ceremonyd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, fs *pflag.FlagSet) error {
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	levels := []ceremonylog.Level{ceremonylog.LevelTrace, ceremonylog.LevelDebug, ceremonylog.LevelInfo,
		ceremonylog.LevelWarn, ceremonylog.LevelError, ceremonylog.LevelCrit}
	log := ceremonylog.New("ceremonyd", cfg.JSONLogs, levels[min(max(cfg.LogVerbosity, 0), len(levels)-1)])

	records, err := recordmongo.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return fmt.Errorf("connecting to record store: %w", err)
	}
	awsOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKeyID != "" {
		// A static-credentials provider is used when the operator passes
		// keys directly rather than relying on the environment/instance
		// role the default chain would otherwise discover.
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}
	objects := objects3.New(s3.NewFromConfig(awsCfg))
	engine := zkcrypto.NewGnarkEngine()
	bucketForCeremony := func(prefix string) string { return prefix }
	width := len(cfg.FirstZkeyIndex)

	q := queue.New(records)
	machine := state.New(records, q)
	verifier := verify.New(verify.Config{
		Records: records, Objects: objects, Engine: engine,
		BucketForCeremony: bucketForCeremony, ZkeyIndexWidth: width,
	})
	uploads := upload.New(upload.Config{
		Records: records, Objects: objects, BucketForCeremony: bucketForCeremony,
		ZkeyIndexWidth: width, PresignTTL: cfg.PresignedURLExpiration,
	})
	finalizer := finalize.New(finalize.Config{
		Records: records, Objects: objects, Engine: engine,
		BucketForCeremony: bucketForCeremony, ZkeyIndexWidth: width,
	})
	lock := redsynclock.New(cfg.RedisAddr, 30*time.Second)
	sweeper := timeout.New(records, q, lock)

	ceremonyAPI := api.NewCeremonyAPI(api.Config{
		Records: records, Objects: objects, Machine: machine, Queue: q, BucketForCeremony: bucketForCeremony,
	})
	contributionAPI := api.NewContributionAPI(uploads, verifier)
	uploadAPI := api.NewUploadAPI(uploads)
	coordinatorAPI := api.NewCoordinatorAPI(finalizer)

	idp := identity.New(identity.Config{
		ClientID: cfg.OAuthClientID, ClientSecret: cfg.OAuthClientSecret,
		DeviceAuthURL: cfg.OAuthDeviceAuthURL, TokenURL: cfg.OAuthTokenURL,
		KeyFunc: func(*jwt.Token) (any, error) { return []byte(cfg.JWTSigningSecret), nil },
	})
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: api.NewServer(idp, ceremonyAPI, contributionAPI, uploadAPI, coordinatorAPI)}

	tasks, err := taskqueue.New(cfg.RedisAddr, verifier, sweeper, taskqueue.Lifecycle{
		StartCeremony: func(context.Context, string) error { return nil },
		StopCeremony:  func(context.Context, string) error { return nil },
	})
	if err != nil {
		return fmt.Errorf("starting task queue: %w", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped", "err", err)
		}
	}()
	go func() {
		if err := tasks.RunWorker(runCtx, "ceremonyd", 8); err != nil && runCtx.Err() == nil {
			log.Error("task worker stopped", "err", err)
		}
	}()

	<-runCtx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func flagsFromPflag(fs *pflag.FlagSet) []cli.Flag {
	// Each pflag is mirrored as a hidden urfave/cli string flag so that
	// cli's own parser accepts it; the actual values are read through fs
	// via config.Load, matching the teacher's practice of layering
	// urfave/cli over a pflag set (observed in cmd/utils's flag
	// registration convention).
	var flags []cli.Flag
	fs.VisitAll(func(f *pflag.Flag) {
		flags = append(flags, &cli.StringFlag{Name: f.Name, Usage: f.Usage, Hidden: true})
	})
	return flags
}
