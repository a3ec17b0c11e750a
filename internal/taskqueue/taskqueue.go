// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package taskqueue dispatches the coordinator's background work —
// per-contribution verification and the two periodic maintenance tasks —
// as github.com/RichardKnop/machinery tasks against a Redis broker
// (github.com/go-redis/redis via machinery's redis backend), giving the
// worker pool, retry, and periodic-task semantics spec §2/§4.4 describe in
// the abstract without hand-rolling a scheduler.
package taskqueue

import (
	"context"
	"fmt"

	"github.com/RichardKnop/machinery/v1"
	"github.com/RichardKnop/machinery/v1/config"
	machinerylog "github.com/RichardKnop/machinery/v1/log"
	"github.com/RichardKnop/machinery/v1/tasks"
	"github.com/cockroachdb/errors"

	"github.com/ethereum/zk-ceremony-coordinator/ceremony/timeout"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/verify"
	"github.com/ethereum/zk-ceremony-coordinator/internal/cerrors"
)

const (
	// TaskVerifyContribution is the name the Verification Worker is
	// dispatched under, matching spec §2's "server-side task triggered per
	// uploaded contribution".
	TaskVerifyContribution = "verifyContribution"
	// TaskSweepTimeouts backs the checkAndRemoveBlockingContributor
	// scheduled task (spec §6), registered as a machinery periodic task.
	TaskSweepTimeouts = "checkAndRemoveBlockingContributor"
	// TaskStartCeremony and TaskStopCeremony back the startCeremony/
	// stopCeremony scheduled tasks (spec §6).
	TaskStartCeremony = "startCeremony"
	TaskStopCeremony  = "stopCeremony"
)

// Server wraps a machinery server with the coordinator's task set
// registered, ready to either dispatch tasks (the API layer) or consume
// them (a worker process).
type Server struct {
	server *machinery.Server
}

// New builds a Server against a single Redis broker/backend at redisAddr
// and registers every coordinator task.
func New(redisAddr string, verifier *verify.Worker, sweeper *timeout.Controller, lifecycle Lifecycle) (*Server, error) {
	cnf := &config.Config{
		Broker:        "redis://" + redisAddr,
		DefaultQueue:  "ceremony_tasks",
		ResultBackend: "redis://" + redisAddr,
	}
	server, err := machinery.NewServer(cnf)
	if err != nil {
		return nil, cerrors.Internal(errors.Wrap(err, "taskqueue: building machinery server"))
	}

	tasksByName := map[string]any{
		TaskVerifyContribution: verifyTask(verifier),
		TaskSweepTimeouts:      sweepTask(sweeper),
		TaskStartCeremony:      lifecycle.StartCeremony,
		TaskStopCeremony:       lifecycle.StopCeremony,
	}
	if err := server.RegisterTasks(tasksByName); err != nil {
		return nil, cerrors.Internal(errors.Wrap(err, "taskqueue: registering tasks"))
	}
	return &Server{server: server}, nil
}

// Lifecycle is the pair of ceremony start/stop scheduled tasks (spec §6),
// supplied by the caller. No implementation exists in the api package;
// cmd/ceremonyd passes functions that return nil without changing state.
type Lifecycle struct {
	StartCeremony func(ctx context.Context, ceremonyID string) error
	StopCeremony  func(ctx context.Context, ceremonyID string) error
}

// DispatchVerify enqueues one VerifyContribution task, matching spec §4.3's
// "dispatched as a background task" rather than synchronous invocation.
func (s *Server) DispatchVerify(ctx context.Context, req verify.Request) error {
	sig := &tasks.Signature{
		Name: TaskVerifyContribution,
		Args: []tasks.Arg{
			{Type: "string", Value: req.CeremonyID},
			{Type: "string", Value: req.CircuitID},
			{Type: "string", Value: req.ParticipantID},
			{Type: "int64", Value: req.ContributionTimeInMillis},
			{Type: "string", Value: req.GithubUsername},
		},
	}
	if _, err := s.server.SendTaskWithContext(ctx, sig); err != nil {
		return cerrors.Internal(errors.Wrap(err, "taskqueue: dispatching verification"))
	}
	return nil
}

// RegisterPeriodicTasks wires the two periodic scheduled tasks (spec §6):
// startCeremony/stopCeremony every 30 minutes, checkAndRemoveBlockingContributor
// every 5 minutes.
func (s *Server) RegisterPeriodicTasks(ceremonyID string) error {
	if err := s.server.RegisterPeriodicTask("*/30 * * * *", "start-"+ceremonyID, &tasks.Signature{
		Name: TaskStartCeremony,
		Args: []tasks.Arg{{Type: "string", Value: ceremonyID}},
	}); err != nil {
		return cerrors.Internal(errors.Wrap(err, "taskqueue: registering startCeremony"))
	}
	if err := s.server.RegisterPeriodicTask("*/30 * * * *", "stop-"+ceremonyID, &tasks.Signature{
		Name: TaskStopCeremony,
		Args: []tasks.Arg{{Type: "string", Value: ceremonyID}},
	}); err != nil {
		return cerrors.Internal(errors.Wrap(err, "taskqueue: registering stopCeremony"))
	}
	if err := s.server.RegisterPeriodicTask("*/5 * * * *", "sweep-"+ceremonyID, &tasks.Signature{
		Name: TaskSweepTimeouts,
	}); err != nil {
		return cerrors.Internal(errors.Wrap(err, "taskqueue: registering checkAndRemoveBlockingContributor"))
	}
	return nil
}

// RunWorker blocks consuming tasks with concurrency workers, until ctx is
// cancelled.
func (s *Server) RunWorker(ctx context.Context, consumerTag string, concurrency int) error {
	worker := s.server.NewWorker(consumerTag, concurrency)
	errs := make(chan error, 1)
	go func() { errs <- worker.Launch() }()
	select {
	case <-ctx.Done():
		worker.Quit()
		return ctx.Err()
	case err := <-errs:
		return err
	}
}

// SilenceLogs routes machinery's own logger through the coordinator's
// structured logger instead of machinery's default stdlib logger.
func SilenceLogs(fatalf, errorf, infof func(string, ...any)) {
	machinerylog.Set(&bridgeLogger{fatalf: fatalf, errorf: errorf, infof: infof})
}

type bridgeLogger struct{ fatalf, errorf, infof func(string, ...any) }

func (b *bridgeLogger) Print(v ...any)                 { b.infof(fmt.Sprint(v...)) }
func (b *bridgeLogger) Printf(f string, v ...any)      { b.infof(f, v...) }
func (b *bridgeLogger) Println(v ...any)               { b.infof(fmt.Sprint(v...)) }
func (b *bridgeLogger) Fatal(v ...any)                 { b.fatalf(fmt.Sprint(v...)) }
func (b *bridgeLogger) Fatalf(f string, v ...any)      { b.fatalf(f, v...) }
func (b *bridgeLogger) Fatalln(v ...any)               { b.fatalf(fmt.Sprint(v...)) }
func (b *bridgeLogger) Panic(v ...any)                 { b.fatalf(fmt.Sprint(v...)) }
func (b *bridgeLogger) Panicf(f string, v ...any)      { b.fatalf(f, v...) }
func (b *bridgeLogger) Panicln(v ...any)               { b.fatalf(fmt.Sprint(v...)) }

func verifyTask(w *verify.Worker) func(ceremonyID, circuitID, participantID string, contributionTimeMillis int64, githubUsername string) error {
	return func(ceremonyID, circuitID, participantID string, contributionTimeMillis int64, githubUsername string) error {
		_, err := w.Verify(context.Background(), verify.Request{
			CeremonyID:               ceremonyID,
			CircuitID:                circuitID,
			ParticipantID:            participantID,
			ContributionTimeInMillis: contributionTimeMillis,
			GithubUsername:           githubUsername,
		})
		return err
	}
}

func sweepTask(c *timeout.Controller) func() error {
	return func() error {
		return c.SweepAllOpenCeremonies(context.Background())
	}
}
