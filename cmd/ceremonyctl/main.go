// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Command ceremonyctl is the coordinator-only operational CLI: SetupCeremony,
// CreateBucket, FinalizeCircuit, FinalizeCeremony. Prompts/spinners are
// explicitly out of scope (spec §1's CLI-surface non-goal), so every
// subcommand is flag-driven and non-interactive, the same shape as
// cmd/geth's one-shot administrative subcommands (e.g. `geth account new`).
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/urfave/cli/v2"

	"github.com/ethereum/zk-ceremony-coordinator/api"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/finalize"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/queue"
	"github.com/ethereum/zk-ceremony-coordinator/ceremony/state"
	"github.com/ethereum/zk-ceremony-coordinator/internal/zkcrypto"
	objects3 "github.com/ethereum/zk-ceremony-coordinator/store/object/s3"
	recordmongo "github.com/ethereum/zk-ceremony-coordinator/store/record/mongo"
)

var (
	mongoURIFlag = &cli.StringFlag{Name: "mongo-uri", Value: "mongodb://localhost:27017"}
	mongoDBFlag  = &cli.StringFlag{Name: "mongo-database", Value: "ceremony"}
	s3RegionFlag = &cli.StringFlag{Name: "s3-region", Value: "us-east-1"}
	widthFlag    = &cli.IntFlag{Name: "zkey-index-width", Value: 5}
)

func main() {
	app := &cli.App{
		Name:  "ceremonyctl",
		Usage: "coordinator-only operational commands for the ceremony coordinator",
		Commands: []*cli.Command{
			setupCeremonyCommand,
			createBucketCommand,
			finalizeCircuitCommand,
			finalizeCeremonyCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ceremonyctl:", err)
		os.Exit(1)
	}
}

func ceremonyAPI(ctx context.Context, c *cli.Context) (*api.CeremonyAPI, error) {
	records, err := recordmongo.New(ctx, c.String("mongo-uri"), c.String("mongo-database"))
	if err != nil {
		return nil, err
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.String("s3-region")))
	if err != nil {
		return nil, err
	}
	objects := objects3.New(s3.NewFromConfig(awsCfg))
	q := queue.New(records)
	return api.NewCeremonyAPI(api.Config{
		Records: records, Objects: objects, Machine: state.New(records, q), Queue: q,
		BucketForCeremony: func(prefix string) string { return prefix },
	}), nil
}

func coordinatorAPI(ctx context.Context, c *cli.Context) (*api.CoordinatorAPI, error) {
	records, err := recordmongo.New(ctx, c.String("mongo-uri"), c.String("mongo-database"))
	if err != nil {
		return nil, err
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.String("s3-region")))
	if err != nil {
		return nil, err
	}
	objects := objects3.New(s3.NewFromConfig(awsCfg))
	f := finalize.New(finalize.Config{
		Records: records, Objects: objects, Engine: zkcrypto.NewGnarkEngine(),
		BucketForCeremony: func(prefix string) string { return prefix }, ZkeyIndexWidth: c.Int("zkey-index-width"),
	})
	return api.NewCoordinatorAPI(f), nil
}

var setupCeremonyCommand = &cli.Command{
	Name:  "setup-ceremony",
	Usage: "create a new ceremony and its circuits",
	Flags: []cli.Flag{
		mongoURIFlag, mongoDBFlag, s3RegionFlag,
		&cli.StringFlag{Name: "prefix", Required: true},
		&cli.StringFlag{Name: "title"},
		&cli.StringFlag{Name: "description"},
		&cli.Int64Flag{Name: "start-date", Required: true},
		&cli.Int64Flag{Name: "end-date", Required: true},
		&cli.IntFlag{Name: "penalty-minutes", Value: 10},
		&cli.StringSliceFlag{Name: "circuit-prefix", Required: true, Usage: "repeatable, one per circuit, in sequence order"},
	},
	Action: func(c *cli.Context) error {
		a, err := ceremonyAPI(c.Context, c)
		if err != nil {
			return err
		}
		prefixes := c.StringSlice("circuit-prefix")
		circuits := make([]api.CircuitSpec, len(prefixes))
		for i, p := range prefixes {
			circuits[i] = api.CircuitSpec{Prefix: p, SequencePosition: i + 1, TimeoutMechanism: ceremony.TimeoutDynamic}
		}
		id, err := a.SetupCeremony(c.Context, c.String("prefix"), c.String("title"), c.String("description"),
			c.Int64("start-date"), c.Int64("end-date"), ceremony.Groth16Phase2, ceremony.TimeoutDynamic,
			c.Int("penalty-minutes"), circuits)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var createBucketCommand = &cli.Command{
	Name:  "create-bucket",
	Usage: "provision a ceremony's artifact bucket",
	Flags: []cli.Flag{mongoURIFlag, mongoDBFlag, s3RegionFlag, &cli.StringFlag{Name: "ceremony-id", Required: true}},
	Action: func(c *cli.Context) error {
		a, err := ceremonyAPI(c.Context, c)
		if err != nil {
			return err
		}
		bucket, err := a.CreateBucket(c.Context, c.String("ceremony-id"))
		if err != nil {
			return err
		}
		fmt.Println(bucket)
		return nil
	},
}

var finalizeCircuitCommand = &cli.Command{
	Name:  "finalize-circuit",
	Usage: "run a circuit's beacon contribution and export its final artifacts",
	Flags: []cli.Flag{
		mongoURIFlag, mongoDBFlag, s3RegionFlag, widthFlag,
		&cli.StringFlag{Name: "ceremony-id", Required: true},
		&cli.StringFlag{Name: "circuit-id", Required: true},
		&cli.StringFlag{Name: "beacon-hex", Required: true, Usage: "hex-encoded public randomness"},
	},
	Action: func(c *cli.Context) error {
		a, err := coordinatorAPI(c.Context, c)
		if err != nil {
			return err
		}
		beacon, err := hex.DecodeString(c.String("beacon-hex"))
		if err != nil {
			return fmt.Errorf("invalid --beacon-hex: %w", err)
		}
		return a.FinalizeCircuit(c.Context, c.String("ceremony-id"), c.String("circuit-id"), beacon)
	},
}

var finalizeCeremonyCommand = &cli.Command{
	Name:  "finalize-ceremony",
	Usage: "flip a ceremony to FINALIZED once every circuit is done",
	Flags: []cli.Flag{mongoURIFlag, mongoDBFlag, s3RegionFlag, widthFlag, &cli.StringFlag{Name: "ceremony-id", Required: true}},
	Action: func(c *cli.Context) error {
		a, err := coordinatorAPI(c.Context, c)
		if err != nil {
			return err
		}
		return a.FinalizeCeremony(c.Context, c.String("ceremony-id"))
	},
}
