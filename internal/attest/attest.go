// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

// Package attest is the optional attestation publisher adapter (spec §1):
// after a participant's contribution verifies, a human-readable attestation
// of its transcript hash can be published publicly so it can be
// independently audited. The default Publisher posts to the GitHub Gists
// REST API.
package attest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/ethereum/zk-ceremony-coordinator/internal/cerrors"
)

// Attestation is the content published for one contribution.
type Attestation struct {
	CircuitPrefix  string `json:"circuitPrefix"`
	ZkeyIndex      string `json:"zkeyIndex"`
	GithubUsername string `json:"githubUsername"`
	ZkeyHash       string `json:"zkeyHash"`
	TranscriptHash string `json:"transcriptHash"`
}

// Publisher publishes an Attestation somewhere durable and public.
type Publisher interface {
	Publish(ctx context.Context, a Attestation) (url string, err error)
}

// gistPublisher implements Publisher against the GitHub Gists REST API.
// Each Publish makes a single request with a 60-second HTTP client
// timeout; failed requests are not retried.
type gistPublisher struct {
	client      *http.Client
	token       string
	description string
}

// NewGistPublisher builds a Publisher that posts public gists using token
// (a GitHub personal access token with the gist scope).
func NewGistPublisher(token string) Publisher {
	return &gistPublisher{client: &http.Client{Timeout: 60 * time.Second}, token: token, description: "zk ceremony contribution attestation"}
}

type gistFile struct {
	Content string `json:"content"`
}

type gistRequest struct {
	Description string              `json:"description"`
	Public      bool                `json:"public"`
	Files       map[string]gistFile `json:"files"`
}

type gistResponse struct {
	HTMLURL string `json:"html_url"`
}

func (p *gistPublisher) Publish(ctx context.Context, a Attestation) (string, error) {
	content, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", cerrors.Internal(errors.Wrap(err, "attest: marshaling attestation"))
	}
	filename := fmt.Sprintf("%s_%s_attestation.json", a.CircuitPrefix, a.ZkeyIndex)
	body, err := json.Marshal(gistRequest{
		Description: p.description,
		Public:      true,
		Files:       map[string]gistFile{filename: {Content: string(content)}},
	})
	if err != nil {
		return "", cerrors.Internal(errors.Wrap(err, "attest: marshaling gist request"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.github.com/gists", bytes.NewReader(body))
	if err != nil {
		return "", cerrors.Internal(errors.Wrap(err, "attest: building request"))
	}
	req.Header.Set("Authorization", "token "+p.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", cerrors.Internal(errors.Wrap(err, "attest: publishing gist"))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", cerrors.Internal(errors.Newf("attest: gist API returned %d", resp.StatusCode))
	}

	var decoded gistResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", cerrors.Internal(errors.Wrap(err, "attest: decoding gist response"))
	}
	return decoded.HTMLURL, nil
}

// NoopPublisher is used when attestation publishing is disabled (spec §1's
// "optional").
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Attestation) (string, error) { return "", nil }
