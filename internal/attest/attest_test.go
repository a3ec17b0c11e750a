// Copyright 2024 The zk-ceremony-coordinator Authors. SPDX-License-Identifier: LGPL-3.0-only.

package attest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoopPublisherReturnsNoURL(t *testing.T) {
	url, err := NoopPublisher{}.Publish(context.Background(), Attestation{CircuitPrefix: "circuit1", ZkeyIndex: "00001"})
	require.NoError(t, err)
	require.Empty(t, url)
}
