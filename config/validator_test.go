// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.NodeID = "peer-a"
	cfg.ServoEndpoint = "tcp://127.0.0.1:6000"
	return cfg
}

func TestValidateAcceptsDefaultConfig(t *testing.T) {
	r := Validate(validConfig())
	require.Empty(t, r.Errors)
	require.True(t, r.OK(SoftMode))
}

func TestValidateRejectsOutOfRangePeerCount(t *testing.T) {
	cfg := validConfig()
	cfg.ExpectedPeerCount = 4
	r := Validate(cfg)
	require.NotEmpty(t, r.Errors)
	require.False(t, r.OK(SoftMode))
}

func TestValidateWarnsOnUnsetServoEndpointButDoesNotFailSoftMode(t *testing.T) {
	cfg := validConfig()
	cfg.ServoEndpoint = ""
	r := Validate(cfg)
	require.Empty(t, r.Errors)
	require.NotEmpty(t, r.Warnings)
	require.True(t, r.OK(SoftMode))
	require.False(t, r.OK(StrictMode))
}

func TestValidateRejectsEmptyNodeID(t *testing.T) {
	cfg := validConfig()
	cfg.NodeID = ""
	r := Validate(cfg)
	require.NotEmpty(t, r.Errors)
}
