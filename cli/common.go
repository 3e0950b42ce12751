/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

// Package cli is the coapc command-line front end: connection profile
// management plus GET/PUT/POST/DELETE subcommands (with an --observe
// flag) built on the client package.
package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/runtimeco/coapc/cliconfig"
	"github.com/runtimeco/coapc/client"
)

// Flags shared by every subcommand, bound as persistent flags on the
// root command.
var (
	connProfile string
	endpoint    string
	pingEvery   int
	timeout     float64
	logLevelStr string
)

var globalConn *client.Connection

// cliFatal prints cmd's usage (if given) followed by err, then exits
// with a non-zero status. Mirrors the teacher's fail-fast usage helper.
func cliFatal(cmd *cobra.Command, err error) {
	if cmd != nil {
		cmd.Usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
	}
	os.Exit(1)
}

// resolveSettings merges the named connection profile (if any) with
// this invocation's flag overrides: flags win over the profile.
func resolveSettings() (client.Settings, error) {
	settings := client.Settings{Transport: "udp"}

	if connProfile != "" {
		mgr, err := cliconfig.NewManager()
		if err != nil {
			return settings, err
		}
		p, err := mgr.Get(connProfile)
		if err != nil {
			return settings, err
		}
		settings.Endpoint = p.Endpoint
		settings.PingEverySeconds = p.PingEvery
		if p.PSKIdentity != "" || p.PSKKey != "" {
			key, err := hexToBytes(p.PSKKey)
			if err != nil {
				return settings, err
			}
			settings.Security = &client.Security{
				PSKIdentity: p.PSKIdentity,
				PSKKey:      key,
				CipherSuite: p.PSKCipherSuite,
			}
		}
	}

	if endpoint != "" {
		settings.Endpoint = endpoint
	}
	if pingEvery != 0 {
		settings.PingEverySeconds = pingEvery
	}
	if settings.Endpoint == "" {
		return settings, fmt.Errorf("no endpoint: pass --endpoint or --conn a saved profile")
	}
	return settings, nil
}

func hexToBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		v, err := strconv.ParseUint(s[2*i:2*i+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hex byte in %q: %w", s, err)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// openConn resolves settings and opens (or reuses) the process-wide
// Connection for this invocation.
func openConn() (*client.Connection, error) {
	if globalConn != nil {
		return globalConn, nil
	}
	settings, err := resolveSettings()
	if err != nil {
		return nil, err
	}
	c, err := client.Open(settings)
	if err != nil {
		return nil, err
	}
	globalConn = c
	return c, nil
}

// splitPath turns "/a/b/c" into ["a","b","c"], the Uri-Path segments
// DynamicQueue expects.
func splitPath(uri string) []string {
	trimmed := strings.Trim(uri, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// parseUintFlag converts a flag string to a *uint16, for optional
// Content-Format/Accept values; cast.ToUint16E gives a consistent error
// message across every flag that needs this.
func parseUintFlag(s string) (*uint16, error) {
	if s == "" {
		return nil, nil
	}
	v, err := cast.ToUint16E(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
