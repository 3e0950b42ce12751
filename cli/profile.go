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

package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/runtimeco/coapc/cliconfig"
)

func profileAddRunCmd(cmd *cobra.Command, args []string) {
	if len(args) == 0 {
		cliFatal(cmd, fmt.Errorf("need a connection profile name"))
	}

	mgr, err := cliconfig.NewManager()
	if err != nil {
		cliFatal(cmd, err)
	}

	p := &cliconfig.Profile{Name: args[0]}
	for _, vdef := range args[1:] {
		kv := strings.SplitN(vdef, "=", 2)
		if len(kv) != 2 {
			cliFatal(cmd, fmt.Errorf("expected key=value, got %q", vdef))
		}
		switch kv[0] {
		case "endpoint":
			p.Endpoint = kv[1]
		case "ping_every":
			v, err := cast.ToIntE(kv[1])
			if err != nil {
				cliFatal(cmd, err)
			}
			p.PingEvery = v
		case "psk_identity":
			p.PSKIdentity = kv[1]
		case "psk_key":
			p.PSKKey = kv[1]
		case "psk_cipher_suite":
			p.PSKCipherSuite = kv[1]
		default:
			cliFatal(cmd, fmt.Errorf("unknown variable %q", kv[0]))
		}
	}

	if p.Endpoint == "" {
		cliFatal(cmd, fmt.Errorf("must specify endpoint=host:port"))
	}

	if err := mgr.Save(p); err != nil {
		cliFatal(cmd, err)
	}
	fmt.Printf(color.BlueString("connection profile %s saved\n"), p.Name)
}

func profileShowRunCmd(cmd *cobra.Command, args []string) {
	mgr, err := cliconfig.NewManager()
	if err != nil {
		cliFatal(cmd, err)
	}

	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	found := false
	for _, p := range mgr.List() {
		if name != "" && p.Name != name {
			continue
		}
		found = true
		fmt.Printf("  %s: endpoint=%s, ping_every=%ds\n", p.Name, p.Endpoint, p.PingEvery)
	}
	if !found {
		fmt.Println("no connection profiles found")
	}
}

func profileDeleteRunCmd(cmd *cobra.Command, args []string) {
	if len(args) == 0 {
		cliFatal(cmd, fmt.Errorf("need a connection profile name"))
	}
	mgr, err := cliconfig.NewManager()
	if err != nil {
		cliFatal(cmd, err)
	}
	if err := mgr.Delete(args[0]); err != nil {
		cliFatal(cmd, err)
	}
	fmt.Printf(color.BlueString("connection profile %s deleted\n"), args[0])
}

func profileCmd() *cobra.Command {
	profCmd := &cobra.Command{
		Use:   "conn",
		Short: "Manage coapc connection profiles",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	profCmd.AddCommand(&cobra.Command{
		Use:   "add <name> <varname=value ...>",
		Short: "Add a connection profile",
		Example: "  coapc conn add lab endpoint=192.168.1.50:5683 ping_every=30",
		Run:   profileAddRunCmd,
	})
	profCmd.AddCommand(&cobra.Command{
		Use:   "show [name]",
		Short: "Show one or every connection profile",
		Run:   profileShowRunCmd,
	})
	profCmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a connection profile",
		Run:   profileDeleteRunCmd,
	})

	return profCmd
}
