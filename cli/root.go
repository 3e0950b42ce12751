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
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Commands builds the coapc root command and its full subcommand tree.
func Commands() *cobra.Command {
	root := &cobra.Command{
		Use:   "coapc",
		Short: "coapc drives CoAP requests against a remote endpoint",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			lvl, err := log.ParseLevel(logLevelStr)
			if err != nil {
				cliFatal(cmd, err)
			}
			log.SetLevel(lvl)
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	root.PersistentFlags().StringVarP(&connProfile, "conn", "c", "", "saved connection profile to use")
	root.PersistentFlags().StringVarP(&endpoint, "endpoint", "e", "", "host:port, overrides the profile's endpoint")
	root.PersistentFlags().IntVar(&pingEvery, "ping-every", 0, "keepalive interval in seconds, 0 keeps the profile's value (none without a profile)")
	root.PersistentFlags().Float64VarP(&timeout, "timeout", "t", 10.0, "request timeout in seconds")
	root.PersistentFlags().StringVarP(&logLevelStr, "loglevel", "l", "info", "log level")

	root.PersistentFlags().BoolVar(&flagObserve, "observe", false, "register an Observe relationship instead of a one-shot GET")
	root.PersistentFlags().StringVar(&flagPayload, "payload", "", "request payload, as a literal string")
	root.PersistentFlags().StringVar(&flagPayloadFile, "payload-file", "", "request payload, read from a file (takes precedence over --payload)")
	root.PersistentFlags().StringVar(&flagContentFmt, "content-format", "", "Content-Format option value")
	root.PersistentFlags().StringVar(&flagAccept, "accept", "", "Accept option value")
	root.PersistentFlags().BoolVar(&flagIfNoneMatch, "if-none-match", false, "set the If-None-Match option")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "dump the full decoded message for every delivery")

	root.AddCommand(getCmd())
	root.AddCommand(putCmd())
	root.AddCommand(postCmd())
	root.AddCommand(deleteCmd())
	root.AddCommand(profileCmd())

	return root
}
