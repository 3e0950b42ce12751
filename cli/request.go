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
	"io/ioutil"
	"os"
	"os/signal"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"github.com/fatih/structs"
	"github.com/spf13/cobra"

	"github.com/runtimeco/coapc/coap"
	"github.com/runtimeco/coapc/client"
)

var (
	flagObserve     bool
	flagPayload     string
	flagPayloadFile string
	flagContentFmt  string
	flagAccept      string
	flagIfNoneMatch bool
	flagDebug       bool
	flagProgress    bool
)

func requestPayload(cmd *cobra.Command) []byte {
	if flagPayloadFile != "" {
		b, err := ioutil.ReadFile(flagPayloadFile)
		if err != nil {
			cliFatal(cmd, err)
		}
		return b
	}
	return []byte(flagPayload)
}

func buildRequestParams(cmd *cobra.Command, method coap.Code, msgType coap.Type, uri string) client.RequestParams {
	contentFmt, err := parseUintFlag(flagContentFmt)
	if err != nil {
		cliFatal(cmd, err)
	}
	accept, err := parseUintFlag(flagAccept)
	if err != nil {
		cliFatal(cmd, err)
	}

	return client.RequestParams{
		Method:      method,
		Type:        msgType,
		Observe:     flagObserve,
		Uri:         client.Uri{Paths: splitPath(uri)},
		IfNoneMatch: flagIfNoneMatch,
		ContentFmt:  contentFmt,
		Accept:      accept,
		Payload:     requestPayload(cmd),
	}
}

func runRequest(cmd *cobra.Command, args []string, method coap.Code) {
	if len(args) == 0 {
		cliFatal(cmd, fmt.Errorf("need a resource path, e.g. /sensors/temp"))
	}

	c, err := openConn()
	if err != nil {
		cliFatal(cmd, err)
	}

	params := buildRequestParams(cmd, method, coap.Confirmable, args[0])
	st, err := c.Request(params)
	if err != nil {
		cliFatal(cmd, err)
	}
	drainStream(st, len(params.Payload))
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <path>",
		Short:   "GET a CoAP resource",
		Example: "  coapc get --observe /sensors/temp",
		Run:     func(cmd *cobra.Command, args []string) { runRequest(cmd, args, coap.CodeGET) },
	}
}

func putCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "put <path>",
		Short:   "PUT a CoAP resource, blockwise if the payload doesn't fit one block",
		Example: "  coapc put --payload-file firmware.bin --progress /fs/image",
		Run:     func(cmd *cobra.Command, args []string) { runRequest(cmd, args, coap.CodePUT) },
	}
	cmd.Flags().BoolVar(&flagProgress, "progress", false, "show a Block1 upload progress bar")
	return cmd
}

func postCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post <path>",
		Short: "POST to a CoAP resource",
		Run:   func(cmd *cobra.Command, args []string) { runRequest(cmd, args, coap.CodePOST) },
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <path>",
		Short: "DELETE a CoAP resource",
		Run:   func(cmd *cobra.Command, args []string) { runRequest(cmd, args, coap.CodeDELETE) },
	}
}

func drainStream(st *client.Stream, payloadLen int) {
	var bar *pb.ProgressBar
	if flagProgress && payloadLen > 0 {
		bar = pb.StartNew(payloadLen)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	var deadline <-chan time.Time
	if !flagObserve && timeout > 0 {
		deadline = time.After(time.Duration(timeout * float64(time.Second)))
	}

	for {
		select {
		case rm, ok := <-st.Results():
			if !ok {
				return
			}
			if rm.Done {
				if bar != nil {
					bar.Finish()
				}
				if rm.Err != nil {
					cliFatal(nil, rm.Err)
				}
				return
			}
			printDelivery(rm, bar)

		case <-deadline:
			st.Cancel()
			cliFatal(nil, fmt.Errorf("timed out after %.1fs waiting for a response", timeout))
			return

		case <-sigCh:
			st.Cancel()
			return
		}
	}
}

func printDelivery(rm client.ResponseMessage, bar *pb.ProgressBar) {
	m := rm.Message
	if bar != nil {
		if bv, present, err := m.Options.Block1(); present && err == nil {
			bar.SetCurrent(int64(bv.Num+1) * int64(bv.Size()))
			return
		}
	}

	fmt.Printf(color.BlueString("%s")+" %s\n", m.Code.String(), time.Now().Format(time.RFC3339))
	if flagDebug {
		fmt.Printf("%+v\n", structs.Map(m))
	}
	if len(m.Payload) > 0 {
		fmt.Printf("%s\n", m.Payload)
	}
}
