// Copyright 2025-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wallet-pulse/wp-api/common"
	"github.com/wallet-pulse/wp-api/middleware"
)

var apikeyTTL time.Duration

func init() {
	apikeyCmd.Flags().DurationVar(&apikeyTTL, "ttl", 0, "lifetime of the key (e.g. 8760h); 0 never expires")
	rootCmd.AddCommand(apikeyCmd)
}

var apikeyCmd = &cobra.Command{
	Use:        "apikey [flags] UserID",
	Short:      "Mint an encrypted apikey for a user",
	Long:       `Mint an apikey that authenticates as the given user against the HTTP API. The key is encrypted with the configured secret key and printed to stdout; pass it as ?apikey= or in the X-Wp-Api header.`,
	Args:       cobra.ExactArgs(1),
	ArgAliases: []string{"UserID"},
	Run: func(_ *cobra.Command, args []string) {
		common.SetupLogging()

		token := middleware.APIToken{
			UserID: args[0],
		}
		if apikeyTTL > 0 {
			token.Expires = time.Now().Add(apikeyTTL).Unix()
		}

		jsonBytes, err := json.Marshal(token)
		if err != nil {
			log.Fatal().Err(err).Msg("could not serialize apikey token")
		}

		cipherText, err := common.Encrypt(jsonBytes)
		if err != nil {
			log.Fatal().Err(err).Msg("could not encrypt apikey token; is secret_key set?")
		}

		fmt.Println(base64.URLEncoding.EncodeToString(cipherText))
	},
}
