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
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/wallet-pulse/wp-api/common"
)

var Profile bool
var Trace bool

func init() {
	// secret key used for api token encryption
	if err := viper.BindEnv("secret_key", "WP_SECRET"); err != nil {
		log.Panic().Err(err).Msg("could not bind secret_key")
	}
	rootCmd.PersistentFlags().String("secret-key", "", "Secret encryption key")
	if err := viper.BindPFlag("secret_key", rootCmd.PersistentFlags().Lookup("secret-key")); err != nil {
		log.Panic().Err(err).Msg("could not bind secret_key")
	}

	// Auth0
	if err := viper.BindEnv("auth0.secret", "AUTH0_SECRET"); err != nil {
		log.Panic().Err(err).Msg("could not bind auth0.secret")
	}
	rootCmd.PersistentFlags().String("auth0-secret", "", "Auth0 secret")
	if err := viper.BindPFlag("auth0.secret", rootCmd.PersistentFlags().Lookup("auth0-secret")); err != nil {
		log.Panic().Err(err).Msg("could not bind auth0.secret")
	}

	if err := viper.BindEnv("auth0.client_id", "AUTH0_CLIENT_ID"); err != nil {
		log.Panic().Err(err).Msg("could not bind auth0.client_id")
	}
	rootCmd.PersistentFlags().String("auth0-client-id", "", "Auth0 client id")
	if err := viper.BindPFlag("auth0.client_id", rootCmd.PersistentFlags().Lookup("auth0-client-id")); err != nil {
		log.Panic().Err(err).Msg("could not bind auth0.client_id")
	}

	if err := viper.BindEnv("auth0.domain", "AUTH0_DOMAIN"); err != nil {
		log.Panic().Err(err).Msg("could not bind auth0.domain")
	}
	rootCmd.PersistentFlags().String("auth0-domain", "", "Auth0 domain")
	if err := viper.BindPFlag("auth0.domain", rootCmd.PersistentFlags().Lookup("auth0-domain")); err != nil {
		log.Panic().Err(err).Msg("could not bind auth0.domain")
	}

	// Database
	if err := viper.BindEnv("database.url", "DATABASE_URL"); err != nil {
		log.Panic().Err(err).Msg("could not bind database.url")
	}
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	if err := viper.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("database-url")); err != nil {
		log.Panic().Err(err).Msg("could not bind database.url")
	}

	// NATS
	if err := viper.BindEnv("nats.server", "NATS_URL"); err != nil {
		log.Panic().Err(err).Msg("could not bind nats.server")
	}
	rootCmd.PersistentFlags().String("nats-server", "nats://127.0.0.1:4222", "NATS server url")
	if err := viper.BindPFlag("nats.server", rootCmd.PersistentFlags().Lookup("nats-server")); err != nil {
		log.Panic().Err(err).Msg("could not bind nats.server")
	}

	// Logging configuration
	if err := viper.BindEnv("log.level", "WP_LOG_LEVEL"); err != nil {
		log.Panic().Err(err).Msg("could not bind log.level")
	}
	rootCmd.PersistentFlags().String("log-level", "warning", "Logging level")
	if err := viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		log.Panic().Err(err).Msg("could not bind log.level")
	}

	if err := viper.BindEnv("log.report_caller", "WP_LOG_REPORT_CALLER"); err != nil {
		log.Panic().Err(err).Msg("could not bind log.report_caller")
	}
	rootCmd.PersistentFlags().Bool("log-report-caller", false, "Log function name that called log statement")
	if err := viper.BindPFlag("log.report_caller", rootCmd.PersistentFlags().Lookup("log-report-caller")); err != nil {
		log.Panic().Err(err).Msg("could not bind log.report_caller")
	}

	if err := viper.BindEnv("log.output", "WP_LOG_OUTPUT"); err != nil {
		log.Panic().Err(err).Msg("could not bind log.output")
	}
	rootCmd.PersistentFlags().String("log-output", "stdout", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	if err := viper.BindPFlag("log.output", rootCmd.PersistentFlags().Lookup("log-output")); err != nil {
		log.Panic().Err(err).Msg("could not bind log.output")
	}

	if err := viper.BindEnv("log.pretty", "WP_LOG_PRETTY"); err != nil {
		log.Panic().Err(err).Msg("could not bind log.pretty")
	}
	rootCmd.PersistentFlags().Bool("log-pretty", false, "Print logs in human readable form instead of JSON")
	if err := viper.BindPFlag("log.pretty", rootCmd.PersistentFlags().Lookup("log-pretty")); err != nil {
		log.Panic().Err(err).Msg("could not bind log.pretty")
	}

	rootCmd.PersistentFlags().BoolVar(&Profile, "cpu-profile", false, "Run pprof and save in profile.out")
	rootCmd.PersistentFlags().BoolVar(&Trace, "trace", false, "Trace program execution and save in trace.out")
}

var rootCmd = &cobra.Command{
	Use:     "wpapi",
	Version: common.CurrentVersion.String(),
	Short:   "Wallet Pulse tracks crypto portfolios across chains",
	Long:    `An API server and sync engine that values multi-chain crypto wallets, records their transaction history, and measures portfolio risk.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
