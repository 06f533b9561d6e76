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
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wallet-pulse/wp-api/common"
	"github.com/wallet-pulse/wp-api/data"
	"github.com/wallet-pulse/wp-api/data/database"
	"github.com/wallet-pulse/wp-api/jwks"
	"github.com/wallet-pulse/wp-api/messenger"
	"github.com/wallet-pulse/wp-api/middleware"
	"github.com/wallet-pulse/wp-api/observability/opentelemetry"
	"github.com/wallet-pulse/wp-api/portfolio"
	"github.com/wallet-pulse/wp-api/router"
	"github.com/wallet-pulse/wp-api/synccron"
)

func init() {
	if err := viper.BindEnv("server.port", "PORT"); err != nil {
		log.Panic().Err(err).Msg("could not bind server.port")
	}
	serveCmd.Flags().IntP("port", "p", 3000, "Port to run application server on")
	if err := viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port")); err != nil {
		log.Panic().Err(err).Msg("could not bind server.port")
	}

	if err := viper.BindEnv("prices.refresh_minutes", "PRICE_REFRESH_MINUTES"); err != nil {
		log.Panic().Err(err).Msg("could not bind prices.refresh_minutes")
	}
	serveCmd.Flags().Int("price-refresh-minutes", 15, "Minutes between token price refreshes")
	if err := viper.BindPFlag("prices.refresh_minutes", serveCmd.Flags().Lookup("price-refresh-minutes")); err != nil {
		log.Panic().Err(err).Msg("could not bind prices.refresh_minutes")
	}

	if err := viper.BindEnv("sync.sweep_minutes", "SYNC_SWEEP_MINUTES"); err != nil {
		log.Panic().Err(err).Msg("could not bind sync.sweep_minutes")
	}
	serveCmd.Flags().Int("sync-sweep-minutes", 10, "Minutes between checks for portfolios whose sync schedule is due")
	if err := viper.BindPFlag("sync.sweep_minutes", serveCmd.Flags().Lookup("sync-sweep-minutes")); err != nil {
		log.Panic().Err(err).Msg("could not bind sync.sweep_minutes")
	}

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the wp-api server",
	Long:  `Run HTTP server that implements the Wallet Pulse API`,
	Run: func(_ *cobra.Command, _ []string) {
		ctx := context.Background()

		if Profile {
			f, err := os.Create("profile.out")
			if err != nil {
				log.Panic().Err(err).Msg("could not create profile.out")
			}
			if err := pprof.StartCPUProfile(f); err != nil {
				log.Panic().Err(err).Msg("could not start cpu profile")
			}
			defer pprof.StopCPUProfile()
		}

		if Trace {
			f, err := os.Create("trace.out")
			if err != nil {
				log.Panic().Err(err).Msg("could not create trace output file")
			}
			defer func() {
				if err := f.Close(); err != nil {
					log.Error().Err(err).Msg("could not close trace file")
				}
			}()

			if err := trace.Start(f); err != nil {
				log.Panic().Err(err).Msg("could not start trace")
			}
			defer trace.Stop()
		}

		common.SetupLogging()
		common.SetupCache()
		log.Info().Msg("initialized logging")

		// setup open telemetry tracing
		if viper.GetString("otlp.endpoint") != "" {
			shutdownTracer, err := opentelemetry.Setup()
			if err != nil {
				log.Error().Err(err).Msg("could not setup tracing")
			} else {
				defer func() {
					if err := shutdownTracer(ctx); err != nil {
						log.Error().Err(err).Msg("could not shutdown tracer")
					}
				}()
			}
		}

		// setup database
		if err := database.Connect(ctx); err != nil {
			log.Panic().Err(err).Msg("could not connect to database")
		}

		// initialize data framework
		data.GetManagerInstance()
		log.Info().Msg("initialized data framework")

		// connect to NATS so ?queue=true sync requests can be published; the
		// API still works without it
		if err := messenger.Initialize(); err != nil {
			log.Warn().Err(err).Msg("NATS unavailable; queued syncs are disabled")
		}

		app := fiber.New(fiber.Config{
			JSONEncoder: json.Marshal,
		})

		// shutdown cleanly on interrupt
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt)
		go func() {
			sig := <-quit
			fmt.Printf("Received signal: '%s'; shutting down...\n", sig.String())
			if err := app.Shutdown(); err != nil {
				log.Error().Err(err).Msg("app shutdown failed")
			}
		}()

		corsConfig := cors.Config{
			AllowOrigins: viper.GetString("server.cors_origins"),
			AllowHeaders: "*",
			AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH",
		}
		app.Use(cors.New(corsConfig))

		app.Use(middleware.NewLogger())

		// configure authentication
		jwksAutoRefresh, jwksURL := jwks.SetupJWKS()

		router.SetupRoutes(app, jwksAutoRefresh, jwksURL)

		// background jobs: price refresh, sync sweep, snapshot retention
		scheduler := gocron.NewScheduler(common.GetTimezone())
		if _, err := scheduler.Every(viper.GetInt("prices.refresh_minutes")).Minutes().Do(refreshPrices); err != nil {
			log.Error().Err(err).Msg("could not schedule price refresh")
		}
		if _, err := scheduler.Every(viper.GetInt("sync.sweep_minutes")).Minutes().Do(syncSweep); err != nil {
			log.Error().Err(err).Msg("could not schedule sync sweep")
		}
		if _, err := scheduler.Every(1).Day().At("03:30").Do(purgeSnapshots); err != nil {
			log.Error().Err(err).Msg("could not schedule snapshot purge")
		}
		scheduler.StartAsync()

		if err := app.Listen(fmt.Sprintf(":%s", viper.GetString("server.port"))); err != nil {
			log.Panic().Err(err).Msg("could not start server")
		}

		scheduler.Stop()

		// anything still open here leaked from a handler or job
		database.LogOpenTransactions()
	},
}

func refreshPrices() {
	ctx := context.Background()
	if err := data.GetManagerInstance().RefreshPrices(ctx); err != nil {
		log.Error().Err(err).Msg("scheduled price refresh failed")
	}
}

// syncSweep reconciles every portfolio whose sync schedule has come due since
// it last synced
func syncSweep() {
	ctx := context.Background()
	now := time.Now()

	users, err := database.GetUsers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("could not list users for sync sweep")
		return
	}

	for _, userID := range users {
		portfolios, err := portfolio.LoadFromDB(ctx, []string{}, userID, data.GetManagerInstance())
		if err != nil {
			log.Error().Err(err).Str("UserID", userID).Msg("could not load portfolios for sync sweep")
			continue
		}

		for _, pm := range portfolios {
			subLog := log.With().Str("UserID", userID).Str("PortfolioID", pm.Portfolio.ID.String()).Logger()

			sc, err := synccron.New(pm.Portfolio.SyncSchedule)
			if err != nil {
				subLog.Warn().Err(err).Str("SyncSchedule", pm.Portfolio.SyncSchedule).Msg("portfolio has malformed sync schedule; skipping")
				continue
			}

			if !sc.Due(pm.Portfolio.LastSynced, now) {
				continue
			}

			result, err := pm.Reconcile(ctx)
			if err != nil {
				subLog.Error().Stack().Err(err).Msg("scheduled sync failed")
				continue
			}
			subLog.Info().Object("SyncResult", result).Msg("scheduled sync finished")
		}
	}
}

// purgeSnapshots deletes daily valuations older than the retention window
func purgeSnapshots() {
	ctx := context.Background()
	retentionDays := viper.GetInt("database.snapshot_retention_days")
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	users, err := database.GetUsers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("could not list users for snapshot purge")
		return
	}

	for _, userID := range users {
		subLog := log.With().Str("UserID", userID).Logger()

		trx, err := database.TrxForUser(ctx, userID)
		if err != nil {
			subLog.Error().Stack().Err(err).Msg("could not get database transaction")
			continue
		}

		tag, err := trx.Exec(ctx, "DELETE FROM portfolio_snapshots WHERE event_date < $1", cutoff)
		if err != nil {
			subLog.Error().Stack().Err(err).Msg("could not purge snapshots")
			if err := trx.Rollback(ctx); err != nil {
				subLog.Error().Stack().Err(err).Msg("could not rollback transaction")
			}
			continue
		}

		if err := trx.Commit(ctx); err != nil {
			subLog.Error().Stack().Err(err).Msg("could not commit transaction")
			continue
		}

		if tag.RowsAffected() > 0 {
			subLog.Info().Int64("NumPurged", tag.RowsAffected()).Time("Cutoff", cutoff).Msg("purged expired snapshots")
		}
	}
}
