// Copyright 2025-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import (
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate brings the database schema up to the most recent version. Migration
// files are embedded in the binary so no external state is required.
func Migrate() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not read embedded migrations")
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, viper.GetString("database.url"))
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not create migration instance")
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			log.Warn().Err(srcErr).Msg("could not close migration source")
		}
		if dbErr != nil {
			log.Warn().Err(dbErr).Msg("could not close migration database connection")
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Error().Stack().Err(err).Msg("could not apply migrations")
		return err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.Warn().Err(err).Msg("could not read migration version")
		return nil
	}

	log.Info().Uint("Version", version).Bool("Dirty", dirty).Msg("database schema is up-to-date")
	return nil
}
