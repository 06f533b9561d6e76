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

package handler_test

import (
	"context"
	"io"
	"net/http/httptest"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"

	"github.com/wallet-pulse/wp-api/data/database"
	"github.com/wallet-pulse/wp-api/handler"
)

var _ = Describe("GetPortfolioTransactions", func() {
	var (
		app    *fiber.App
		ctx    context.Context
		dbPool pgxmock.PgxConnIface
		pid    string
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()

		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		database.SetPool(dbPool)

		pid = uuid.New().String()

		app = fiber.New(fiber.Config{
			JSONEncoder: json.Marshal,
		})
		app.Use(func(c *fiber.Ctx) error {
			c.Locals("userID", "auth0|user1")
			return c.Next()
		})
		app.Get("/v1/portfolio/:id/transactions", handler.GetPortfolioTransactions)
	})

	AfterEach(func() {
		dbPool.Close(ctx)
	})

	Context("with a populated history", func() {
		BeforeEach(func() {
			dbPool.ExpectBegin()
			dbPool.ExpectExec("SET ROLE").WillReturnResult(pgconn.CommandTag("SET ROLE"))
			dbPool.ExpectQuery("select count").WillReturnRows(
				pgxmock.NewRows([]string{"total"}).AddRow(25))
			dbPool.ExpectQuery("SELECT array_to_json").WillReturnRows(
				pgxmock.NewRows([]string{"array_to_json"}).AddRow(`[{"kind": "receive"}]`))
			dbPool.ExpectCommit()
		})

		It("should round the page count up to cover a partial page", func() {
			resp, err := app.Test(httptest.NewRequest("GET", "/v1/portfolio/"+pid+"/transactions?page=2&page_size=10", nil))
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).To(BeNil())

			page := handler.TransactionPage{}
			Expect(json.Unmarshal(body, &page)).To(Succeed())
			Expect(page.Page).To(Equal(2))
			Expect(page.PageSize).To(Equal(10))
			Expect(page.Total).To(Equal(25))
			Expect(page.TotalPages).To(Equal(3))
			Expect(string(page.Transactions)).To(MatchJSON(`[{"kind": "receive"}]`))
		})

		It("should not add a page when the total divides evenly", func() {
			resp, err := app.Test(httptest.NewRequest("GET", "/v1/portfolio/"+pid+"/transactions?page_size=5", nil))
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).To(BeNil())

			page := handler.TransactionPage{}
			Expect(json.Unmarshal(body, &page)).To(Succeed())
			Expect(page.Page).To(Equal(1))
			Expect(page.TotalPages).To(Equal(5))
		})
	})

	Context("with a bad request", func() {
		It("should reject a portfolio id that is not a uuid", func() {
			resp, err := app.Test(httptest.NewRequest("GET", "/v1/portfolio/not-a-uuid/transactions", nil))
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("should reject a page before the first", func() {
			resp, err := app.Test(httptest.NewRequest("GET", "/v1/portfolio/"+pid+"/transactions?page=0", nil))
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("should reject an unknown filter operator", func() {
			resp, err := app.Test(httptest.NewRequest("GET", "/v1/portfolio/"+pid+"/transactions?kind=matches.swap", nil))
			Expect(err).To(BeNil())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})
})
