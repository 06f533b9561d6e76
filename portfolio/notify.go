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

package portfolio

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/spf13/viper"
	"github.com/wallet-pulse/wp-api/common"
)

type NotificationFrequency int32

const (
	NotifyThreshold NotificationFrequency = 0x00000001
	NotifyDaily     NotificationFrequency = 0x00000010
	NotifyWeekly    NotificationFrequency = 0x00000100
	NotifyMonthly   NotificationFrequency = 0x00001000
)

type Notification struct {
	ForDate      time.Time
	ForFrequency NotificationFrequency
	Portfolio    *Portfolio
	Positions    []*AssetPosition
	PeriodReturn float64
	TotalReturn  float64
}

func (nf NotificationFrequency) String() string {
	switch nf {
	case NotifyThreshold:
		return "Threshold"
	case NotifyDaily:
		return "Daily"
	case NotifyWeekly:
		return "Weekly"
	case NotifyMonthly:
		return "Monthly"
	default:
		return "Unknown NotificationFrequency"
	}
}

// RequestedNotificationsForDate evaluates a portfolios notifications against
// the requested date and returns those summaries that are due on that date.
// Crypto markets have no trading calendar: daily summaries go out every day,
// weekly summaries on Sunday, and monthly summaries on the last day of the
// month.
func (pm *Model) RequestedNotificationsForDate(forDate time.Time) []NotificationFrequency {
	frequencies := make([]NotificationFrequency, 0)
	notificationNames := make([]string, 0)

	notifications := NotificationFrequency(pm.Portfolio.Notifications)

	if notifications&NotifyDaily == NotifyDaily {
		frequencies = append(frequencies, NotifyDaily)
		notificationNames = append(notificationNames, "Daily")
	}

	if notifications&NotifyWeekly == NotifyWeekly && forDate.Weekday() == time.Sunday {
		frequencies = append(frequencies, NotifyWeekly)
		notificationNames = append(notificationNames, "Weekly")
	}

	if notifications&NotifyMonthly == NotifyMonthly && forDate.AddDate(0, 0, 1).Month() != forDate.Month() {
		frequencies = append(frequencies, NotifyMonthly)
		notificationNames = append(notificationNames, "Monthly")
	}

	log.Debug().Str("PortfolioID", pm.Portfolio.ID.String()).Strs("Notifications", notificationNames).Msg("enabled notifications")

	return frequencies
}

// NotificationsForDate builds the summary notifications that are due for the
// portfolio on forDate
func (pm *Model) NotificationsForDate(forDate time.Time) []*Notification {
	frequencies := pm.RequestedNotificationsForDate(forDate)
	notifications := make([]*Notification, 0, len(frequencies))

	periodPerf := pm.Portfolio.PeriodPerformance()
	for _, freq := range frequencies {
		notifications = append(notifications, &Notification{
			ForDate:      forDate,
			ForFrequency: freq,
			Portfolio:    pm.Portfolio,
			Positions:    pm.Positions(),
			PeriodReturn: getReturnForNotification(periodPerf, freq),
			TotalReturn:  periodPerf.TotalChange,
		})
	}
	return notifications
}

func (n *Notification) SendEmail(userFullName string, emailAddress string) error {
	subLog := log.With().Str("UserFullName", userFullName).Str("EmailAddress", emailAddress).Str("PortfolioName", n.Portfolio.Name).Str("PortfolioID", n.Portfolio.ID.String()).Logger()
	subLog.Info().Msg("sending notification e-mail")
	m := mail.NewV3Mail()

	e := mail.NewEmail(viper.GetString("email.name"), viper.GetString("email.address"))
	m.SetFrom(e)

	m.SetTemplateID(viper.GetString("sendgrid.template"))

	person := mail.NewPersonalization()
	toList := []*mail.Email{
		mail.NewEmail(userFullName, emailAddress),
	}
	person.AddTos(toList...)

	person.SetDynamicTemplateData("portfolioName", n.Portfolio.Name)
	person.SetDynamicTemplateData("frequency", n.ForFrequency.String())
	person.SetDynamicTemplateData("forDate", n.ForDate.Format(viper.GetString("email.date_format")))
	person.SetDynamicTemplateData("totalValue", fmt.Sprintf("$%s", roundCurrency(n.Portfolio.TotalValue)))
	person.SetDynamicTemplateData("currentAssets", positionsString(n.Positions))

	person.SetDynamicTemplateData("periodReturn", formatPercent(n.PeriodReturn))
	person.SetDynamicTemplateData("totalReturn", formatPercent(n.TotalReturn))

	m.AddPersonalizations(person)
	msgBody := mail.GetRequestBody(m)

	request := sendgrid.GetRequest(viper.GetString("sendgrid.apikey"), "/v3/mail/send", "https://api.sendgrid.com")
	request.Method = "POST"
	request.Body = msgBody

	response, err := sendgrid.API(request)
	if err != nil {
		log.Error().Err(err).Msg("could not send message")
		return err
	}

	log.Info().Str("ToAddress", emailAddress).Int("StatusCode", response.StatusCode).Strs("MessageID", response.Headers["X-Message-Id"]).Msg("sent notification email")
	return nil
}

// notifyThreshold sends an alert that the portfolio crossed an all-time
// extreme. Alert failures are logged and swallowed; the sync that detected
// the crossing already succeeded.
func (pm *Model) notifyThreshold(event string) {
	p := pm.Portfolio
	if NotificationFrequency(p.Notifications)&NotifyThreshold != NotifyThreshold {
		return
	}

	subLog := log.With().Str("PortfolioID", p.ID.String()).Str("Event", event).Logger()

	user, err := common.GetAuth0User(p.UserID)
	if err != nil {
		subLog.Error().Err(err).Msg("could not resolve user for threshold alert")
		return
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(viper.GetString("email.name"), viper.GetString("email.address")))
	m.SetTemplateID(viper.GetString("sendgrid.threshold_template"))

	person := mail.NewPersonalization()
	person.AddTos(mail.NewEmail(user.Name, user.Email))
	person.SetDynamicTemplateData("portfolioName", p.Name)
	person.SetDynamicTemplateData("event", event)
	person.SetDynamicTemplateData("totalValue", fmt.Sprintf("$%s", roundCurrency(p.TotalValue)))
	m.AddPersonalizations(person)

	request := sendgrid.GetRequest(viper.GetString("sendgrid.apikey"), "/v3/mail/send", "https://api.sendgrid.com")
	request.Method = "POST"
	request.Body = mail.GetRequestBody(m)

	response, err := sendgrid.API(request)
	if err != nil {
		subLog.Error().Err(err).Msg("could not send threshold alert")
		return
	}

	subLog.Info().Str("ToAddress", user.Email).Int("StatusCode", response.StatusCode).Msg("sent threshold alert")
}

func positionsString(positions []*AssetPosition) string {
	assets := make([]string, 0, len(positions))
	for _, pos := range positions {
		assets = append(assets, pos.Symbol)
	}

	return strings.Join(assets, ", ")
}

func formatPercent(percent float64) string {
	return fmt.Sprintf("%.2f%%", percent)
}

func getReturnForNotification(periodPerf *PeriodPerformance, freq NotificationFrequency) float64 {
	switch freq {
	case NotifyDaily:
		return periodPerf.DayChange
	case NotifyWeekly:
		return periodPerf.WeekChange
	case NotifyMonthly:
		return periodPerf.MonthChange
	default:
		log.Error().Str("NotificationFrequency", freq.String()).Msg("unknown frequency")
		return 0.0
	}
}
