package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"rentwatch/config"
	"rentwatch/mailer"
	"rentwatch/models"
)

// Mailer delivers one composed message.
type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
}

type Route string

const (
	RouteDebug     Route = "debug"
	RouteOutside   Route = "outside_primary"
	RouteNoContact Route = "no_contact"
	RouteAgency    Route = "agency"
)

// Routing carries the run-scoped switches that decide where a notification
// goes.
type Routing struct {
	Debug          bool
	AgencyDelivery bool
}

type Result struct {
	Route       Route
	Recipient   string
	Subject     string
	Attachments []string
}

// SendError is a transport failure for one record.
type SendError struct {
	Recipient string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.Recipient, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Notifier composes and sends one email per listing.
type Notifier struct {
	mail   Mailer
	smtp   config.SMTPConfig
	notify config.NotifyConfig
	log    *logrus.Entry
}

func NewNotifier(mail Mailer, smtp config.SMTPConfig, notify config.NotifyConfig, log *logrus.Entry) *Notifier {
	return &Notifier{
		mail:   mail,
		smtp:   smtp,
		notify: notify,
		log:    log.WithField("component", "notifier"),
	}
}

// Notify sends exactly one message for record. Routing is decided in order:
// debug, non-primary site, missing agency email, agency.
func (n *Notifier) Notify(ctx context.Context, record models.ListingRecord, routing Routing) (Result, error) {
	res := n.route(record, routing)

	bodyTmpl := SummaryTemplate
	if res.Route == RouteAgency {
		tmpl, err := LoadTemplate(n.notify.TemplatePath)
		if err != nil {
			return res, fmt.Errorf("notification template: %w", err)
		}
		bodyTmpl = tmpl
		res.Attachments = n.attachments()
	}

	subject, err := RenderRecord(res.Subject, record)
	if err != nil {
		return res, fmt.Errorf("render subject: %w", err)
	}
	res.Subject = subject

	body, err := RenderRecord(bodyTmpl, record)
	if err != nil {
		return res, fmt.Errorf("render body: %w", err)
	}

	msg := mailer.Message{
		To:          res.Recipient,
		CC:          n.smtp.CC,
		Subject:     res.Subject,
		Body:        body,
		Attachments: res.Attachments,
	}
	if err := n.mail.Send(ctx, msg); err != nil {
		n.log.WithFields(logrus.Fields{"url": record.URL, "recipient": res.Recipient}).Errorf("send failed: %v", err)
		return res, &SendError{Recipient: res.Recipient, Err: err}
	}

	n.log.WithFields(logrus.Fields{
		"url":         record.URL,
		"route":       res.Route,
		"recipient":   res.Recipient,
		"attachments": len(res.Attachments),
	}).Info("notification sent")
	return res, nil
}

func (n *Notifier) route(record models.ListingRecord, routing Routing) Result {
	switch {
	case routing.Debug:
		return Result{Route: RouteDebug, Recipient: n.smtp.DefaultReceiver, Subject: n.notify.DebugSubject}
	case !routing.AgencyDelivery:
		return Result{Route: RouteOutside, Recipient: n.smtp.DefaultReceiver, Subject: n.notify.OutsideSubject}
	case !record.HasAgencyEmail():
		n.log.WithField("url", record.URL).Warn("no agency email, falling back to default receiver")
		return Result{Route: RouteNoContact, Recipient: n.smtp.DefaultReceiver, Subject: n.notify.NoContactSubject}
	default:
		return Result{Route: RouteAgency, Recipient: record.AgencyEmail, Subject: n.notify.AgencySubject}
	}
}

// attachments lists the regular files of the attachment directory.
func (n *Notifier) attachments() []string {
	if n.smtp.AttachmentDir == "" {
		return nil
	}
	entries, err := os.ReadDir(n.smtp.AttachmentDir)
	if err != nil {
		n.log.Warnf("read attachment dir %s: %v", n.smtp.AttachmentDir, err)
		return nil
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(n.smtp.AttachmentDir, e.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		n.log.Warnf("no attachments found in %s", n.smtp.AttachmentDir)
	}
	return files
}
