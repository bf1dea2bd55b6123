package services

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"

	"folio/internal/config"
	"folio/internal/models"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var mailTemplates embed.FS

type MailService struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	Enabled  bool

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	tmpl *template.Template
}

func NewMailService(cfg config.SMTPConfig) *MailService {
	enabled := cfg.Host != "" && cfg.Port != "" && cfg.Username != "" && cfg.Password != "" && cfg.From != ""
	if !enabled {
		logrus.Warn("MailService disabled: missing SMTP configuration")
	}

	return &MailService{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		Enabled:  enabled,
		send:     smtp.SendMail,
		tmpl:     template.Must(template.ParseFS(mailTemplates, "templates/*.html")),
	}
}

func (s *MailService) buildMessage(to []string, subject, body string) []byte {
	header := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	// 标题含用户输入，编码后不会出现换行
	return []byte(fmt.Sprintf("To: %s\r\n"+
		"From: folio <%s>\r\n"+
		"Subject: %s\r\n"+
		"%s\r\n%s", strings.Join(to, ","), s.From, mime.QEncoding.Encode("utf-8", subject), header, body))
}

func (s *MailService) sendAsync(to []string, subject string, body string) {
	if !s.Enabled {
		return
	}

	go func() {
		auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
		addr := fmt.Sprintf("%s:%s", s.Host, s.Port)

		if err := s.send(addr, auth, s.From, to, s.buildMessage(to, subject, body)); err != nil {
			logrus.WithError(err).WithField("subject", subject).Error("failed to send email")
		} else {
			logrus.WithField("subject", subject).Info("email sent")
		}
	}()
}

func (s *MailService) render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", errors.Wrapf(err, "execute template %s", name)
	}
	return buf.String(), nil
}

// SendReplyNotification 通知被回复的评论作者
func (s *MailService) SendReplyNotification(parent, reply *models.Comment, link string) {
	body, err := s.render("reply.html", map[string]string{
		"ParentName": parent.Name,
		"ParentBody": parent.Body,
		"ReplyName":  reply.Name,
		"ReplyBody":  reply.Body,
		"Link":       link,
	})
	if err != nil {
		logrus.WithError(err).Error("render reply notification")
		return
	}
	s.sendAsync([]string{parent.Email}, reply.Name+" replied to your comment", body)
}
