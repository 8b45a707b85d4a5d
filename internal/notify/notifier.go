// Package notify renders and sends the order confirmation email.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"

	d "github.com/fjod/go_market/domain"
	"github.com/fjod/go_market/pkg/circuitbreaker"
)

var ErrNotConfigured = errors.New("smtp host is not configured")

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// StoreName appears in the subject line and greeting.
	StoreName string
}

type sendFunc func(ctx context.Context, from string, to []string, msg []byte) error

type SMTPNotifier struct {
	cfg     Config
	tmpl    *template.Template
	send    sendFunc
	breaker *circuitbreaker.Breaker[struct{}]
	logger  *slog.Logger
	now     func() time.Time
}

func NewSMTPNotifier(cfg Config, logger *slog.Logger) *SMTPNotifier {
	if cfg.StoreName == "" {
		cfg.StoreName = "Marketplace"
	}
	n := &SMTPNotifier{
		cfg:    cfg,
		tmpl:   template.Must(template.New("order_confirmation").Parse(confirmationTemplate)),
		logger: logger,
		now:    time.Now,
	}
	n.send = n.deliver
	n.breaker = circuitbreaker.New[struct{}](circuitbreaker.Settings{
		Name:             "smtp",
		ConsecutiveFails: 3,
		OpenTimeout:      time.Minute,
		Logger:           logger,
	})
	return n
}

// SendOrderConfirmation renders the receipt for a settled order and hands it to the SMTP relay.
func (n *SMTPNotifier) SendOrderConfirmation(ctx context.Context, order *d.Order, recipient string) error {
	if n.cfg.Host == "" {
		return ErrNotConfigured
	}
	to, err := mail.ParseAddress(recipient)
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}

	msg, err := n.buildMessage(order, to)
	if err != nil {
		return err
	}

	_, err = n.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, n.send(ctx, n.cfg.From, []string{to.Address}, msg)
	})
	if err != nil {
		return fmt.Errorf("send confirmation for %s: %w", order.OrderNumber, err)
	}
	n.logger.InfoContext(ctx, "order confirmation sent", "order_id", order.ID.String(), "order_number", order.OrderNumber)
	return nil
}

type itemView struct {
	Name        string
	Quantity    int
	Price       string
	Subtotal    string
	DownloadURL string
}

type confirmationView struct {
	StoreName    string
	OrderNumber  string
	Items        []itemView
	Subtotal     string
	Discount     string
	HasDiscount  bool
	Total        string
	PaidAmount   string
	PaidCurrency string
	Converted    bool
	SettledAt    string
}

func (n *SMTPNotifier) render(order *d.Order) (string, error) {
	view := confirmationView{
		StoreName:    n.cfg.StoreName,
		OrderNumber:  order.OrderNumber,
		Items:        make([]itemView, 0, len(order.Items)),
		Subtotal:     order.Subtotal.StringFixed(2) + " " + order.BaseCurrency,
		Discount:     order.Discount.StringFixed(2) + " " + order.BaseCurrency,
		HasDiscount:  order.Discount.IsPositive(),
		Total:        order.Total.StringFixed(2) + " " + order.BaseCurrency,
		PaidAmount:   order.PaidAmount.StringFixed(2),
		PaidCurrency: order.PaidCurrency,
		Converted:    order.PaidCurrency != "" && order.PaidCurrency != order.BaseCurrency,
	}
	settledAt := n.now()
	if order.SettledAt != nil {
		settledAt = *order.SettledAt
	}
	view.SettledAt = settledAt.UTC().Format("2 Jan 2006 15:04 MST")
	for _, item := range order.Items {
		view.Items = append(view.Items, itemView{
			Name:        item.Name,
			Quantity:    item.Quantity,
			Price:       item.Price.StringFixed(2),
			Subtotal:    item.Subtotal.StringFixed(2),
			DownloadURL: item.DownloadURL,
		})
	}

	var buf bytes.Buffer
	if err := n.tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render confirmation: %w", err)
	}
	return buf.String(), nil
}

func (n *SMTPNotifier) buildMessage(order *d.Order, to *mail.Address) ([]byte, error) {
	body, err := n.render(order)
	if err != nil {
		return nil, err
	}
	from := (&mail.Address{Name: n.cfg.StoreName, Address: n.cfg.From}).String()
	subject := mime.QEncoding.Encode("utf-8", fmt.Sprintf("%s: order %s confirmed", n.cfg.StoreName, order.OrderNumber))

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to.String())
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", n.now().UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}

// deliver is smtp.SendMail with the dial and every later read or write bounded by ctx.
func (n *SMTPNotifier) deliver(ctx context.Context, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: n.cfg.Host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if n.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt: %w", err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return c.Quit()
}
