package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-auth-nosql/internal/domain"
	"github.com/go-auth-nosql/internal/pkg/identifier"
)

// Delivery channels, also used as metric labels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

type Metrics interface {
	DispatchFailed(channel string)
}

type DispatcherDeps struct {
	Mailer  Mailer
	SMS     SMSSender
	Metrics Metrics
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration
	// Validity is quoted to the recipient.
	Validity time.Duration
}

// Dispatcher delivers OTP codes by email or SMS on a background goroutine.
// Failures are logged and counted, never returned to the caller.
type Dispatcher struct {
	mailer   Mailer
	sms      SMSSender
	metrics  Metrics
	timeout  time.Duration
	validity time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(d DispatcherDeps) *Dispatcher {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		mailer:   d.Mailer,
		sms:      d.SMS,
		metrics:  d.Metrics,
		timeout:  timeout,
		validity: d.Validity,
	}
}

// SendOtp routes by destination shape: anything containing "@" is an email.
func (d *Dispatcher) SendOtp(destination, code string, purpose domain.Purpose) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		channel, err := d.deliver(ctx, destination, code, purpose)
		if err != nil {
			slog.Error("otp delivery failed",
				"channel", channel, "to", identifier.Mask(destination), "purpose", purpose, "err", err)
			if d.metrics != nil {
				d.metrics.DispatchFailed(channel)
			}
			return
		}
		slog.Info("otp delivered", "channel", channel, "to", identifier.Mask(destination), "purpose", purpose)
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, destination, code string, purpose domain.Purpose) (string, error) {
	if identifier.IsEmail(destination) {
		if d.mailer == nil {
			return ChannelEmail, fmt.Errorf("email channel is not configured")
		}
		return ChannelEmail, d.mailer.SendEmail(ctx, destination, Subject(purpose), EmailBody(code, purpose, d.validity))
	}
	if d.sms == nil {
		return ChannelSMS, fmt.Errorf("sms channel is not configured")
	}
	return ChannelSMS, d.sms.SendSMS(ctx, destination, SMSText(code, purpose))
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func Subject(p domain.Purpose) string {
	switch p {
	case domain.PurposeRegister:
		return "Confirm your registration"
	case domain.PurposeLogin:
		return "Your login code"
	case domain.PurposeForgetPassword:
		return "Reset your password"
	case domain.PurposeChangePassword:
		return "Confirm your password change"
	case domain.PurposeAddEmail:
		return "Confirm your email address"
	case domain.PurposeAddPhone:
		return "Confirm your phone number"
	case domain.PurposeCheckout:
		return "Confirm your order"
	default:
		return "Your verification code"
	}
}

func action(p domain.Purpose) string {
	switch p {
	case domain.PurposeRegister:
		return "complete your registration"
	case domain.PurposeLogin:
		return "sign in"
	case domain.PurposeForgetPassword, domain.PurposeChangePassword:
		return "change your password"
	case domain.PurposeAddEmail:
		return "add this email address"
	case domain.PurposeAddPhone:
		return "add this phone number"
	case domain.PurposeCheckout:
		return "confirm your order"
	default:
		return "continue"
	}
}

func EmailBody(code string, p domain.Purpose, validity time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your verification code is %s.\n\n", code)
	fmt.Fprintf(&b, "Use it to %s.", action(p))
	if validity > 0 {
		fmt.Fprintf(&b, " It expires in %d minutes.", int(validity.Minutes()))
	}
	b.WriteString("\n\nIf you did not request this code, you can ignore this email.\n")
	return b.String()
}

func SMSText(code string, p domain.Purpose) string {
	return fmt.Sprintf("%s is your code to %s. Do not share it with anyone.", code, action(p))
}
