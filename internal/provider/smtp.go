package provider

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-msgauth/dkim"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/reachkit/reachkit/internal/models"
)

// SMTPAdapter is the email channel: assembles an RFC 5322 message, signs it
// with DKIM when a key is configured, and submits it over authenticated
// SMTP.
type SMTPAdapter struct {
	creds   models.SMTPCredentials
	signer  *rsa.PrivateKey
	timeout time.Duration
	logger  *slog.Logger

	// submit is swappable for tests; defaults to smtp.SendMail.
	submit func(addr string, auth sasl.Client, from string, to []string, data []byte) error
}

// NewSMTP creates an adapter for one organization's SMTP relay. A missing
// or unreadable DKIM key is not fatal; messages go out unsigned.
func NewSMTP(creds models.SMTPCredentials, logger *slog.Logger, opts ...Option) *SMTPAdapter {
	o := buildOptions("", opts)

	a := &SMTPAdapter{
		creds:   creds,
		timeout: o.timeout,
		logger:  logger.With("component", "provider.smtp"),
		submit: func(addr string, auth sasl.Client, from string, to []string, data []byte) error {
			return smtp.SendMail(addr, auth, from, to, bytes.NewReader(data))
		},
	}

	if creds.DKIMKeyFile != "" {
		key, err := loadDKIMKey(creds.DKIMKeyFile)
		if err != nil {
			a.logger.Warn("DKIM key unavailable, sending unsigned", "key_file", creds.DKIMKeyFile, "error", err)
		} else {
			a.signer = key
		}
	}

	return a
}

// ValidateAddress checks RFC 5322 address syntax. No network call.
func (a *SMTPAdapter) ValidateAddress(address string) bool {
	if address == "" {
		return false
	}
	_, err := mail.ParseAddress(address)
	return err == nil
}

// SendMessage submits one email through the relay.
func (a *SMTPAdapter) SendMessage(ctx context.Context, msg Message) Result {
	if !a.ValidateAddress(msg.To) {
		return failure(CodeInvalidAddress, "not a valid email address", msg.To)
	}
	if a.creds.Host == "" || a.creds.FromAddress == "" {
		return failure(CodeMissingCredentials, "smtp host or from address not configured", "")
	}

	messageID := uuid.New().String()
	data, err := a.assemble(messageID, msg)
	if err != nil {
		return failure(CodeProviderError, "assemble message", err.Error())
	}

	if a.signer != nil {
		signed, err := a.sign(data)
		if err != nil {
			a.logger.Warn("DKIM signing failed, sending unsigned", "error", err)
		} else {
			data = signed
		}
	}

	var auth sasl.Client
	if a.creds.Username != "" {
		auth = sasl.NewPlainClient("", a.creds.Username, a.creds.Password)
	}

	addr := fmt.Sprintf("%s:%d", a.creds.Host, a.port())
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.submit(addr, auth, a.creds.FromAddress, []string{msg.To}, data)
	}()

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return failure(CodeTimeout, "send cancelled", ctx.Err().Error())
	case <-timer.C:
		return failure(CodeTimeout, "smtp submission timed out", addr)
	case err := <-errCh:
		if err != nil {
			return resultFromTransportError(err)
		}
	}

	return Result{Success: true, MessageID: messageID}
}

// TestConnection dials the relay and runs the handshake without sending.
func (a *SMTPAdapter) TestConnection(ctx context.Context) error {
	if a.creds.Host == "" {
		return fmt.Errorf("%s: smtp host not configured", CodeMissingCredentials)
	}

	addr := fmt.Sprintf("%s:%d", a.creds.Host, a.port())
	errCh := make(chan error, 1)
	go func() {
		c, err := smtp.Dial(addr)
		if err != nil {
			errCh <- err
			return
		}
		defer c.Close()
		if a.creds.Username != "" {
			if err := c.Auth(sasl.NewPlainClient("", a.creds.Username, a.creds.Password)); err != nil {
				errCh <- err
				return
			}
		}
		errCh <- c.Noop()
	}()

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("smtp handshake timed out: %s", addr)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("relay rejected connection: %w", err)
		}
		return nil
	}
}

// GetTemplates is a no-op: email templates live only in the local registry.
func (a *SMTPAdapter) GetTemplates(ctx context.Context) ([]RemoteTemplate, error) {
	return nil, nil
}

// SubmitTemplate assigns a local identifier; there is no remote registry to
// submit to, approval stays with the administrative flow.
func (a *SMTPAdapter) SubmitTemplate(ctx context.Context, tpl *models.Template) (string, error) {
	return uuid.New().String(), nil
}

func (a *SMTPAdapter) port() int {
	if a.creds.Port > 0 {
		return a.creds.Port
	}
	return 587
}

func (a *SMTPAdapter) assemble(messageID string, msg Message) ([]byte, error) {
	var b bytes.Buffer
	domain := a.creds.DKIMDomain
	if domain == "" {
		if at := strings.LastIndex(a.creds.FromAddress, "@"); at >= 0 {
			domain = a.creds.FromAddress[at+1:]
		}
	}

	fmt.Fprintf(&b, "From: %s\r\n", a.creds.FromAddress)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", messageID, domain)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Subject: %s\r\n", firstLine(msg.Body))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return b.Bytes(), nil
}

func (a *SMTPAdapter) sign(message []byte) ([]byte, error) {
	options := &dkim.SignOptions{
		Domain:                 a.creds.DKIMDomain,
		Selector:               a.creds.DKIMSelector,
		Signer:                 a.signer,
		Hash:                   crypto.SHA256,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
	}

	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(message), options); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return signed.Bytes(), nil
}

func loadDKIMKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA key: %T", parsed)
	}
	return key, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 78 {
		s = s[:78]
	}
	return strings.TrimSpace(s)
}
