package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/memohai/intake/internal/channel"
)

// sign computes X-Twilio-Signature the way Twilio does: base64 HMAC-SHA1 of
// the URL followed by the sorted POST parameters.
func sign(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, key := range keys {
		b.WriteString(key)
		b.WriteString(params.Get(key))
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type fakeAPI struct {
	params  []*openapi.CreateMessageParams
	sendErr error
	account string
}

func (f *fakeAPI) CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	f.params = append(f.params, params)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	sid := "SM1"
	return &openapi.ApiV2010Message{Sid: &sid}, nil
}

func (f *fakeAPI) FetchAccount(sid string) (*openapi.ApiV2010Account, error) {
	if sid != f.account {
		return nil, &twclient.TwilioRestError{Status: 404, Code: 20404, Message: "not found"}
	}
	return &openapi.ApiV2010Account{Sid: &sid}, nil
}

func newTestAdapter(cfg Config, api *fakeAPI) *Adapter {
	a := NewAdapter(nil, cfg)
	a.api = api
	return a
}

type fakeInbound struct {
	calls []channel.InboundMessage
	err   error
}

func (f *fakeInbound) HandleInbound(_ context.Context, msg channel.InboundMessage) error {
	f.calls = append(f.calls, msg)
	return f.err
}

func newWebhookRequest(form url.Values, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	return req
}

func TestWebhookDispatchesInbound(t *testing.T) {
	t.Parallel()

	inbound := &fakeInbound{}
	cfg := Config{AuthToken: "secret", ValidateSignature: true, PublicURL: "https://intake.example.com/"}
	h := NewWebhookHandler(nil, cfg, inbound)

	form := url.Values{
		"From":              {"whatsapp:+27821234567"},
		"Body":              {"1"},
		"NumMedia":          {"1"},
		"MediaUrl0":         {"https://api.twilio.com/media/ME1"},
		"MediaContentType0": {"application/pdf"},
	}
	sig := sign("secret", "https://intake.example.com/webhooks/twilio", form)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(newWebhookRequest(form, sig), rec)
	if err := h.Handle(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<Response></Response>") {
		t.Fatalf("unexpected response: %d %s", rec.Code, rec.Body.String())
	}
	if len(inbound.calls) != 1 {
		t.Fatalf("expected one inbound call, got %d", len(inbound.calls))
	}
	msg := inbound.calls[0]
	if msg.UserKey() != "twilio:whatsapp:+27821234567" || msg.Message.Text != "1" {
		t.Fatalf("unexpected inbound message: %+v", msg)
	}
	if len(msg.Message.Attachments) != 1 || msg.Message.Attachments[0].Type != channel.AttachmentFile ||
		msg.Message.Attachments[0].SourcePlatform != "twilio" {
		t.Fatalf("unexpected attachments: %+v", msg.Message.Attachments)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	inbound := &fakeInbound{}
	h := NewWebhookHandler(nil, Config{AuthToken: "secret", ValidateSignature: true}, inbound)
	form := url.Values{"From": {"whatsapp:+27821234567"}, "Body": {"hi"}}

	for _, sig := range []string{"", "bm90LXRoZS1zaWc="} {
		e := echo.New()
		c := e.NewContext(newWebhookRequest(form, sig), httptest.NewRecorder())
		err := h.Handle(c)
		var httpErr *echo.HTTPError
		if !errors.As(err, &httpErr) || httpErr.Code != http.StatusForbidden {
			t.Fatalf("expected 403 for signature %q, got %v", sig, err)
		}
	}
	if len(inbound.calls) != 0 {
		t.Fatalf("expected no inbound calls")
	}
}

func TestWebhookInboundFailureReturns500(t *testing.T) {
	t.Parallel()

	h := NewWebhookHandler(nil, Config{}, &fakeInbound{err: errors.New("db down")})
	e := echo.New()
	c := e.NewContext(newWebhookRequest(url.Values{"From": {"+2782"}, "Body": {"hi"}}, ""), httptest.NewRecorder())
	err := h.Handle(c)
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
}

func TestParseInboundSkipsEmpty(t *testing.T) {
	t.Parallel()

	if _, ok := ParseInbound(url.Values{"Body": {"hi"}}); ok {
		t.Fatalf("expected missing sender to be skipped")
	}
	if _, ok := ParseInbound(url.Values{"From": {"+2782"}, "Body": {"  "}, "NumMedia": {"0"}}); ok {
		t.Fatalf("expected empty message to be skipped")
	}
	msg, ok := ParseInbound(url.Values{"From": {"+2782"}, "NumMedia": {"2"}, "MediaUrl1": {"https://m/1"}, "MediaContentType1": {"image/jpeg"}})
	if !ok || len(msg.Message.Attachments) != 1 || msg.Message.Attachments[0].Type != channel.AttachmentImage {
		t.Fatalf("unexpected parse result: %+v", msg)
	}
}

func TestWebhookSignatureIsURLBound(t *testing.T) {
	t.Parallel()

	form := url.Values{"From": {"+2782"}, "Body": {"x"}}
	cfg := Config{AuthToken: "tok", ValidateSignature: true, PublicURL: "https://h"}
	tests := []struct {
		name string
		sig  string
		code int
	}{
		{name: "matching", sig: sign("tok", "https://h/webhooks/twilio", form), code: http.StatusOK},
		{name: "other host", sig: sign("tok", "https://other/webhooks/twilio", form), code: http.StatusForbidden},
		{name: "other token", sig: sign("other", "https://h/webhooks/twilio", form), code: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewWebhookHandler(nil, cfg, &fakeInbound{})
			e := echo.New()
			rec := httptest.NewRecorder()
			err := h.Handle(e.NewContext(newWebhookRequest(form, tt.sig), rec))
			code := rec.Code
			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				code = httpErr.Code
			}
			if code != tt.code {
				t.Fatalf("want %d, got %d (%v)", tt.code, code, err)
			}
		})
	}
}

func TestSendBuildsMessageParams(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	a := newTestAdapter(Config{AccountSID: "AC123", AuthToken: "token", From: "+14155238886"}, api)
	err := a.Send(context.Background(), channel.OutboundMessage{
		To: "whatsapp:+27821234567",
		Message: channel.Message{
			Text:        "Your request Q1 is completed",
			Attachments: []channel.Attachment{{URL: "https://files/x.pdf"}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.params) != 1 {
		t.Fatalf("expected one create call, got %d", len(api.params))
	}
	p := api.params[0]
	if *p.From != "whatsapp:+14155238886" || *p.To != "whatsapp:+27821234567" || *p.Body != "Your request Q1 is completed" {
		t.Fatalf("unexpected params: from=%s to=%s body=%s", *p.From, *p.To, *p.Body)
	}
	if p.MediaUrl == nil || len(*p.MediaUrl) != 1 || (*p.MediaUrl)[0] != "https://files/x.pdf" {
		t.Fatalf("unexpected media: %v", p.MediaUrl)
	}

	if err := a.Send(context.Background(), channel.OutboundMessage{Message: channel.Message{Text: "hi"}}); err == nil {
		t.Fatalf("expected missing target error")
	}
}

func TestSendClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "server error", err: &twclient.TwilioRestError{Status: 500, Code: 20500, Message: "internal"}, retryable: true},
		{name: "rate limited", err: &twclient.TwilioRestError{Status: 429, Code: 20429, Message: "too many"}, retryable: true},
		{name: "unavailable code", err: &twclient.TwilioRestError{Status: 400, Code: 20503, Message: "unavailable"}, retryable: true},
		{name: "invalid number", err: &twclient.TwilioRestError{Status: 400, Code: 21211, Message: "invalid To"}, retryable: false},
		{name: "unauthorized", err: &twclient.TwilioRestError{Status: 401, Code: 20003}, retryable: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := newTestAdapter(Config{AccountSID: "AC1", AuthToken: "t", From: "+1"}, &fakeAPI{sendErr: tt.err})
			err := a.Send(context.Background(), channel.OutboundMessage{To: "+2", Message: channel.Message{Text: "hi"}})
			var sendErr *channel.SendError
			if !errors.As(err, &sendErr) {
				t.Fatalf("expected SendError, got %v", err)
			}
			if sendErr.Retryable != tt.retryable || sendErr.Message == "" {
				t.Fatalf("unexpected classification: %+v", sendErr)
			}
			if channel.IsRetryable(err) != tt.retryable {
				t.Fatalf("IsRetryable mismatch for %s", tt.name)
			}
		})
	}

	dial := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	a := newTestAdapter(Config{AccountSID: "AC1", From: "+1"}, &fakeAPI{sendErr: dial})
	err := a.Send(context.Background(), channel.OutboundMessage{To: "+2", Message: channel.Message{Text: "hi"}})
	if !errors.Is(err, dial) || !channel.IsRetryable(err) {
		t.Fatalf("transport errors must stay retryable, got %v", err)
	}
}

func TestResolveAttachmentUsesBasicAuth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, _, ok := r.BasicAuth(); !ok || user != "AC1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/pdf; charset=binary")
		_, _ = io.WriteString(w, "%PDF-1.4")
	}))
	defer srv.Close()

	a := NewAdapter(nil, Config{AccountSID: "AC1", AuthToken: "t"})
	payload, err := a.ResolveAttachment(context.Background(), channel.Attachment{URL: srv.URL + "/media/ME1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer payload.Reader.Close()
	body, _ := io.ReadAll(payload.Reader)
	if string(body) != "%PDF-1.4" || payload.Mime != "application/pdf" {
		t.Fatalf("unexpected payload: %q %s", body, payload.Mime)
	}

	unauth := NewAdapter(nil, Config{})
	if _, err := unauth.ResolveAttachment(context.Background(), channel.Attachment{URL: srv.URL}); err == nil {
		t.Fatalf("expected status error without credentials")
	}
}

func TestProbe(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{account: "AC123"}
	ok := newTestAdapter(Config{AccountSID: "AC123", AuthToken: "token"}, api)
	if err := ok.Probe(context.Background()); err != nil {
		t.Fatalf("unexpected probe error: %v", err)
	}
	bad := newTestAdapter(Config{AccountSID: "AC999", AuthToken: "token"}, api)
	if err := bad.Probe(context.Background()); err == nil {
		t.Fatalf("expected probe failure for wrong account")
	}
}
