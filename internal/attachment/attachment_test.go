package attachment

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/memohai/intake/internal/channel"
	"github.com/memohai/intake/internal/media"
	"github.com/memohai/intake/internal/requests"
	"github.com/memohai/intake/internal/session"
	"github.com/memohai/intake/internal/submission"
)

type fakeResolver struct {
	body string
	mime string
	err  error
}

func (f *fakeResolver) ResolveAttachment(_ context.Context, _ channel.Attachment) (channel.AttachmentPayload, error) {
	if f.err != nil {
		return channel.AttachmentPayload{}, f.err
	}
	return channel.AttachmentPayload{Reader: io.NopCloser(strings.NewReader(f.body)), Mime: f.mime}, nil
}

type fakeStorer struct {
	inputs []media.IngestInput
	data   []string
	err    error
}

func (f *fakeStorer) Ingest(_ context.Context, in media.IngestInput) (media.Asset, error) {
	if f.err != nil {
		return media.Asset{}, f.err
	}
	body, _ := io.ReadAll(in.Reader)
	f.inputs = append(f.inputs, in)
	f.data = append(f.data, string(body))
	return media.Asset{StorageKey: in.OwnerID + "/ab/abcd.pdf", URL: "https://files.example.com/abcd.pdf", Mime: in.Mime}, nil
}

type fakeSubmitter struct {
	inputs []submission.Input
	err    error
}

func (f *fakeSubmitter) Submit(_ context.Context, in submission.Input) (string, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return "", f.err
	}
	return "Q000001BULK01", nil
}

func detailsSession() session.Session {
	s := session.New("twilio:+27821234567")
	s.Step = session.StepDocumentDetails
	s.SelectedRegion = "Central"
	s.SelectedStore = "Kus"
	s.ActiveRequestType = requests.TypeTDDocument
	return s
}

func TestIngestSetsPendingAttachment(t *testing.T) {
	t.Parallel()

	storer := &fakeStorer{}
	ing := NewIngestor(nil, &fakeResolver{body: "%PDF-1.4", mime: "application/pdf"}, storer, nil, time.Second, 0)
	sess := detailsSession()

	next, ack, err := ing.Ingest(context.Background(), channel.Attachment{URL: "https://api.twilio.com/m/1"}, sess)
	require.NoError(t, err)
	assert.Equal(t, ackStored, ack)
	require.NotNil(t, next.PendingAttachment)
	assert.Equal(t, "https://files.example.com/abcd.pdf", next.PendingAttachment.URL)
	assert.Equal(t, sess.Step, next.Step, "ingestion must not advance the step")
	assert.Nil(t, sess.PendingAttachment, "input session must not be mutated")
	require.Len(t, storer.inputs, 1)
	assert.Equal(t, "application/pdf", storer.inputs[0].Mime)
	assert.Equal(t, "%PDF-1.4", storer.data[0])
	assert.NoError(t, next.Validate())
}

func TestIngestRejectsIneligibleStep(t *testing.T) {
	t.Parallel()

	storer := &fakeStorer{}
	ing := NewIngestor(nil, &fakeResolver{body: "x"}, storer, nil, time.Second, 0)
	sess := detailsSession()
	sess.Step = session.StepMainMenu
	sess.ActiveRequestType = ""

	next, ack, err := ing.Ingest(context.Background(), channel.Attachment{URL: "u"}, sess)
	assert.ErrorIs(t, err, ErrNotAccepted)
	assert.Equal(t, notAccepted, ack)
	assert.Equal(t, sess, next)
	assert.Empty(t, storer.inputs)
}

func TestIngestFailuresLeaveSessionUnchanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		resolver *fakeResolver
		storer   *fakeStorer
		ack      string
		check    func(t *testing.T, err error)
	}{
		{
			name:     "fetch",
			resolver: &fakeResolver{err: errors.New("404")},
			storer:   &fakeStorer{},
			ack:      fetchFailed,
			check: func(t *testing.T, err error) {
				var fErr *FetchError
				assert.ErrorAs(t, err, &fErr)
			},
		},
		{
			name:     "empty",
			resolver: &fakeResolver{},
			storer:   &fakeStorer{},
			ack:      fetchFailed,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, media.ErrAssetEmpty)
			},
		},
		{
			name:     "store",
			resolver: &fakeResolver{body: "data"},
			storer:   &fakeStorer{err: errors.New("bucket denied")},
			ack:      storeFailed,
			check: func(t *testing.T, err error) {
				var sErr *StoreError
				assert.ErrorAs(t, err, &sErr)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ing := NewIngestor(nil, tt.resolver, tt.storer, nil, time.Second, 0)
			sess := detailsSession()
			next, ack, err := ing.Ingest(context.Background(), channel.Attachment{URL: "u"}, sess)
			tt.check(t, err)
			assert.Equal(t, tt.ack, ack)
			assert.Equal(t, sess, next)
		})
	}
}

func TestIngestEnforcesSizeLimit(t *testing.T) {
	t.Parallel()

	ing := NewIngestor(nil, &fakeResolver{body: "0123456789"}, &fakeStorer{}, nil, time.Second, 4)
	_, _, err := ing.Ingest(context.Background(), channel.Attachment{URL: "u"}, detailsSession())
	assert.ErrorIs(t, err, media.ErrAssetTooLarge)

	_, _, err = ing.Ingest(context.Background(), channel.Attachment{URL: "u", Size: 100}, detailsSession())
	assert.ErrorIs(t, err, media.ErrAssetTooLarge)
}

func TestIsSpreadsheet(t *testing.T) {
	t.Parallel()

	assert.True(t, IsSpreadsheet("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ""))
	assert.True(t, IsSpreadsheet("text/csv; charset=utf-8", ""))
	assert.True(t, IsSpreadsheet("application/octet-stream", "Customers.XLSX"))
	assert.False(t, IsSpreadsheet("image/jpeg", "photo.jpg"))
	assert.False(t, IsSpreadsheet("", ""))
}

func TestIngestBulkCSV(t *testing.T) {
	t.Parallel()

	csvData := "Customer Name, Contact  Number,ID\nJohn Smith,0123456789,1\n,,\nJane Doe,0987654321\n"
	sub := &fakeSubmitter{}
	ing := NewIngestor(nil, &fakeResolver{body: csvData, mime: "text/csv"}, &fakeStorer{}, sub, time.Second, 0)
	sess := session.New("telegram:9")

	result, ack, err := ing.IngestBulk(context.Background(), channel.Attachment{PlatformKey: "f1", Mime: "text/csv"}, sess)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Records)
	assert.Contains(t, ack, "#Q000001BULK01")

	require.Len(t, sub.inputs, 1)
	in := sub.inputs[0]
	assert.Equal(t, requests.TypeBulkCustomers, in.Type)
	assert.Equal(t, "unknown", in.Region)
	assert.Equal(t, "unknown", in.Store)
	assert.Equal(t, "https://files.example.com/abcd.pdf", in.AttachmentRef)
	assert.Equal(t, []string{"customer_name", "contact_number", "id"}, in.Payload["headers"])
	rows := in.Payload["rows"].([]map[string]string)
	assert.Equal(t, "Jane Doe", rows[1]["customer_name"])
	assert.Equal(t, "", rows[1]["id"])
	assert.NoError(t, requests.Validate(in.Type, in.Payload))
}

func TestIngestBulkWorkbook(t *testing.T) {
	t.Parallel()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Name", "Phone"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"Thabo", "0820000000"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	sub := &fakeSubmitter{}
	resolver := &fakeResolver{body: buf.String(), mime: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}
	ing := NewIngestor(nil, resolver, &fakeStorer{}, sub, time.Second, 0)
	sess := detailsSession()

	result, _, err := ing.IngestBulk(context.Background(), channel.Attachment{URL: "u", Name: "customers.xlsx"}, sess)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Records)
	require.Len(t, sub.inputs, 1)
	assert.Equal(t, "Kus", sub.inputs[0].Store)
	rows := sub.inputs[0].Payload["rows"].([]map[string]string)
	assert.Equal(t, map[string]string{"name": "Thabo", "phone": "0820000000"}, rows[0])
}

func TestIngestBulkRejectsGarbage(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	ing := NewIngestor(nil, &fakeResolver{body: "not a workbook"}, &fakeStorer{}, sub, time.Second, 0)
	_, ack, err := ing.IngestBulk(context.Background(), channel.Attachment{URL: "u", Name: "x.xlsx"}, detailsSession())
	assert.ErrorIs(t, err, ErrUnreadableSpreadsheet)
	assert.Equal(t, bulkFailed, ack)
	assert.Empty(t, sub.inputs)
}

func TestParseSpreadsheetSniffsContent(t *testing.T) {
	t.Parallel()

	headers, rows, err := parseSpreadsheet([]byte("Name,Phone\nThabo,0820000000\n"), "application/vnd.ms-excel", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "phone"}, headers)
	require.Len(t, rows, 1)
	assert.Equal(t, "Thabo", rows[0]["name"])

	legacy := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 1024)...)
	_, _, err = parseSpreadsheet(legacy, "application/vnd.ms-excel", "customers.xls")
	assert.ErrorIs(t, err, ErrUnreadableSpreadsheet)
	assert.Contains(t, err.Error(), "legacy")
}

func TestIngestBulkSubmitFailure(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{err: &submission.PersistenceError{Err: errors.New("db down")}}
	ing := NewIngestor(nil, &fakeResolver{body: "a\n1\n", mime: "text/csv"}, &fakeStorer{}, sub, time.Second, 0)
	_, ack, err := ing.IngestBulk(context.Background(), channel.Attachment{URL: "u"}, detailsSession())
	var pErr *submission.PersistenceError
	assert.ErrorAs(t, err, &pErr)
	assert.Equal(t, bulkRejected, ack)
}

func TestTabulateRequiresHeaders(t *testing.T) {
	t.Parallel()

	_, _, err := tabulate(nil)
	assert.ErrorIs(t, err, ErrUnreadableSpreadsheet)
	_, _, err = tabulate([][]string{{" ", ""}, {"a", "b"}})
	assert.ErrorIs(t, err, ErrUnreadableSpreadsheet)
}
