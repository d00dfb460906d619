package core

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bettervcard/vcardkit/internal/core/model"
	"github.com/bettervcard/vcardkit/internal/core/normalize"
	"github.com/bettervcard/vcardkit/internal/vcard"
)

func memInput(name, data string) Input {
	return Input{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(data)), nil
		},
	}
}

func newTestPipeline(cfg model.Config) *Pipeline {
	p := New(cfg, zerolog.Nop())
	p.Writer().Now = func() time.Time {
		return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return p
}

const cardJaneA = "BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:Jane Doe\r\n" +
	"EMAIL;TYPE=HOME:jane@example.com\r\n" +
	"TEL;TYPE=CELL:(650) 253-0000\r\n" +
	"END:VCARD\r\n"

const cardJaneB = "BEGIN:VCARD\r\n" +
	"VERSION:2.1\r\n" +
	"FN:JANE DOE\r\n" +
	"EMAIL;INTERNET:JANE@EXAMPLE.COM\r\n" +
	"ORG:Acme Corp\r\n" +
	"END:VCARD\r\n"

const cardBob = "BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:Bob Smith\r\n" +
	"EMAIL:bob@example.com\r\n" +
	"END:VCARD\r\n"

func runPipeline(t *testing.T, cfg model.Config, inputs ...Input) (*model.Report, string) {
	t.Helper()
	dest := filepath.Join(t.TempDir(), "out.vcf")
	p := newTestPipeline(cfg)
	report, err := p.Run(context.Background(), inputs, dest)
	require.NoError(t, err)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	return report, string(data)
}

func TestRunMergesAcrossInputs(t *testing.T) {
	report, out := runPipeline(t, model.DefaultConfig(),
		memInput("a.vcf", cardJaneA), memInput("b.vcf", cardJaneB+cardBob))

	assert.Equal(t, 3, report.RecordsIn)
	assert.Equal(t, 2, report.ContactsOut)
	require.Len(t, report.Clusters, 1)
	assert.Equal(t, "email", report.Clusters[0].Reason)

	// the merged card carries the union of both Jane records
	assert.Equal(t, 2, strings.Count(out, "BEGIN:VCARD"))
	assert.Contains(t, out, "FN:Jane Doe")
	assert.Contains(t, out, "EMAIL")
	assert.Contains(t, out, "ORG:Acme Corp")
	assert.Contains(t, out, "TEL;TYPE=cell;VALUE=uri:tel:+16502530000")
	assert.Contains(t, out, "PRODID:"+"-//BetterVCardTools//v1.0//EN")

	// output itself passes strict validation
	assert.Zero(t, model.HardCount(vcard.ValidateOutput([]byte(out))))
}

func TestRunOutputIsPermutationInvariant(t *testing.T) {
	cfg := model.DefaultConfig()
	_, out1 := runPipeline(t, cfg,
		memInput("a.vcf", cardJaneA+cardBob), memInput("b.vcf", cardJaneB))
	_, out2 := runPipeline(t, cfg,
		memInput("b.vcf", cardJaneB), memInput("a.vcf", cardBob+cardJaneA))

	assert.Equal(t, out1, out2, "byte output must not depend on record order")
}

func TestRunPhotoRoundTripsByteIdentical(t *testing.T) {
	const b64 = "/9j/4AAQSkZJRgABAQAAAQ=="
	card := "BEGIN:VCARD\r\n" +
		"VERSION:2.1\r\n" +
		"FN:Pat Photo\r\n" +
		"EMAIL:pat@example.com\r\n" +
		"PHOTO;ENCODING=BASE64;TYPE=JPEG:" + b64 + "\r\n" +
		"END:VCARD\r\n"

	_, out := runPipeline(t, model.DefaultConfig(), memInput("a.vcf", card))
	unfolded := strings.ReplaceAll(out, "\r\n ", "")
	assert.Contains(t, unfolded, "PHOTO:data:image/jpeg;base64,"+b64)
}

func TestRunSkipsMalformedRecordNonStrict(t *testing.T) {
	broken := "BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Half\r\n" // never terminated
	report, out := runPipeline(t, model.DefaultConfig(),
		memInput("a.vcf", cardBob+broken))

	assert.Equal(t, 1, report.ContactsOut)
	assert.Contains(t, out, "FN:Bob Smith")
	assert.Positive(t, report.HardFindings)

	found := false
	for _, f := range report.Findings {
		if f.Code == model.CodeMalformedBlock {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunStrictAbortsBeforeWriting(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Strict = true
	dest := filepath.Join(t.TempDir(), "out.vcf")
	p := newTestPipeline(cfg)

	broken := "BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Half\r\n"
	report, err := p.Run(context.Background(), []Input{memInput("a.vcf", broken)}, dest)
	require.Error(t, err)
	assert.Equal(t, model.ExitFailed, report.Status)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "strict abort must not leave an output file")
}

func TestRunDryRunWritesNothing(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.DryRun = true
	dest := filepath.Join(t.TempDir(), "out.vcf")
	p := newTestPipeline(cfg)

	report, err := p.Run(context.Background(), []Input{memInput("a.vcf", cardBob)}, dest)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ContactsOut)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunChunkedMatchesBatch(t *testing.T) {
	inputs := func() []Input {
		return []Input{
			memInput("a.vcf", cardJaneA+cardBob),
			memInput("b.vcf", cardJaneB),
		}
	}

	batchCfg := model.DefaultConfig()
	_, batch := runPipeline(t, batchCfg, inputs()...)

	chunkCfg := model.DefaultConfig()
	chunkCfg.ChunkSize = 2
	_, chunked := runPipeline(t, chunkCfg, inputs()...)

	assert.Equal(t, batch, chunked, "chunked streaming must not change the output")
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := filepath.Join(t.TempDir(), "out.vcf")
	p := newTestPipeline(model.DefaultConfig())
	_, err := p.Run(ctx, []Input{memInput("a.vcf", cardBob)}, dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

// A full round trip: pipeline output parsed and normalized again yields
// the same contacts, modulo run metadata.
func TestRunOutputRoundTrips(t *testing.T) {
	cfg := model.DefaultConfig()
	report, out := runPipeline(t, cfg,
		memInput("a.vcf", cardJaneA), memInput("b.vcf", cardJaneB+cardBob))
	require.Equal(t, 2, report.ContactsOut)

	recs, perrs := vcard.ParseBytes([]byte(out), "out.vcf")
	require.Empty(t, perrs)
	require.Len(t, recs, 2)

	var contacts []*model.CanonicalContact
	for _, rec := range recs {
		c, fs := normalize.Record(cfg, rec)
		assert.Zero(t, model.HardCount(fs))
		contacts = append(contacts, c)
	}

	var jane *model.CanonicalContact
	for _, c := range contacts {
		if strings.Contains(c.FormattedName, "Jane") {
			jane = c
		}
	}
	require.NotNil(t, jane)
	assert.NotEmpty(t, jane.UID)
	require.Len(t, jane.Emails, 1)
	assert.Equal(t, "jane@example.com", jane.Emails[0].Value)
	require.Len(t, jane.Phones, 1)
	assert.Equal(t, "+16502530000", jane.Phones[0].Value)
	assert.Equal(t, []string{"Acme Corp"}, jane.Org)
}

func TestFileInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contacts.vcf")
	require.NoError(t, os.WriteFile(path, []byte(cardBob), 0o644))

	in := FileInput(path)
	assert.Equal(t, "contacts.vcf", in.Name)
	rc, err := in.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, cardBob, string(data))
}
