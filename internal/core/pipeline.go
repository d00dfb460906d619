// Package core wires the pipeline stages together: parse and normalize
// fan out over a worker pool, deduplication runs behind a barrier, and
// the writer emits deterministic bytes through an atomic temp-file
// rename.
package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bettervcard/vcardkit/internal/core/dedupe"
	"github.com/bettervcard/vcardkit/internal/core/model"
	"github.com/bettervcard/vcardkit/internal/core/normalize"
	"github.com/bettervcard/vcardkit/internal/vcard"
)

// Input names one source and knows how to open it. Paths and archive
// members both fit.
type Input struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FileInput adapts a filesystem path.
func FileInput(path string) Input {
	return Input{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// Pipeline runs the whole transformation for one configuration.
type Pipeline struct {
	cfg    model.Config
	log    zerolog.Logger
	writer *vcard.Writer
}

// New builds a pipeline. The logger may be zerolog.Nop().
func New(cfg model.Config, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		log:    log,
		writer: vcard.NewWriter(cfg.KeepPhotos),
	}
}

// Writer exposes the pipeline's writer so callers can pin its clock.
func (p *Pipeline) Writer() *vcard.Writer { return p.writer }

// normalized is one record's outcome: either a contact or, for a
// record-scoped parse failure, just the findings. Findings travel with
// the record so the report fills in input order.
type normalized struct {
	seq      int
	contact  *model.CanonicalContact
	findings []model.Finding
}

// Run executes parse, normalize, dedupe, validate and write. On
// success the output is atomically promoted to dest; in strict mode any
// hard finding aborts before anything is visible. The report is
// returned even when the run fails validation.
func (p *Pipeline) Run(ctx context.Context, inputs []Input, dest string) (*model.Report, error) {
	report := &model.Report{}
	engine := dedupe.New()

	var lastChunk map[model.ClusterKey]int
	if p.cfg.ChunkSize > 0 {
		// key-presence pre-pass: one extra read buys strict memory
		// bounds, because a cluster can close as soon as no later
		// chunk holds any of its keys
		lc, err := p.keyPrePass(ctx, inputs)
		if err != nil {
			return report, err
		}
		lastChunk = lc
	}

	var merged []*model.CanonicalContact
	var decisions []model.MergeDecision

	chunkOf := func(seq int) int {
		if p.cfg.ChunkSize <= 0 {
			return 0
		}
		return seq / p.cfg.ChunkSize
	}

	current := -1
	err := p.eachNormalized(ctx, inputs, report, func(n normalized) {
		ch := chunkOf(n.seq)
		if lastChunk != nil && ch != current && current >= 0 {
			contacts, decs, fs := engine.FlushClosed(current, lastChunk)
			merged = append(merged, contacts...)
			decisions = append(decisions, decs...)
			for _, f := range fs {
				report.Add(f)
			}
		}
		current = ch
		engine.Add(n.contact)
	})
	if err != nil {
		return report, err
	}

	contacts, decs, fs := engine.FlushAll()
	merged = append(merged, contacts...)
	decisions = append(decisions, decs...)
	for _, f := range fs {
		report.Add(f)
	}

	// deterministic output order, independent of arrival order
	for _, c := range merged {
		if c.UID == "" {
			c.UID = vcard.GeneratedUID(c)
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].UID < merged[j].UID })

	var out []*model.CanonicalContact
	for _, c := range merged {
		cfs := vcard.ValidateContact(c)
		for _, f := range cfs {
			report.Add(f)
		}
		if model.HardCount(cfs) > 0 {
			p.log.Warn().Str("uid", c.UID).Msg("contact excluded by hard finding")
			continue
		}
		out = append(out, c)
	}
	report.ContactsOut = len(out)
	p.fillClusters(report, decisions, merged)

	if p.cfg.Strict && report.HardFindings > 0 {
		report.Status = model.ExitFailed
		return report, fmt.Errorf("strict mode: %d hard finding(s)", report.HardFindings)
	}

	data := p.writer.EncodeAll(out)
	ofs := vcard.ValidateOutput(data)
	for _, f := range ofs {
		report.Add(f)
	}
	if model.HardCount(ofs) > 0 {
		report.Status = model.ExitFailed
		return report, fmt.Errorf("output failed strict validation with %d hard finding(s)", model.HardCount(ofs))
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	if !p.cfg.DryRun {
		if err := atomicWrite(dest, data); err != nil {
			report.Status = model.ExitFailed
			return report, fmt.Errorf("write output: %w", err)
		}
	}

	if report.SoftFindings > 0 || report.HardFindings > 0 {
		report.Status = model.ExitSoftFindings
	}
	if report.HardFindings > 0 && p.cfg.Strict {
		report.Status = model.ExitFailed
	}
	p.log.Info().
		Int("records_in", report.RecordsIn).
		Int("contacts_out", report.ContactsOut).
		Int("hard", report.HardFindings).
		Int("soft", report.SoftFindings).
		Msg("run complete")
	return report, nil
}

// eachNormalized streams parse+normalize results to fn in input order.
// Records are independent, so normalization fans out over a worker
// pool; an order-preserving funnel keyed by sequence number puts the
// results back in input order before the dedupe barrier. The report is
// only ever touched from the funnel goroutine, and fn runs there too,
// which is what makes the dedupe engine's single-writer discipline
// hold for free.
func (p *Pipeline) eachNormalized(ctx context.Context, inputs []Input, report *model.Report, fn func(normalized)) error {
	workers := p.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	type job struct {
		seq int
		rec *vcard.Record
	}
	jobs := make(chan job, workers)
	results := make(chan normalized, workers)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		seq := 0
		for _, in := range inputs {
			rc, err := in.Open()
			if err != nil {
				return fmt.Errorf("open %s: %w", in.Name, err)
			}
			rd := vcard.NewReader(rc, in.Name)
			for {
				rec, err := rd.Next()
				if err == io.EOF {
					break
				}
				if pe, ok := err.(*vcard.ParseError); ok {
					// record-scoped: report and keep parsing
					item := normalized{seq: seq, findings: []model.Finding{{
						Severity: model.Hard,
						Code:     model.CodeMalformedBlock,
						Message:  pe.Message,
						Source:   pe.Source,
					}}}
					select {
					case results <- item:
					case <-ctx.Done():
						rc.Close()
						return ctx.Err()
					}
					seq++
					continue
				}
				if err != nil {
					rc.Close()
					return fmt.Errorf("parse %s: %w", in.Name, err)
				}
				select {
				case jobs <- job{seq: seq, rec: rec}:
				case <-ctx.Done():
					rc.Close()
					return ctx.Err()
				}
				seq++
			}
			rc.Close()
		}
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for j := range jobs {
				fs := vcard.SoftFindings(j.rec)
				contact, nfs := normalize.Record(p.cfg, j.rec)
				select {
				case results <- normalized{seq: j.seq, contact: contact, findings: append(fs, nfs...)}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// order-preserving funnel
	pending := map[int]normalized{}
	next := 0
	g.Go(func() error {
		for n := range results {
			pending[n.seq] = n
			for {
				r, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				report.RecordsIn++
				for _, f := range r.findings {
					report.Add(f)
				}
				if r.contact != nil {
					fn(r)
				}
				next++
			}
		}
		return nil
	})

	return g.Wait()
}

// keyPrePass reads every input once, recording the last chunk index in
// which each clustering key appears.
func (p *Pipeline) keyPrePass(ctx context.Context, inputs []Input) (map[model.ClusterKey]int, error) {
	last := map[model.ClusterKey]int{}
	scratch := &model.Report{}
	err := p.eachNormalized(ctx, inputs, scratch, func(n normalized) {
		ch := n.seq / p.cfg.ChunkSize
		for _, k := range dedupe.Keys(n.contact) {
			last[k] = ch
		}
	})
	if err != nil {
		return nil, err
	}
	return last, nil
}

func (p *Pipeline) fillClusters(report *model.Report, decisions []model.MergeDecision, merged []*model.CanonicalContact) {
	bySource := map[string]*model.CanonicalContact{}
	for _, c := range merged {
		for _, s := range c.Sources {
			bySource[s] = c
		}
	}
	sort.Slice(decisions, func(i, j int) bool { return decisions[i].BaseID < decisions[j].BaseID })
	for _, d := range decisions {
		cr := model.ClusterReport{
			BaseID:    d.BaseID,
			Absorbed:  d.Absorbed,
			Reason:    d.ReasonStr,
			Conflicts: d.Conflicts,
		}
		if c := bySource[d.BaseID]; c != nil {
			cr.Emails = len(c.Emails)
			cr.Phones = len(c.Phones)
			cr.Photos = len(c.Photos)
		}
		report.Clusters = append(report.Clusters, cr)
	}
}

// atomicWrite lands data at dest via a temp file and rename, so a
// cancelled or failed run never leaves a partial output visible.
func atomicWrite(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".vcardkit-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
