package signal

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/backupsentry/internal/model"
)

// File identifies one file of a scan batch.
type File struct {
	ID   string // stable id within the batch (relative path)
	Path string // absolute or working-directory path
}

// Collector runs the three extractors for a file concurrently and joins their
// results into one FileSignal. Extractor failures never abort a file: the
// component score becomes 0 and the signal is marked partial.
type Collector struct {
	heuristic  Extractor
	sensitive  Extractor
	classifier Extractor
	maxBytes   int
	logger     *slog.Logger
	flight     singleflight.Group

	// OnFailure, if set, is called once per failed extractor.
	OnFailure func(extractor string)
}

// NewCollector wires the three extractors. maxBytes <= 0 means no read limit.
func NewCollector(heuristic, sensitive, classifier Extractor, maxBytes int, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		heuristic:  heuristic,
		sensitive:  sensitive,
		classifier: classifier,
		maxBytes:   maxBytes,
		logger:     logger,
	}
}

// NewDefaultCollector builds the collector described by cfg. The returned
// closer releases the ONNX session when one was loaded.
func NewDefaultCollector(cfg Config, logger *slog.Logger) (*Collector, io.Closer, error) {
	var classifier Extractor = NewRansomClassifier(cfg)
	var closer io.Closer = nopCloser{}

	switch cfg.Classifier {
	case "", "heuristic":
	case "onnx":
		c, err := LoadONNXClassifier(cfg.ONNX)
		if err != nil {
			return nil, nil, fmt.Errorf("load classifier: %w", err)
		}
		classifier, closer = c, c
	default:
		return nil, nil, fmt.Errorf("unknown classifier %q", cfg.Classifier)
	}

	return NewCollector(NewHeuristic(cfg), NewSensitive(cfg), classifier, cfg.MaxBytes, logger), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Collect produces the FileSignal for f. The only error returned is the
// context's: a cancelled scan discards the in-flight signal.
//
// Concurrent callers on one path share a single collection. It runs detached
// from any caller's context, so one scan's cancellation never fails another.
func (c *Collector) Collect(ctx context.Context, f File) (model.FileSignal, error) {
	if err := ctx.Err(); err != nil {
		return model.FileSignal{}, err
	}
	ch := c.flight.DoChan(f.Path, func() (any, error) {
		return c.collect(context.WithoutCancel(ctx), f)
	})
	select {
	case <-ctx.Done():
		return model.FileSignal{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return model.FileSignal{}, r.Err
		}
		sig := r.Val.(model.FileSignal)
		// Shared results carry the first caller's id.
		sig.FileID = f.ID
		return sig, nil
	}
}

func (c *Collector) collect(ctx context.Context, f File) (model.FileSignal, error) {
	if err := ctx.Err(); err != nil {
		return model.FileSignal{}, err
	}

	in, content, readErr := c.read(f.Path)
	if readErr != nil {
		c.logger.Warn("file unreadable, scoring as partial", "file", f.ID, "error", readErr)
	}

	var scores [3]float64
	var failed [3]error
	extractors := [3]Extractor{c.heuristic, c.sensitive, c.classifier}

	g, gctx := errgroup.WithContext(ctx)
	for i, ex := range extractors {
		g.Go(func() error {
			s, err := runExtractor(gctx, ex, in)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failed[i] = err
				return nil
			}
			scores[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.FileSignal{}, err
	}

	sig := model.FileSignal{
		FileID:          f.ID,
		Path:            f.Path,
		HeuristicScore:  scores[0],
		SensitiveScore:  scores[1],
		ClassifierScore: scores[2],
		Size:            content.size,
		Digest:          content.digest,
		Truncated:       content.truncated,
	}
	for i, err := range failed {
		if err == nil {
			continue
		}
		sig.Partial = true
		sig.Failed = append(sig.Failed, extractors[i].Name())
		if c.OnFailure != nil {
			c.OnFailure(extractors[i].Name())
		}
		c.logger.Debug("extractor failed", "file", f.ID, "extractor", extractors[i].Name(), "error", err)
	}
	if rep, ok := c.sensitive.(EntityReporter); ok && failed[1] == nil {
		sig.Entities = rep.Entities(in)
	}
	return sig, nil
}

// runExtractor calls ex and converts panics and out-of-range scores into
// extraction errors.
func runExtractor(ctx context.Context, ex Extractor, in Input) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ExtractionError{Extractor: ex.Name(), Path: in.Path, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	score, err = ex.Score(ctx, in)
	if err != nil {
		var ee *ExtractionError
		if errors.As(err, &ee) || ctx.Err() != nil {
			return 0, err
		}
		return 0, &ExtractionError{Extractor: ex.Name(), Path: in.Path, Err: err}
	}
	if score != score || score < 0 || score > 1 {
		return 0, &ExtractionError{Extractor: ex.Name(), Path: in.Path, Err: fmt.Errorf("score %v out of range", score)}
	}
	return score, nil
}

// fileContent describes the whole file, not just the scanned prefix.
type fileContent struct {
	size      int64
	digest    string
	truncated bool
}

// read loads at most maxBytes of path and hashes all of it. On failure Data
// is nil so every extractor reports an ExtractionError, and no digest is
// recorded.
func (c *Collector) read(path string) (Input, fileContent, error) {
	in := Input{Path: path}
	var fc fileContent
	f, err := os.Open(path)
	if err != nil {
		return in, fc, err
	}
	defer f.Close()

	h := sha256.New()
	var r io.Reader = io.TeeReader(f, h)
	if c.maxBytes > 0 {
		r = io.LimitReader(r, int64(c.maxBytes))
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return in, fc, err
	}
	tail, err := io.Copy(h, f)
	if err != nil {
		return in, fc, err
	}
	if data == nil {
		data = []byte{}
	}
	in.Data = data
	fc.size = int64(len(data)) + tail
	fc.truncated = tail > 0
	fc.digest = model.FormatDigest(h.Sum(nil))
	return in, fc, nil
}
