// Command logfst trains and decodes linear-chain log-linear FST models
// (spec.md §1-§9): the `train` subcommand runs the gradient/RPROP
// iteration loop, `decode` runs the Viterbi decoder or dumps a scored
// FST, and `features` lists a loaded model's feature table.
//
// Grounded on the teacher's cmd/lci/main.go: a single *cli.App with
// flag-bearing subcommands, signal-driven graceful shutdown, and a lone
// fatal-error exit point.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/logfst/internal/decode"
	"github.com/standardbeagle/logfst/internal/features"
	"github.com/standardbeagle/logfst/internal/fst"
	"github.com/standardbeagle/logfst/internal/gradient"
	"github.com/standardbeagle/logfst/internal/model"
	"github.com/standardbeagle/logfst/internal/progress"
	"github.com/standardbeagle/logfst/internal/rprop"
	"github.com/standardbeagle/logfst/internal/strpool"
	"github.com/standardbeagle/logfst/internal/tagconfig"
	"github.com/standardbeagle/logfst/internal/version"
)

func main() {
	app := &cli.App{
		Name:    "logfst",
		Usage:   "linear-chain log-linear FST training and decoding",
		Version: version.Version,
		Commands: []*cli.Command{
			trainCommand(),
			decodeCommand(),
			featuresCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

// fatal prints a single error line and exits non-zero, matching spec.md
// §7's "single `error: <message>` line on stderr" (every lferrors type
// already renders its Error() in that form). This is the module's sole
// os.Exit call site.
func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// sharedFlags are recognized by the train and decode subcommands: the CLI table's
// "String pool" and "Meta" categories, plus pattern/tag flags common to
// both training and decoding (spec.md §6).
func sharedFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{Name: "load-model", Usage: "model file to load (repeatable)"},
		&cli.StringSliceFlag{Name: "pattern", Usage: "feature pattern to compile (repeatable)"},
		&cli.StringSliceFlag{Name: "tag-start", Usage: "T:N, iteration a tag's features may start being created"},
		&cli.StringSliceFlag{Name: "tag-remove", Usage: "T:N, iteration at or after which a tag's zero-weight features may be pruned"},
		&cli.StringSliceFlag{Name: "tag-rho1", Usage: "[T:]V, L1 regularization weight"},
		&cli.StringSliceFlag{Name: "tag-rho2", Usage: "[T:]V, L2 regularization weight"},
		&cli.StringSliceFlag{Name: "tag-rho3", Usage: "[T:]V, frequency-weighted L1 regularization weight"},
		&cli.StringFlag{Name: "hyperconfig", Usage: "KDL file of per-tag start/remove/rho overrides (applied before the tag-* flags above)"},
		&cli.BoolFlag{Name: "ref-freq", Usage: "count feature frequency on reference FSTs instead of hypothesis FSTs"},
		&cli.IntFlag{Name: "min-freq", Usage: "minimum occurrence count below which a feature is pruned"},
		&cli.StringSliceFlag{Name: "str-load", Usage: "string pool file to load (repeatable)"},
		&cli.StringFlag{Name: "str-save", Usage: "string pool file to save"},
		&cli.BoolFlag{Name: "str-all", Usage: "retain every interned string, not only mandatory ones"},
		&cli.IntFlag{Name: "nthreads", Value: 1, Usage: "worker goroutines for the gradient/decode pass"},
		&cli.BoolFlag{Name: "verbose", Usage: "print per-iteration progress to stderr"},
	}
}

// setup loads the model, string pool, and feature generator shared by
// every subcommand, applying --hyperconfig then the tag-* flag overrides
// to mdl's windows (spec.md §4.5/§4.8, SPEC_FULL.md §A.4).
func setup(c *cli.Context) (mdl *model.Model, pool *strpool.Pool, gen *features.Generator, err error) {
	pool = strpool.New(c.Bool("str-all"))
	for _, path := range c.StringSlice("str-load") {
		if err := pool.Load(path); err != nil {
			return nil, nil, nil, err
		}
	}

	mdl = model.New(pool, 0)
	for _, path := range c.StringSlice("load-model") {
		if err := mdl.Load(path); err != nil {
			return nil, nil, nil, err
		}
	}
	mdl.MinFreq = c.Int("min-freq")

	if hc := c.String("hyperconfig"); hc != "" {
		file, err := tagconfig.LoadKDLFile(hc)
		if err != nil {
			return nil, nil, nil, err
		}
		file.ApplyToModel(mdl)
	}
	if err := applyTagWindows(c, mdl); err != nil {
		return nil, nil, nil, err
	}

	gen = features.New(pool, c.Bool("ref-freq"))
	for _, pat := range c.StringSlice("pattern") {
		if err := gen.AddPattern(pat); err != nil {
			return nil, nil, nil, err
		}
	}

	return mdl, pool, gen, nil
}

// applyTagWindows parses every --tag-start/--tag-remove flag value and
// pushes it onto mdl via SetWindow. A tag given only one of the two flags
// gets the other bound reset to its default (start 0, remove 1<<31-1),
// replacing any value a --hyperconfig file set for that bound.
func applyTagWindows(c *cli.Context, mdl *model.Model) error {
	starts := map[int]int{}
	removes := map[int]int{}
	for _, raw := range c.StringSlice("tag-start") {
		tag, val, err := tagconfig.ParseTaggedInt("tag-start", raw)
		if err != nil {
			return err
		}
		starts[tag] = val
	}
	for _, raw := range c.StringSlice("tag-remove") {
		tag, val, err := tagconfig.ParseTaggedInt("tag-remove", raw)
		if err != nil {
			return err
		}
		removes[tag] = val
	}
	for tag := range mergeIntKeys(starts, removes) {
		start, hasStart := starts[tag]
		remove, hasRemove := removes[tag]
		if !hasStart && !hasRemove {
			continue
		}
		if !hasStart {
			start = 0
		}
		if !hasRemove {
			remove = 1<<31 - 1
		}
		mdl.SetWindow(tag, start, remove)
	}
	return nil
}

func mergeIntKeys(maps ...map[int]int) map[int]struct{} {
	out := map[int]struct{}{}
	for _, m := range maps {
		for k := range m {
			out[k] = struct{}{}
		}
	}
	return out
}

// hyperparams builds the rprop.Hyperparams for a training run: the
// --hyperconfig file's rho overrides, then the --tag-rhoN flags, then
// the tag-0 inheritance fallback.
func hyperparams(c *cli.Context) (*rprop.Hyperparams, error) {
	h := rprop.NewHyperparams()
	h.StepInc = c.Float64("rbp-stpinc")
	h.StepDec = c.Float64("rbp-stpdec")
	h.StepMin = c.Float64("rbp-stpmin")
	h.StepMax = c.Float64("rbp-stpmax")

	if hc := c.String("hyperconfig"); hc != "" {
		file, err := tagconfig.LoadKDLFile(hc)
		if err != nil {
			return nil, err
		}
		file.ApplyToHyperparams(h)
	}

	for _, flag := range []string{"tag-rho1", "tag-rho2", "tag-rho3"} {
		for _, raw := range c.StringSlice(flag) {
			tag, val, err := tagconfig.ParseTaggedFloat(flag, raw)
			if err != nil {
				return nil, err
			}
			switch flag {
			case "tag-rho1":
				h.Rho1[tag] = val
			case "tag-rho2":
				h.Rho2[tag] = val
			case "tag-rho3":
				h.Rho3[tag] = val
			}
		}
	}

	h.ResolveTagOverrides()
	return h, nil
}

// expandGlobs expands every doublestar pattern in patterns against the
// filesystem, so a single --train-pos/--train-neg flag value can match
// many shard files (SPEC_FULL.md §B).
func expandGlobs(patterns []string) ([]string, error) {
	var out []string
	for _, pat := range patterns {
		matches, err := doublestar.FilepathGlob(pat)
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", pat, err)
		}
		if len(matches) == 0 {
			out = append(out, pat) // plain path, or a pattern matching nothing yet
			continue
		}
		out = append(out, matches...)
	}
	return out, nil
}

// loadDataset loads every file matched by patterns into one dataset,
// tagging each FST's Mult.
func loadDataset(patterns []string, mdl *model.Model, mult float64) (*fst.Dataset, error) {
	paths, err := expandGlobs(patterns)
	if err != nil {
		return nil, err
	}
	dat := &fst.Dataset{}
	for _, path := range paths {
		if err := dat.LoadFile(path, mdl, mult, 0); err != nil {
			return nil, err
		}
	}
	return dat, nil
}

func trainCommand() *cli.Command {
	flags := append(sharedFlags(),
		&cli.StringFlag{Name: "save-model", Usage: "path to write the trained model"},
		&cli.StringFlag{Name: "save-model-per-iter", Usage: "printf-style (%d) template; writes the model after every iteration"},
		&cli.BoolFlag{Name: "compact-before-save", Usage: "prune zero-weight/low-frequency features before the final save"},
		&cli.StringFlag{Name: "dump-features-file", Usage: "write every inserted feature's id/token hashes here"},
		&cli.StringSliceFlag{Name: "train-pos", Usage: "hypothesis FST file or glob (repeatable, multiplier +1)"},
		&cli.StringSliceFlag{Name: "train-neg", Usage: "reference FST file or glob (repeatable, multiplier -1)"},
		&cli.StringFlag{Name: "devel-spc", Usage: "held-out dataset decoded every devel iteration (1-best hypotheses)"},
		&cli.StringFlag{Name: "devel-out", Usage: "printf-style (%d) template for devel-spc output"},
		&cli.StringFlag{Name: "test-spc", Usage: "held-out dataset decoded once after training (1-best hypotheses)"},
		&cli.StringFlag{Name: "test-out", Usage: "output path for test-spc's decoded hypotheses"},
		&cli.StringFlag{Name: "test-fst", Usage: "output path for test-spc's scored-FST dump instead of hypotheses"},
		&cli.IntFlag{Name: "iterations", Value: 1, Usage: "number of gradient/RPROP iterations to run"},
		&cli.IntFlag{Name: "cache-lvl", Value: 0, Usage: "per-FST cache retention between iterations (0-4)"},
		&cli.Float64Flag{Name: "rbp-stpinc", Value: 1.2},
		&cli.Float64Flag{Name: "rbp-stpdec", Value: 0.5},
		&cli.Float64Flag{Name: "rbp-stpmin", Value: 1e-8},
		&cli.Float64Flag{Name: "rbp-stpmax", Value: 50.0},
	)

	return &cli.Command{
		Name:  "train",
		Usage: "run the gradient/RPROP training loop over a labeled dataset",
		Flags: flags,
		Action: func(c *cli.Context) error {
			return runTrain(c)
		},
	}
}

func runTrain(c *cli.Context) error {
	runID := uuid.New().String()

	mdl, pool, gen, err := setup(c)
	if err != nil {
		return err
	}
	if dumpPath := c.String("dump-features-file"); dumpPath != "" {
		if err := mdl.EnableDump(dumpPath); err != nil {
			return err
		}
		defer mdl.CloseDump()
	}

	pos, err := loadDataset(c.StringSlice("train-pos"), mdl, 1.0)
	if err != nil {
		return err
	}
	neg, err := loadDataset(c.StringSlice("train-neg"), mdl, -1.0)
	if err != nil {
		return err
	}
	dat := &fst.Dataset{FSTs: append(append([]*fst.FST{}, pos.FSTs...), neg.FSTs...)}

	hp, err := hyperparams(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if _, ok := <-sigCh; ok {
			fmt.Fprintf(os.Stderr, "run %s: signal received, draining in-flight workers\n", runID)
			cancel()
		}
	}()
	defer signal.Stop(sigCh)

	eng := gradient.New(mdl, gen, dat)
	eng.NumThreads = c.Int("nthreads")
	eng.Cache = gradient.CacheLevel(c.Int("cache-lvl"))

	opt := rprop.New(hp, os.Stderr)
	if c.Bool("verbose") {
		bar := progress.New(os.Stderr, int64(len(dat.FSTs)/49+1))
		eng.Tick = bar.Next
		opt.Bar = progress.New(os.Stderr, 1)
	}

	iterations := c.Int("iterations")
	for iter := 0; iter < iterations; iter++ {
		mdl.SetIter(iter)

		if c.Bool("verbose") {
			fmt.Fprintf(os.Stderr, "run %s: iteration %d/%d\n", runID, iter+1, iterations)
		}

		ll, err := eng.Compute(ctx)
		if err != nil {
			return err
		}
		opt.Step(mdl, ll)

		if template := c.String("save-model-per-iter"); template != "" {
			if err := mdl.Save(fmt.Sprintf(template, iter)); err != nil {
				return err
			}
		}

		if err := runDevelEvaluation(c, mdl, pool, iter); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	if err := runTestEvaluation(c, mdl, pool); err != nil {
		return err
	}

	if c.Bool("compact-before-save") {
		compactModel(mdl)
	}

	if strSavePath := c.String("str-save"); strSavePath != "" {
		if err := pool.Save(strSavePath); err != nil {
			return err
		}
	}
	if savePath := c.String("save-model"); savePath != "" {
		if err := mdl.Save(savePath); err != nil {
			return err
		}
	}
	return nil
}

// compactModel runs one zero-regularization RPROP sweep to prune
// below-MinFreq features (Step's Frq branch fires regardless of a tag's
// window), with the model's iteration pinned at 1<<31-1, at or past every
// tag's remove bound, so zero-weight features are pruned for every tag;
// Shrink then removes any zero-weight feature still left (SPEC_FULL.md §C,
// original_source mdl_shrink). The sweep's Hyperparams carries all-zero
// rho so the pass only prunes and never perturbs a surviving feature's
// weight.
func compactModel(mdl *model.Model) {
	mdl.SetIter(1<<31 - 1)
	opt := rprop.New(&rprop.Hyperparams{}, nil)
	opt.Step(mdl, 0)
	mdl.Shrink()
}

// runDevelEvaluation decodes --devel-spc against the current model
// after each iteration, if configured (SPEC_FULL.md §C).
func runDevelEvaluation(c *cli.Context, mdl *model.Model, pool *strpool.Pool, iter int) error {
	develPath := c.String("devel-spc")
	outTemplate := c.String("devel-out")
	if develPath == "" || outTemplate == "" {
		return nil
	}
	dat, err := loadDataset([]string{develPath}, mdl, 1.0)
	if err != nil {
		return err
	}
	outPath := fmt.Sprintf(outTemplate, iter)
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()

	gen := features.New(pool, c.Bool("ref-freq"))
	for _, pat := range c.StringSlice("pattern") {
		if err := gen.AddPattern(pat); err != nil {
			return err
		}
	}
	dec := decode.New(mdl, gen, dat, pool, f)
	return dec.Decode()
}

// runTestEvaluation decodes --test-spc once after training completes,
// to either --test-out (1-best hypotheses) or --test-fst (scored-FST
// dump), if configured (SPEC_FULL.md §C).
func runTestEvaluation(c *cli.Context, mdl *model.Model, pool *strpool.Pool) error {
	testPath := c.String("test-spc")
	if testPath == "" {
		return nil
	}
	dat, err := loadDataset([]string{testPath}, mdl, 1.0)
	if err != nil {
		return err
	}

	gen := features.New(pool, c.Bool("ref-freq"))
	for _, pat := range c.StringSlice("pattern") {
		if err := gen.AddPattern(pat); err != nil {
			return err
		}
	}

	if fstPath := c.String("test-fst"); fstPath != "" {
		f, err := os.Create(fstPath)
		if err != nil {
			return err
		}
		defer f.Close()
		dec := decode.New(mdl, gen, dat, pool, f)
		dec.Dump = true
		return dec.Decode()
	}

	out := openOutput(c.String("test-out"))
	if closer, ok := out.(*os.File); ok && closer != os.Stdout {
		defer closer.Close()
	}
	dec := decode.New(mdl, gen, dat, pool, out)
	return dec.Decode()
}

func decodeCommand() *cli.Command {
	flags := append(sharedFlags(),
		&cli.StringFlag{Name: "input", Required: true, Usage: "dataset file or glob to decode"},
		&cli.StringFlag{Name: "output", Value: "-", Usage: "output path, or - for stdout"},
		&cli.BoolFlag{Name: "dump", Usage: "write a scored-FST dump instead of 1-best hypotheses"},
	)
	return &cli.Command{
		Name:  "decode",
		Usage: "decode a dataset against a trained model",
		Flags: flags,
		Action: func(c *cli.Context) error {
			mdl, pool, gen, err := setup(c)
			if err != nil {
				return err
			}
			dat, err := loadDataset([]string{c.String("input")}, mdl, 1.0)
			if err != nil {
				return err
			}
			out := openOutput(c.String("output"))
			if closer, ok := out.(*os.File); ok && closer != os.Stdout {
				defer closer.Close()
			}

			dec := decode.New(mdl, gen, dat, pool, out)
			dec.Dump = c.Bool("dump")
			if c.Bool("verbose") {
				dec.Bar = progress.New(os.Stderr, int64(len(dat.FSTs)/49+1))
			}
			return dec.Decode()
		},
	}
}

func featuresCommand() *cli.Command {
	return &cli.Command{
		Name:  "features",
		Usage: "list every feature in a loaded model, sorted by tag then id",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "load-model", Usage: "model file to load (repeatable)"},
			&cli.StringFlag{Name: "output", Value: "-", Usage: "output path, or - for stdout"},
		},
		Action: func(c *cli.Context) error {
			pool := strpool.New(false)
			mdl := model.New(pool, 0)
			for _, path := range c.StringSlice("load-model") {
				if err := mdl.Load(path); err != nil {
					return err
				}
			}

			out := openOutput(c.String("output"))
			if closer, ok := out.(*os.File); ok && closer != os.Stdout {
				defer closer.Close()
			}
			return writeFeatures(mdl, out)
		},
	}
}

// writeFeatures prints every feature as "<tag> <id-hex> <weight> <frq>",
// sorted by tag then id (SPEC_FULL.md §C).
func writeFeatures(mdl *model.Model, out io.Writer) error {
	var ids []uint64
	mdl.Range(func(id uint64, rec *model.FeatureRecord) bool {
		ids = append(ids, id)
		return true
	})
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := int(ids[i]>>56), int(ids[j]>>56)
		if ti != tj {
			return ti < tj
		}
		return ids[i] < ids[j]
	})
	for _, id := range ids {
		rec, ok := mdl.Features.Find(id)
		if !ok {
			continue
		}
		fmt.Fprintf(out, "%d %016x %.14f %d\n", rec.Tag(), id, rec.X, rec.Frq.Load())
	}
	return nil
}

// openOutput opens path for writing, or returns os.Stdout for "-"/"".
func openOutput(path string) io.Writer {
	if path == "" || path == "-" {
		return os.Stdout
	}
	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.Create(path)
	if err != nil {
		fatal(err)
	}
	return f
}
