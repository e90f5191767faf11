package app

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/relabs-tech/hive_monitor/internal/config"
	"github.com/relabs-tech/hive_monitor/internal/logging"
	"github.com/relabs-tech/hive_monitor/internal/record"
	"github.com/relabs-tech/hive_monitor/internal/scale"
)

// verifySamples is how many filtered weights are shown after calibrating.
const verifySamples = 3

// RunCalibration runs the guided flow against the load cell alone, prints
// the preset lines for the config file and then shows a few live weights
// so the operator can check the result.
func RunCalibration(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) (err error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cell, closeCell, err := OpenLoadCell(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeCell()) }()

	return calibrateAndVerify(ctx, cell, cfg, NewOperator(in, out), logger)
}

func calibrateAndVerify(ctx context.Context, src scale.RawSampleSource, cfg *config.Config, op *Operator, logger *zap.Logger) error {
	ctrl, err := scale.NewController(src, AcquireOptions(cfg), scale.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := GuidedCalibration(ctx, ctrl, cfg.CalibrationKnownGrams, op, logger); err != nil {
		return err
	}

	fmt.Fprintln(op.out, "\nAdd these lines to the config file:")
	WritePreset(op.out, ctrl.State())

	sampler := scale.NewSampler(ctrl, scale.SamplerOptions{
		MinValid:          cfg.MinValidReadings,
		InterReadingDelay: ms(cfg.InterReadingDelay),
		Logger:            logger,
	})
	fmt.Fprintln(op.out, "\nVerification:")
	for i := 0; i < verifySamples; i++ {
		grams, err := sampler.SampleFiltered(ctx, cfg.RawReadingsPerSample, cfg.TrimFraction)
		if err != nil {
			fmt.Fprintf(op.out, "  sample %d: %v\n", i+1, err)
			continue
		}
		fmt.Fprintf(op.out, "  sample %d: %.3f kg\n", i+1, record.GramsToKg(grams))
	}
	return ctx.Err()
}
