package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/relabs-tech/hive_monitor/internal/config"
	"github.com/relabs-tech/hive_monitor/internal/scale"
)

// ErrCalibrationAborted is returned when the operator input ends before the
// guided flow completes.
var ErrCalibrationAborted = errors.New("calibration aborted")

// Operator is the console the guided calibration flow talks to.
type Operator struct {
	in  *bufio.Reader
	out io.Writer
}

// NewOperator reads answers from in and writes prompts to out.
func NewOperator(in io.Reader, out io.Writer) *Operator {
	return &Operator{in: bufio.NewReader(in), out: out}
}

// confirm prints msg and waits for Enter.
func (o *Operator) confirm(msg string) error {
	fmt.Fprintf(o.out, "%s, then press Enter... ", msg)
	if _, err := o.in.ReadString('\n'); err != nil {
		return fmt.Errorf("%w: %v", ErrCalibrationAborted, err)
	}
	return nil
}

// CalibrateScale brings ctrl into the state CALIBRATION_MODE asks for.
// Failure is fatal to startup.
func CalibrateScale(ctx context.Context, ctrl *scale.Controller, cfg *config.Config, op *Operator, logger *zap.Logger) error {
	switch cfg.CalibrationMode {
	case config.CalibrationPreset:
		if err := ctrl.Restore(cfg.CalibrationZeroOffset, cfg.CalibrationScaleFactor); err != nil {
			return fmt.Errorf("restore calibration: %w", err)
		}
		logger.Info("calibration restored",
			zap.Float64("zero_offset", cfg.CalibrationZeroOffset),
			zap.Float64("scale_factor", cfg.CalibrationScaleFactor))
		return nil
	case config.CalibrationSkip:
		logger.Warn("running uncalibrated, weight will report not_calibrated")
		return nil
	default:
		return GuidedCalibration(ctx, ctrl, cfg.CalibrationKnownGrams, op, logger)
	}
}

// GuidedCalibration tares the empty platform, then calibrates against
// knownGrams placed by the operator.
func GuidedCalibration(ctx context.Context, ctrl *scale.Controller, knownGrams float64, op *Operator, logger *zap.Logger) error {
	if err := op.confirm("Remove all weight from the scale"); err != nil {
		return err
	}
	fmt.Fprintln(op.out, "Taring...")
	zero, err := ctrl.Tare(ctx)
	if err != nil {
		return fmt.Errorf("tare: %w", err)
	}
	fmt.Fprintf(op.out, "Zero offset: %.2f\n", zero)
	logger.Info("tare complete", zap.Float64("zero_offset", zero))

	if err := op.confirm(fmt.Sprintf("Place the known weight of %.0f g on the scale", knownGrams)); err != nil {
		return err
	}
	fmt.Fprintln(op.out, "Calibrating...")
	factor, err := ctrl.Calibrate(ctx, knownGrams)
	if err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}
	fmt.Fprintf(op.out, "Scale factor: %.6f\n", factor)
	logger.Info("calibration complete", zap.Float64("scale_factor", factor), zap.Float64("known_grams", knownGrams))
	return nil
}

// WritePreset prints the config lines that restore st without a guided run.
func WritePreset(w io.Writer, st scale.State) {
	fmt.Fprintf(w, "CALIBRATION_MODE=%s\n", config.CalibrationPreset)
	fmt.Fprintf(w, "CALIBRATION_ZERO_OFFSET=%g\n", st.ZeroOffset)
	fmt.Fprintf(w, "CALIBRATION_SCALE_FACTOR=%g\n", st.ScaleFactor)
}
