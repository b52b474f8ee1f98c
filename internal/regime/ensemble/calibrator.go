package ensemble

import (
	"encoding/json"
	"fmt"
)

// CalibratorConfig tunes the binned-accuracy calibration. Zero values take
// the defaults. Decay < 1 multiplies all bin counts before each update so
// recent accuracy dominates after distribution shift; the default 1.0 keeps
// the full history.
type CalibratorConfig struct {
	Bins       int
	MinSamples int
	Blend      float64
	Decay      float64
}

func (c *CalibratorConfig) applyDefaults() error {
	if c.Bins == 0 {
		c.Bins = 10
	}
	if c.MinSamples == 0 {
		c.MinSamples = 10
	}
	if c.Blend == 0 {
		c.Blend = 0.5
	}
	if c.Decay == 0 {
		c.Decay = 1.0
	}
	if c.Bins < 1 {
		return fmt.Errorf("%w: bins must be >= 1", ErrInvalidConfig)
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("%w: min samples must be >= 1", ErrInvalidConfig)
	}
	if c.Blend < 0 || c.Blend > 1 {
		return fmt.Errorf("%w: blend must be in [0,1]", ErrInvalidConfig)
	}
	if c.Decay <= 0 || c.Decay > 1 {
		return fmt.Errorf("%w: decay must be in (0,1]", ErrInvalidConfig)
	}
	return nil
}

// CalibrationBin tracks outcomes for one confidence decile. Counts are
// floats so decay can scale them.
type CalibrationBin struct {
	Count   float64 `json:"count"`
	Correct float64 `json:"correct"`
}

// Calibrator maintains binned historical accuracy and maps raw ensemble
// confidence to a calibrated value. Update mutates shared state and is not
// internally synchronized; serialize access when calling from workers.
type Calibrator struct {
	cfg  CalibratorConfig
	bins []CalibrationBin
}

func NewCalibrator(cfg CalibratorConfig) (*Calibrator, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &Calibrator{cfg: cfg, bins: make([]CalibrationBin, cfg.Bins)}, nil
}

// Update records one resolved prediction into the bin for its predicted
// confidence.
func (c *Calibrator) Update(predictedConfidence float64, wasCorrect bool) error {
	if predictedConfidence < 0 || predictedConfidence > 1 {
		return fmt.Errorf("%w: confidence %.4f outside [0,1]", ErrInvalidInput, predictedConfidence)
	}
	if c.cfg.Decay < 1 {
		for i := range c.bins {
			c.bins[i].Count *= c.cfg.Decay
			c.bins[i].Correct *= c.cfg.Decay
		}
	}
	idx := c.binIndex(predictedConfidence)
	c.bins[idx].Count++
	if wasCorrect {
		c.bins[idx].Correct++
	}
	return nil
}

// Calibrate blends the raw confidence with the empirical accuracy of its
// bin. Bins below the minimum sample count pass the raw value through
// unchanged: too little history to calibrate against is a legitimate state,
// not an error, and overfitting calibration to noise is worse than not
// calibrating.
func (c *Calibrator) Calibrate(raw float64) float64 {
	if raw < 0 {
		raw = 0
	}
	if raw > 1 {
		raw = 1
	}
	bin := c.bins[c.binIndex(raw)]
	if bin.Count < float64(c.cfg.MinSamples) {
		return raw
	}
	accuracy := bin.Correct / bin.Count
	return (1-c.cfg.Blend)*raw + c.cfg.Blend*accuracy
}

func (c *Calibrator) binIndex(confidence float64) int {
	idx := int(confidence * float64(c.cfg.Bins))
	if idx >= c.cfg.Bins {
		idx = c.cfg.Bins - 1
	}
	return idx
}

// Bins returns a copy of the bin table.
func (c *Calibrator) Bins() []CalibrationBin {
	return append([]CalibrationBin(nil), c.bins...)
}

// MarshalBinary serializes the bin state for persistence.
func (c *Calibrator) MarshalBinary() ([]byte, error) {
	return json.Marshal(c.bins)
}

// UnmarshalBinary restores previously persisted bin state. The bin count
// must match the configured one.
func (c *Calibrator) UnmarshalBinary(data []byte) error {
	var bins []CalibrationBin
	if err := json.Unmarshal(data, &bins); err != nil {
		return err
	}
	if len(bins) != c.cfg.Bins {
		return fmt.Errorf("%w: persisted %d bins, configured %d", ErrInvalidInput, len(bins), c.cfg.Bins)
	}
	c.bins = bins
	return nil
}
