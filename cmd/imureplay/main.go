// Package main contains a command to replay a recorded inertial log through
// the preintegration engine, registering factors at a fixed keyframe cadence
// and printing the predicted states and emitted transactions.
package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gopkg.in/yaml.v3"

	"github.com/fieldsense/inertial/imu"
)

var logger = golog.NewDevelopmentLogger("imureplay")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile  string  `flag:"config,usage=path to a YAML engine configuration"`
	SamplesFile string  `flag:"samples,required,usage=path to a CSV inertial log (t,wx,wy,wz,ax,ay,az)"`
	Keyframe    float64 `flag:"keyframe,default=1,usage=keyframe interval in seconds"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Keyframe <= 0 {
		return errors.New("keyframe interval must be positive")
	}

	params := imu.Params{Source: "imureplay"}
	if argsParsed.ConfigFile != "" {
		loaded, err := loadParams(argsParsed.ConfigFile)
		if err != nil {
			return errors.Wrap(err, "loading config")
		}
		params = loaded
	}

	samples, err := loadSamples(argsParsed.SamplesFile)
	if err != nil {
		return errors.Wrap(err, "loading samples")
	}
	if len(samples) == 0 {
		return errors.New("sample log is empty")
	}

	return replay(ctx, params, samples, time.Duration(argsParsed.Keyframe*float64(time.Second)), logger)
}

func replay(
	ctx context.Context,
	params imu.Params,
	samples []imu.Sample,
	keyframe time.Duration,
	logger golog.Logger,
) error {
	engine, err := imu.NewEngine(params, logger)
	if err != nil {
		return err
	}
	engine.SetStart(samples[0].Stamp, nil)
	nextKeyframe := samples[0].Stamp.Add(keyframe)

	for _, s := range samples {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := engine.AddSample(s); err != nil {
			return err
		}
		if s.Stamp.Before(nextKeyframe) {
			continue
		}
		txn, carry, err := engine.RegisterFactor(nextKeyframe)
		if err != nil {
			if errors.Is(err, imu.ErrInsufficientData) {
				continue
			}
			return err
		}
		state, err := engine.CurrentState()
		if err != nil {
			return err
		}
		logger.Infow("registered factor",
			"stamp", txn.Stamp(),
			"variables", len(txn.Variables()),
			"constraints", len(txn.Constraints()),
			"carry_gyro_bias", carry.Gyro,
			"carry_accel_bias", carry.Accel,
		)
		logger.Info("\n" + state.String())
		nextKeyframe = nextKeyframe.Add(keyframe)
	}
	return nil
}

func loadParams(path string) (imu.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return imu.Params{}, err
	}
	var params imu.Params
	if err := yaml.Unmarshal(data, &params); err != nil {
		return imu.Params{}, err
	}
	return params, params.Validate("imu")
}

// loadSamples reads a CSV log with one sample per row: timestamp in seconds,
// angular velocity in rad/s, linear acceleration in m/s^2.
func loadSamples(path string) ([]imu.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 7
	var samples []imu.Sample
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		fields := make([]float64, len(record))
		for i, raw := range record {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "field %d", i)
			}
			fields[i] = v
		}
		samples = append(samples, imu.Sample{
			Stamp:              time.Unix(0, int64(fields[0]*float64(time.Second))),
			AngularVelocity:    r3.Vector{X: fields[1], Y: fields[2], Z: fields[3]},
			LinearAcceleration: r3.Vector{X: fields[4], Y: fields[5], Z: fields[6]},
		})
	}
	return samples, nil
}
