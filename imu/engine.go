package imu

import (
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/fieldsense/inertial/fusion"
	"github.com/fieldsense/inertial/spatialmath"
)

// priorCovarianceScale is the tight diagonal covariance pinning the first
// state of each epoch so the wider estimation problem stays well posed.
const priorCovarianceScale = 1e-9

// Prior optionally seeds the kinematic part of the start state at SetStart.
type Prior struct {
	Orientation quat.Number
	Position    r3.Vector
	Velocity    r3.Vector
}

// Engine owns a buffer of pending samples and the current state. It selects
// integration intervals, invokes the preintegrator, predicts new states,
// answers pose queries, and emits optimizer transactions. A single coarse
// lock covers the buffer and the current state, so all operations may be
// called from concurrent goroutines.
type Engine struct {
	mu      sync.Mutex
	params  Params
	logger  golog.Logger
	preint  *Preintegrator
	gravity r3.Vector

	buf          window
	cur          State
	started      bool
	priorEmitted bool
	history      *History
}

// NewEngine validates the params and returns an engine in the uninitialized
// lifecycle state; SetStart must run before factor registration or pose
// queries.
func NewEngine(params Params, logger golog.Logger) (*Engine, error) {
	if err := params.Validate("imu"); err != nil {
		return nil, err
	}
	historySize := params.HistorySize
	if historySize == 0 {
		historySize = defaultHistorySize
	}
	return &Engine{
		params:  params,
		logger:  logger,
		preint:  NewPreintegrator(params, logger),
		gravity: params.gravity(),
		buf:     window{span: params.MaxBufferSpan},
		history: newHistory(historySize),
	}, nil
}

// AddSample appends a sample to the chronological buffer. Out-of-order input
// is dropped and logged, never integrated, and is not an error to the caller.
// Exceeding the configured buffer span surfaces an OverflowError; the caller
// owns backpressure policy.
func (e *Engine) AddSample(s Sample) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.buf.push(s); err != nil {
		if errors.Is(err, errOutOfOrder) {
			e.logger.Debugw("dropping out-of-order sample", "stamp", s.Stamp.UnixNano())
			return nil
		}
		e.logger.Warnw("sample buffer overflow", "error", err)
		return err
	}
	return nil
}

// SetStart resets the current state at the given time and begins a new
// preintegration epoch. Without a prior, the state starts at identity
// orientation with zero position and velocity; biases carry over from the
// previous state when one exists. Buffered samples stamped before the start
// are discarded.
func (e *Engine) SetStart(t time.Time, prior *Prior) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := NewState(t, e.params.Source)
	if prior != nil {
		next.SetOrientation(prior.Orientation)
		next.SetPosition(prior.Position)
		next.SetVelocity(prior.Velocity)
	}
	if e.started {
		next.SetGyroBias(e.cur.GyroBias())
		next.SetAccelBias(e.cur.AccelBias())
	}
	if dropped := e.buf.evictBefore(t); dropped > 0 {
		e.logger.Debugw("discarded buffered samples before the new start", "count", dropped)
	}
	e.cur = next
	e.started = true
	e.priorEmitted = false
	e.history.add(next)
}

// CurrentState returns a snapshot of the current state.
func (e *Engine) CurrentState() (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return State{}, ErrNotStarted
	}
	return e.cur, nil
}

// UpdateState applies an optimizer solution to the current state. It reports
// false, leaving the state untouched, when the solution does not contain all
// of the state's variable identities.
func (e *Engine) UpdateState(solution fusion.Solution) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return false, ErrNotStarted
	}
	return e.cur.Update(solution), nil
}

// RecentStates returns the bounded window of recently registered states,
// oldest first.
func (e *Engine) RecentStates() []State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.States()
}

// PredictState applies a delta plus gravity compensation over the delta's
// duration to a base state. It is a pure function of its arguments; neither
// the buffer nor the current state is touched.
func (e *Engine) PredictState(d Delta, base State) (State, error) {
	dt := d.Dur.Seconds()
	q := base.Orientation()
	orientation := spatialmath.Normalize(quat.Mul(q, d.Rot))
	velocity := base.Velocity().Add(e.gravity.Mul(dt)).Add(spatialmath.RotateVec(q, d.Vel))
	position := base.Position().
		Add(base.Velocity().Mul(dt)).
		Add(e.gravity.Mul(0.5 * dt * dt)).
		Add(spatialmath.RotateVec(q, d.Pos))

	if !spatialmath.QuaternionFinite(orientation) ||
		!spatialmath.VectorFinite(position) || !spatialmath.VectorFinite(velocity) {
		return State{}, &NumericError{Op: "prediction", Detail: "predicted state is not finite"}
	}

	out := NewState(base.Stamp().Add(d.Dur), base.Source())
	out.SetOrientation(orientation)
	out.SetPosition(position)
	out.SetVelocity(velocity)
	out.SetGyroBias(base.GyroBias())
	out.SetAccelBias(base.AccelBias())
	return out, nil
}

// GetPose integrates the buffered sub-run up to the query time and returns
// the world-to-body transform there. It is read only: repeated calls at
// increasing times are consistent and neither the buffer nor the current
// state changes. Querying outside [current state stamp, newest buffered
// sample stamp] fails with a TimeRangeError.
func (e *Engine) GetPose(t time.Time) (spatialmath.Pose, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return spatialmath.Pose{}, ErrNotStarted
	}
	begin := e.cur.Stamp()
	end := begin
	if newest, ok := e.buf.newest(); ok {
		end = newest.Stamp
	}
	if t.Before(begin) || t.After(end) {
		return spatialmath.Pose{}, &TimeRangeError{Query: t, Begin: begin, End: end}
	}
	run := e.buf.runBefore(t)
	d, err := e.preint.Integrate(run, e.cur.Bias(), begin, t)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	predicted, err := e.PredictState(d, e.cur)
	if err != nil {
		return spatialmath.Pose{}, err
	}
	pose := spatialmath.Pose{Rotation: predicted.Orientation(), Translation: predicted.Position()}
	if e.params.Extrinsic != nil {
		pose = spatialmath.Compose(pose, *e.params.Extrinsic)
	}
	return pose, nil
}

// RegisterFactor integrates all buffered samples from the current state up to
// the end time, predicts the end state, and packages the new variables and
// constraints into a transaction. The first registration of an epoch also
// pins the start state with a tight absolute prior. On success the current
// state advances to the end time, consumed samples are discarded, and the
// bias carried into the next epoch is returned explicitly alongside the
// transaction. With no samples reaching the end time it fails with
// ErrInsufficientData and mutates nothing.
func (e *Engine) RegisterFactor(end time.Time) (*fusion.Transaction, Bias, error) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil, Bias{}, ErrNotStarted
	}
	start := e.cur.Stamp()
	if !end.After(start) {
		e.mu.Unlock()
		return nil, Bias{}, errors.Errorf(
			"factor end time %v does not advance past the current state at %v",
			end.UnixNano(), start.UnixNano())
	}
	newest, ok := e.buf.newest()
	if !ok || newest.Stamp.Before(end) {
		e.mu.Unlock()
		return nil, Bias{}, ErrInsufficientData
	}
	run := e.buf.runBefore(end)
	if len(run) == 0 {
		e.mu.Unlock()
		return nil, Bias{}, ErrInsufficientData
	}

	d, err := e.preint.Integrate(run, e.cur.Bias(), start, end)
	if err != nil {
		e.mu.Unlock()
		return nil, Bias{}, err
	}
	endState, err := e.PredictState(d, e.cur)
	if err != nil {
		e.mu.Unlock()
		return nil, Bias{}, err
	}

	txn, err := e.buildTransaction(&d, &endState)
	if err != nil {
		e.mu.Unlock()
		return nil, Bias{}, errors.Wrap(err, "packaging preintegrated factor")
	}

	carry := e.cur.Bias()
	e.cur = endState
	e.priorEmitted = true
	e.buf.evictBefore(end)
	e.history.add(endState)
	hook := e.params.StateHook
	e.mu.Unlock()

	if hook != nil {
		hook(endState)
	}
	return txn, carry, nil
}

// buildTransaction packages the start/end states and the integrated delta.
// Must be called with the engine lock held and before state advances.
func (e *Engine) buildTransaction(d *Delta, endState *State) (*fusion.Transaction, error) {
	txn := fusion.NewTransaction(endState.Stamp())

	startVars := e.cur.Variables()
	endVars := endState.Variables()
	if !e.priorEmitted {
		for _, v := range startVars {
			txn.AddVariable(v)
		}
		prior, err := fusion.NewConstraint(
			fusion.Absolute, e.params.Source, startVars, e.cur.MeanValues(), tightPriorCovariance())
		if err != nil {
			return nil, err
		}
		txn.AddConstraint(prior)
	}
	for _, v := range endVars {
		txn.AddVariable(v)
	}

	relVars := make([]fusion.Variable, 0, len(startVars)+len(endVars))
	relVars = append(relVars, startVars...)
	relVars = append(relVars, endVars...)
	mean := d.MeanValues(endState.Bias().Sub(e.cur.Bias()))
	relative, err := fusion.NewConstraint(fusion.Relative, e.params.Source, relVars, mean, d.Covariance)
	if err != nil {
		return nil, err
	}
	txn.AddConstraint(relative)
	return txn, nil
}

func tightPriorCovariance() *mat.SymDense {
	cov := mat.NewSymDense(fusion.ErrorDim, nil)
	for i := 0; i < fusion.ErrorDim; i++ {
		cov.SetSym(i, i, priorCovarianceScale)
	}
	return cov
}
