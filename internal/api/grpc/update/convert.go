package update

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/machine-updater/internal/domain/update"
)

// Message field names.
const (
	fieldOwner      = "owner"
	fieldRepository = "repository"
	fieldToken      = "token"
	fieldTag        = "tag"
	fieldBranch     = "branch"
	fieldCommit     = "commit"

	fieldRunID     = "run_id"
	fieldRunning   = "running"
	fieldRemaining = "remaining_seconds"
	fieldSteps     = "steps"

	fieldSuccess   = "success"
	fieldCancelled = "cancelled"
	fieldError     = "error"

	fieldTime      = "time"
	fieldKind      = "kind"
	fieldStep      = "step"
	fieldStatus    = "status"
	fieldPercent   = "percent"
	fieldPhase     = "phase"
	fieldUnit      = "unit"
	fieldCompleted = "completed"
	fieldTotal     = "total"
	fieldStream    = "stream"
	fieldText      = "text"

	fieldName      = "name"
	fieldLabel     = "label"
	fieldStarted   = "started_at"
	fieldEnded     = "ended_at"
	fieldEstimated = "estimated_seconds"
)

var (
	errNilMessage   = errors.New("message is nil")
	errUnknownEvent = errors.New("unknown event kind")
	errNotTimestamp = errors.New("not an RFC 3339 timestamp string")
)

// RequestToProto converts a run request into an Execute message.
func RequestToProto(req domain.Request) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldOwner:      structpb.NewStringValue(req.Owner),
		fieldRepository: structpb.NewStringValue(req.Repository),
		fieldToken:      structpb.NewStringValue(req.Token),
		fieldTag:        structpb.NewStringValue(req.Tag),
		fieldBranch:     structpb.NewStringValue(req.Branch),
		fieldCommit:     structpb.NewStringValue(req.Commit),
	}}
}

// RequestFromProto converts an Execute message into a run request.
// Missing fields are empty.
func RequestFromProto(msg *structpb.Struct) domain.Request {
	return domain.Request{
		Owner:      stringField(msg, fieldOwner),
		Repository: stringField(msg, fieldRepository),
		Token:      stringField(msg, fieldToken),
		Tag:        stringField(msg, fieldTag),
		Branch:     stringField(msg, fieldBranch),
		Commit:     stringField(msg, fieldCommit),
	}
}

// RunIDToProto builds an Execute response.
func RunIDToProto(runID string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldRunID: structpb.NewStringValue(runID),
	}}
}

// RunIDFromProto reads the run ID of an Execute response.
func RunIDFromProto(msg *structpb.Struct) string {
	return stringField(msg, fieldRunID)
}

// CancelResultToProto converts a cancel result.
func CancelResultToProto(result domain.CancelResult) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldSuccess: structpb.NewBoolValue(result.Success),
		fieldError:   structpb.NewStringValue(result.Error),
	}}
}

// CancelResultFromProto converts a Cancel response.
func CancelResultFromProto(msg *structpb.Struct) domain.CancelResult {
	return domain.CancelResult{
		Success: boolField(msg, fieldSuccess),
		Error:   stringField(msg, fieldError),
	}
}

// StatusToProto converts a status snapshot.
func StatusToProto(status domain.Status) *structpb.Struct {
	steps := make([]*structpb.Value, 0, len(status.Steps))

	for i := range status.Steps {
		steps = append(steps, structpb.NewStructValue(stepToProto(&status.Steps[i])))
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldRunID:     structpb.NewStringValue(status.RunID),
		fieldRunning:   structpb.NewBoolValue(status.Running),
		fieldRemaining: structpb.NewNumberValue(float64(status.RemainingSeconds)),
		fieldSteps:     structpb.NewListValue(&structpb.ListValue{Values: steps}),
	}}
}

// StatusFromProto converts a Status response.
func StatusFromProto(msg *structpb.Struct) (domain.Status, error) {
	if msg == nil {
		return domain.Status{}, errNilMessage
	}

	status := domain.Status{
		RunID:            stringField(msg, fieldRunID),
		Running:          boolField(msg, fieldRunning),
		RemainingSeconds: int(numberField(msg, fieldRemaining)),
	}

	for _, value := range msg.GetFields()[fieldSteps].GetListValue().GetValues() {
		step, err := stepFromProto(value.GetStructValue())
		if err != nil {
			return domain.Status{}, err
		}

		status.Steps = append(status.Steps, step)
	}

	return status, nil
}

// EnvelopeToProto converts an event with its envelope into an Events message.
func EnvelopeToProto(env domain.Envelope) (*structpb.Struct, error) {
	if env.Event == nil {
		return nil, errNilMessage
	}

	fields := map[string]*structpb.Value{
		fieldRunID: structpb.NewStringValue(env.RunID),
		fieldTime:  timeValue(env.Time),
		fieldKind:  structpb.NewStringValue(env.Event.Kind()),
	}

	switch event := env.Event.(type) {
	case domain.StepChange:
		fields[fieldStep] = structpb.NewStringValue(string(event.Step))
		fields[fieldStatus] = structpb.NewStringValue(string(event.Status))
	case domain.SourceProgress:
		fields[fieldPercent] = structpb.NewNumberValue(event.Percent)
	case domain.BuildProgress:
		fields[fieldPhase] = structpb.NewStringValue(event.Phase)
		fields[fieldPercent] = structpb.NewNumberValue(float64(event.Percent))
		fields[fieldUnit] = structpb.NewStringValue(event.Unit)
		fields[fieldCompleted] = structpb.NewNumberValue(float64(event.Completed))
		fields[fieldTotal] = structpb.NewNumberValue(float64(event.Total))
	case domain.LogLine:
		fields[fieldStream] = structpb.NewStringValue(string(event.Stream))
		fields[fieldText] = structpb.NewStringValue(event.Text)
	case domain.End:
		fields[fieldSuccess] = structpb.NewBoolValue(event.Success)
		fields[fieldCancelled] = structpb.NewBoolValue(event.Cancelled)
		fields[fieldError] = structpb.NewStringValue(event.Error)
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownEvent, env.Event.Kind())
	}

	return &structpb.Struct{Fields: fields}, nil
}

// EnvelopeFromProto converts an Events message.
func EnvelopeFromProto(msg *structpb.Struct) (domain.Envelope, error) {
	if msg == nil {
		return domain.Envelope{}, errNilMessage
	}

	at, err := timeField(msg, fieldTime)
	if err != nil {
		return domain.Envelope{}, err
	}

	env := domain.Envelope{
		RunID: stringField(msg, fieldRunID),
		Time:  at,
	}

	kind := stringField(msg, fieldKind)

	switch kind {
	case domain.StepChange{}.Kind():
		env.Event = domain.StepChange{
			Step:   domain.StepName(stringField(msg, fieldStep)),
			Status: domain.StepStatus(stringField(msg, fieldStatus)),
		}
	case domain.SourceProgress{}.Kind():
		env.Event = domain.SourceProgress{Percent: numberField(msg, fieldPercent)}
	case domain.BuildProgress{}.Kind():
		env.Event = domain.BuildProgress{
			Phase:     stringField(msg, fieldPhase),
			Percent:   int(numberField(msg, fieldPercent)),
			Unit:      stringField(msg, fieldUnit),
			Completed: int(numberField(msg, fieldCompleted)),
			Total:     int(numberField(msg, fieldTotal)),
		}
	case domain.LogLine{}.Kind():
		env.Event = domain.LogLine{
			Stream: domain.Stream(stringField(msg, fieldStream)),
			Text:   stringField(msg, fieldText),
		}
	case domain.End{}.Kind():
		env.Event = domain.End{
			Success:   boolField(msg, fieldSuccess),
			Cancelled: boolField(msg, fieldCancelled),
			Error:     stringField(msg, fieldError),
		}
	default:
		return domain.Envelope{}, fmt.Errorf("%w: %q", errUnknownEvent, kind)
	}

	return env, nil
}

func stepToProto(step *domain.Step) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldName:      structpb.NewStringValue(string(step.Name)),
		fieldLabel:     structpb.NewStringValue(step.Label),
		fieldStatus:    structpb.NewStringValue(string(step.Status)),
		fieldStarted:   timeValue(step.StartedAt),
		fieldEnded:     timeValue(step.EndedAt),
		fieldEstimated: structpb.NewNumberValue(step.EstimatedSeconds),
	}}
}

func stepFromProto(msg *structpb.Struct) (domain.Step, error) {
	started, err := timeField(msg, fieldStarted)
	if err != nil {
		return domain.Step{}, err
	}

	ended, err := timeField(msg, fieldEnded)
	if err != nil {
		return domain.Step{}, err
	}

	return domain.Step{
		Name:             domain.StepName(stringField(msg, fieldName)),
		Label:            stringField(msg, fieldLabel),
		Status:           domain.StepStatus(stringField(msg, fieldStatus)),
		StartedAt:        started,
		EndedAt:          ended,
		EstimatedSeconds: numberField(msg, fieldEstimated),
	}, nil
}

// timeValue encodes t as an RFC 3339 string in UTC; zero time is null.
func timeValue(t time.Time) *structpb.Value {
	if t.IsZero() {
		return structpb.NewNullValue()
	}

	return structpb.NewStringValue(t.UTC().Format(time.RFC3339Nano))
}

func timeField(msg *structpb.Struct, name string) (time.Time, error) {
	value, ok := msg.GetFields()[name]
	if !ok {
		return time.Time{}, nil
	}

	switch kind := value.GetKind().(type) {
	case nil, *structpb.Value_NullValue:
		return time.Time{}, nil
	case *structpb.Value_StringValue:
		t, err := time.Parse(time.RFC3339Nano, kind.StringValue)
		if err != nil {
			return time.Time{}, fmt.Errorf("decode %s: %w", name, err)
		}

		return t, nil
	default:
		return time.Time{}, fmt.Errorf("decode %s: %w", name, errNotTimestamp)
	}
}

func stringField(msg *structpb.Struct, name string) string {
	return msg.GetFields()[name].GetStringValue()
}

func boolField(msg *structpb.Struct, name string) bool {
	return msg.GetFields()[name].GetBoolValue()
}

func numberField(msg *structpb.Struct, name string) float64 {
	return msg.GetFields()[name].GetNumberValue()
}
