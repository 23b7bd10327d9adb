package process

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"casedata/internal/config"
	"casedata/internal/logger"
)

const SignalErrandUpdated = "errand_updated"

// StartInput is the argument of the errand workflow.
type StartInput struct {
	MunicipalityID string `json:"municipalityId"`
	ErrandID       int64  `json:"errandId"`
}

type UpdateSignal struct {
	MunicipalityID string `json:"municipalityId"`
}

type workflowClient interface {
	ExecuteWorkflow(ctx context.Context, options temporalsdkclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (temporalsdkclient.WorkflowRun, error)
	SignalWorkflow(ctx context.Context, workflowID string, runID string, signalName string, arg interface{}) error
}

// TemporalClient runs one workflow per errand; the workflow id doubles as the process id.
type TemporalClient struct {
	client    workflowClient
	taskQueue string
	workflow  string
	close     func()
}

// DialTemporal creates a lazily connecting Temporal client, so an unreachable server surfaces on
// the first call instead of at startup.
func DialTemporal(eng config.EngineConfig, log *logger.Logger) (*TemporalClient, error) {
	opts := temporalsdkclient.Options{
		HostPort:  eng.Address,
		Namespace: eng.TemporalNamespace,
	}
	if log != nil {
		opts.Logger = log
	}
	c, err := temporalsdkclient.NewLazyClient(opts)
	if err != nil {
		return nil, fmt.Errorf("temporal client (address=%s): %w", eng.Address, err)
	}
	return &TemporalClient{client: c, taskQueue: eng.TaskQueue, workflow: eng.Workflow, close: c.Close}, nil
}

func WorkflowID(municipalityID string, errandID int64) string {
	return fmt.Sprintf("errand-%s-%d", municipalityID, errandID)
}

func (t *TemporalClient) StartProcess(ctx context.Context, municipalityID string, errandID int64) (string, error) {
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    WorkflowID(municipalityID, errandID),
		TaskQueue:             t.taskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
	}
	_, err := t.client.ExecuteWorkflow(ctx, opts, t.workflow, StartInput{MunicipalityID: municipalityID, ErrandID: errandID})
	if err != nil {
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &already) {
			return opts.ID, nil
		}
		return "", describeRPC("start workflow", err)
	}
	return opts.ID, nil
}

func (t *TemporalClient) UpdateProcess(ctx context.Context, municipalityID, processID string) error {
	err := t.client.SignalWorkflow(ctx, processID, "", SignalErrandUpdated, UpdateSignal{MunicipalityID: municipalityID})
	if err != nil {
		return describeRPC("signal workflow", err)
	}
	return nil
}

func (t *TemporalClient) Close() {
	if t.close != nil {
		t.close()
	}
}

func describeRPC(op string, err error) error {
	s, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	transient := false
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		transient = true
	}
	return fmt.Errorf("%s (grpc %s, transient=%t): %w", op, s.Code(), transient, err)
}
