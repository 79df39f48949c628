package app

import (
	"paper2slides/pkg/domain"
	"paper2slides/services/generator/internal/backend"
)

const (
	initialStep    = "Initializing..."
	processingStep = "Processing..."
)

func newWorkflow(convID string, cfg domain.GenerationConfig) *domain.WorkflowState {
	return &domain.WorkflowState{
		OutputType:     cfg.Output,
		Style:          cfg.Style,
		Content:        cfg.Content,
		ConversationID: convID,
		Stages:         domain.NewStages(),
		CurrentStep:    initialStep,
	}
}

func mapStageStatus(backendStatus string) domain.StageStatus {
	switch backendStatus {
	case "completed":
		return domain.StageCompleted
	case "running":
		return domain.StageActive
	case "failed":
		return domain.StageFailed
	default:
		return domain.StagePending
	}
}

// applyStatus folds one status poll into ws. Completion requires every known
// stage to be completed; failure is any stage the backend reports as failed.
func applyStatus(ws *domain.WorkflowState, st backend.StatusResponse) (allCompleted, anyFailed bool) {
	allCompleted = len(ws.Stages) > 0
	for i := range ws.Stages {
		ws.Stages[i].Status = mapStageStatus(st.Stages[ws.Stages[i].ID])
		if ws.Stages[i].Status != domain.StageCompleted {
			allCompleted = false
		}
	}
	for _, s := range st.Stages {
		if s == "failed" {
			anyFailed = true
			break
		}
	}
	ws.CurrentStep = processingStep
	for _, s := range ws.Stages {
		if s.Status == domain.StageActive {
			ws.CurrentStep = s.Name + ": " + s.Description
			break
		}
	}
	ws.Error = st.Error
	return allCompleted, anyFailed
}

func failureMessage(backendErr string) string {
	if backendErr == "" {
		backendErr = "Unknown error occurred"
	}
	return "Generation failed: " + backendErr
}
