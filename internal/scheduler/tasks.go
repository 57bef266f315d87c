package scheduler

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TaskRecalculateDeal = "leadscore.recalculate_deal"

const TaskRecalculateAll = "leadscore.recalculate_all"

const TaskRecalculateStale = "leadscore.recalculate_stale"

type RecalculateDealPayload struct {
	OrganizationID uuid.UUID `json:"organizationId"`
	DealID         uuid.UUID `json:"dealId"`
	Trigger        string    `json:"trigger"`
}

type RecalculateAllPayload struct {
	OrganizationID uuid.UUID `json:"organizationId"`
	Actor          string    `json:"actor"`
}

func NewRecalculateDealTask(payload RecalculateDealPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecalculateDeal, data), nil
}

func ParseRecalculateDealPayload(task *asynq.Task) (RecalculateDealPayload, error) {
	var payload RecalculateDealPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RecalculateDealPayload{}, err
	}
	return payload, nil
}

func NewRecalculateAllTask(payload RecalculateAllPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecalculateAll, data), nil
}

func ParseRecalculateAllPayload(task *asynq.Task) (RecalculateAllPayload, error) {
	var payload RecalculateAllPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RecalculateAllPayload{}, err
	}
	return payload, nil
}

// NewRecalculateStaleTask has no payload: the sweep covers every tenant.
func NewRecalculateStaleTask() *asynq.Task {
	return asynq.NewTask(TaskRecalculateStale, nil)
}
